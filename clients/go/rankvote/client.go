// Package rankvote provides a client for the rankvote poll server.
package rankvote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession is returned by calls that need a saved access token.
var ErrNoSession = errors.New("no active session; create or join a poll first")

// Client is a rankvote API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Session    *Session
	HTTPClient *http.Client
}

// Session is the credential for one poll, persisted between runs.
type Session struct {
	PollID      string `json:"pollID"`
	UserID      string `json:"userID"`
	Name        string `json:"name"`
	AccessToken string `json:"accessToken"`
}

// NewClient creates a new client and loads any saved session.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("RANKVOTE_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".rankvote")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadSession()
	return c
}

// LoadSession loads the saved session from disk.
func (c *Client) LoadSession() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "session.json"))
	if err != nil {
		return err
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	c.Session = &s
	return nil
}

// SaveSession writes the current session to disk.
func (c *Client) SaveSession() error {
	if c.Session == nil {
		return ErrNoSession
	}
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(c.Session, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "session.json"), data, 0600)
}

// ClearSession forgets the saved session.
func (c *Client) ClearSession() error {
	c.Session = nil
	err := os.Remove(filepath.Join(c.ConfigDir, "session.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Kind       string `json:"error"`
	Body       []byte `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rankvote error %d: %s", e.StatusCode, e.Message)
}

// doRequest performs an HTTP request, optionally with a bearer token.
func (c *Client) doRequest(method, path string, body any, token string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{}
		json.Unmarshal(respBody, apiErr)
		apiErr.StatusCode = resp.StatusCode
		apiErr.Body = respBody
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}

	return respBody, nil
}

// Nomination is a candidate option.
type Nomination struct {
	UserID string `json:"userID"`
	Text   string `json:"text"`
}

// Result is one scored nomination.
type Result struct {
	NominationID   string  `json:"nominationID"`
	NominationText string  `json:"nominationText"`
	Score          float64 `json:"score"`
}

// Poll is the room document as served by the API.
type Poll struct {
	ID            string                `json:"id"`
	Topic         string                `json:"topic"`
	VotesPerVoter int                   `json:"votesPerVoter"`
	Participants  map[string]string     `json:"participants"`
	AdminID       string                `json:"adminID"`
	Nominations   map[string]Nomination `json:"nominations"`
	Rankings      map[string][]string   `json:"rankings"`
	Results       []Result              `json:"results"`
	HasStarted    bool                  `json:"hasStarted"`
	HasEnded      bool                  `json:"hasEnded"`
}

// Summary holds values the server derives for the caller.
type Summary struct {
	IsAdmin          bool `json:"isAdmin"`
	ParticipantCount int  `json:"participantCount"`
	NominationCount  int  `json:"nominationCount"`
	RankingsCount    int  `json:"rankingsCount"`
	CanStartVote     bool `json:"canStartVote"`
	HasVoted         bool `json:"hasVoted"`
}

// SessionResponse is returned by create and join.
type SessionResponse struct {
	Poll        *Poll  `json:"poll"`
	AccessToken string `json:"accessToken"`
}

// PollResponse is returned by GetPoll.
type PollResponse struct {
	Poll    *Poll   `json:"poll"`
	Summary Summary `json:"summary"`
}

// CreatePoll creates a poll with the caller as admin and saves the session.
func (c *Client) CreatePoll(topic string, votesPerVoter int, name string) (*SessionResponse, error) {
	req := map[string]any{"topic": topic, "votesPerVoter": votesPerVoter, "name": name}
	return c.startSession("/polls", req, name)
}

// JoinPoll joins an existing poll and saves the session.
func (c *Client) JoinPoll(pollID, name string) (*SessionResponse, error) {
	req := map[string]string{"pollID": pollID, "name": name}
	return c.startSession("/polls/join", req, name)
}

func (c *Client) startSession(path string, req any, name string) (*SessionResponse, error) {
	respBody, err := c.doRequest("POST", path, req, "")
	if err != nil {
		return nil, err
	}

	var resp SessionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}

	userID, err := subject(resp.AccessToken)
	if err != nil {
		return nil, err
	}

	c.Session = &Session{
		PollID:      resp.Poll.ID,
		UserID:      userID,
		Name:        name,
		AccessToken: resp.AccessToken,
	}
	if err := c.SaveSession(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// subject reads the user ID from a token. The server verifies tokens; the
// client only needs to know who it is.
func subject(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("parse access token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("access token has no subject")
	}
	return claims.Subject, nil
}

// Rejoin re-registers the saved session as a participant.
func (c *Client) Rejoin() (*Poll, error) {
	if c.Session == nil {
		return nil, ErrNoSession
	}

	respBody, err := c.doRequest("POST", "/polls/rejoin", map[string]string{"accessToken": c.Session.AccessToken}, "")
	if err != nil {
		return nil, err
	}

	var poll Poll
	if err := json.Unmarshal(respBody, &poll); err != nil {
		return nil, err
	}
	return &poll, nil
}

// GetPoll fetches the session's poll.
func (c *Client) GetPoll() (*PollResponse, error) {
	if c.Session == nil {
		return nil, ErrNoSession
	}

	respBody, err := c.doRequest("GET", "/polls/"+c.Session.PollID, nil, c.Session.AccessToken)
	if err != nil {
		return nil, err
	}

	var resp PollResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the server health report.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Checks  map[string]struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"checks"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	respBody, err := c.doRequest("GET", "/health", nil, "")
	if err != nil {
		// 503 still carries a report
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
			return nil, err
		}
		respBody = apiErr.Body
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
