package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rankvote/internal/crypto"
	"github.com/eldtechnologies/rankvote/internal/gateway"
	"github.com/eldtechnologies/rankvote/internal/handlers"
	"github.com/eldtechnologies/rankvote/internal/polls"
	"github.com/eldtechnologies/rankvote/internal/store"
)

const testSecret = "router-test-secret-0123"

func newTestServer(t *testing.T, redisClient *redis.Client) (*httptest.Server, *crypto.Authority) {
	t.Helper()

	st := store.NewMemoryStore(0)
	service := polls.NewService(st, time.Hour, zerolog.Nop())
	authority, err := crypto.NewAuthority(testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	gw := gateway.New(service, authority, zerolog.Nop(), gateway.Options{})

	router := NewRouter(zerolog.Nop(), Deps{
		Polls:     service,
		Authority: authority,
		Store:     st,
		StoreName: "memory",
		Gateway:   gw,
		Redis:     redisClient,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		gw.Close()
		srv.Close()
		st.Close()
	})
	return srv, authority
}

func do(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func createPoll(t *testing.T, base string) handlers.SessionResponse {
	t.Helper()
	resp, body := do(t, http.MethodPost, base+"/polls", "", handlers.CreatePollRequest{
		Topic: "Lunch", VotesPerVoter: 2, Name: "Alice",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /polls status = %d body = %s", resp.StatusCode, body)
	}
	var s handlers.SessionResponse
	if err := json.Unmarshal(body, &s); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateJoinGet(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	created := createPoll(t, srv.URL)
	if created.AccessToken == "" || created.Poll == nil || created.Poll.HasStarted {
		t.Fatalf("create response = %+v", created)
	}

	resp, body := do(t, http.MethodPost, srv.URL+"/polls/join", "", handlers.JoinPollRequest{
		PollID: strings.ToLower(created.Poll.ID), Name: "Bob",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join status = %d body = %s", resp.StatusCode, body)
	}
	var joined handlers.SessionResponse
	json.Unmarshal(body, &joined)
	if joined.Poll.ID != created.Poll.ID || joined.AccessToken == "" {
		t.Errorf("join response = %+v", joined)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/polls/"+created.Poll.ID, created.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d body = %s", resp.StatusCode, body)
	}
	var got handlers.PollResponse
	json.Unmarshal(body, &got)
	if !got.Summary.IsAdmin || got.Poll.Topic != "Lunch" {
		t.Errorf("get response = %+v", got)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"invalid votes", "/polls", handlers.CreatePollRequest{Topic: "x", VotesPerVoter: 9, Name: "a"}, http.StatusBadRequest},
		{"long name", "/polls", handlers.CreatePollRequest{Topic: "x", VotesPerVoter: 1, Name: strings.Repeat("a", 30)}, http.StatusBadRequest},
		{"bad pollID", "/polls/join", handlers.JoinPollRequest{PollID: "AB", Name: "Bob"}, http.StatusBadRequest},
		{"unknown poll", "/polls/join", handlers.JoinPollRequest{PollID: "ZZZZZZ", Name: "Bob"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, http.MethodPost, srv.URL+tt.path, "", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tt.status, body)
			}
			var e handlers.ErrorResponse
			if err := json.Unmarshal(body, &e); err != nil {
				t.Fatal(err)
			}
			if e.StatusCode != tt.status || e.Message == "" || e.Error != http.StatusText(tt.status) {
				t.Errorf("envelope = %+v", e)
			}
		})
	}
}

func TestCredentialGate(t *testing.T) {
	srv, authority := newTestServer(t, nil)
	created := createPoll(t, srv.URL)

	other, _ := authority.Issue(crypto.Identity{PollID: "OTHER1", UserID: "u", Name: "n"})
	past, _ := crypto.NewAuthorityWithClock(testSecret, time.Hour, func() time.Time {
		return time.Now().Add(-3 * time.Hour)
	})
	expired, _ := past.Issue(crypto.Identity{PollID: created.Poll.ID, UserID: created.Poll.AdminID, Name: "Alice"})

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "abc.def.ghi"},
		{"other poll", other},
		{"expired", expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, http.MethodGet, srv.URL+"/polls/"+created.Poll.ID, tt.token, nil)
			if resp.StatusCode != http.StatusForbidden {
				t.Errorf("status = %d, want 403", resp.StatusCode)
			}
		})
	}

	resp, _ := do(t, http.MethodPost, srv.URL+"/polls/rejoin", "", map[string]string{"accessToken": expired})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("rejoin with expired token status = %d, want 403", resp.StatusCode)
	}
}

func TestRejoinWithBodyToken(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	created := createPoll(t, srv.URL)

	for _, path := range []string{"/polls/rejoin", "/polls/add-participant"} {
		resp, body := do(t, http.MethodPost, srv.URL+path, "", map[string]string{"accessToken": created.AccessToken})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d body = %s", path, resp.StatusCode, body)
		}
		var p struct {
			Participants map[string]string `json:"participants"`
		}
		json.Unmarshal(body, &p)
		if p.Participants[created.Poll.AdminID] != "Alice" {
			t.Errorf("%s participants = %v", path, p.Participants)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, body := do(t, http.MethodGet, srv.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	var h handlers.HealthResponse
	json.Unmarshal(body, &h)
	if h.Status != "healthy" || h.Checks["memory"].Status != "pass" {
		t.Errorf("health = %+v", h)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/metrics", "", nil)
	if resp.StatusCode != http.StatusOK || !bytes.Contains(body, []byte("rankvote_http_requests_total")) {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestWebsocketThroughMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	created := createPoll(t, srv.URL)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/polls/socket?token=" + created.AccessToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var fr struct {
		Event string `json:"event"`
	}
	if err := conn.ReadJSON(&fr); err != nil {
		t.Fatal(err)
	}
	if fr.Event != gateway.EventPollUpdated {
		t.Errorf("first event = %q", fr.Event)
	}

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/polls/socket", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("unauthenticated dial: err = %v resp = %v", err, resp)
	}
}

func TestRateLimitedCreate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	srv, _ := newTestServer(t, client)

	var last int
	for i := 0; i < 21; i++ {
		resp, _ := do(t, http.MethodPost, srv.URL+"/polls", "", handlers.CreatePollRequest{
			Topic: "Lunch", VotesPerVoter: 1, Name: "Alice",
		})
		last = resp.StatusCode
		if i < 20 && last != http.StatusCreated {
			t.Fatalf("request %d status = %d", i+1, last)
		}
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("21st request status = %d, want 429", last)
	}
}
