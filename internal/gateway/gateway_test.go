package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rankvote/internal/crypto"
	"github.com/eldtechnologies/rankvote/internal/models"
	"github.com/eldtechnologies/rankvote/internal/polls"
	"github.com/eldtechnologies/rankvote/internal/store"
)

const testSecret = "gateway-test-secret-0123"

type fixture struct {
	server    *httptest.Server
	service   *polls.Service
	authority *crypto.Authority
	gateway   *Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemoryStore(0)
	service := polls.NewService(st, time.Hour, zerolog.Nop())
	authority, err := crypto.NewAuthority(testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	gw := New(service, authority, zerolog.Nop(), Options{})
	server := httptest.NewServer(gw)

	t.Cleanup(func() {
		gw.Close()
		server.Close()
		st.Close()
	})
	return &fixture{server: server, service: service, authority: authority, gateway: gw}
}

func (f *fixture) token(t *testing.T, pollID, userID, name string) string {
	t.Helper()
	tok, err := f.authority.Issue(crypto.Identity{PollID: pollID, UserID: userID, Name: name})
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (f *fixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/polls/socket?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (fr frame) poll(t *testing.T) *models.Poll {
	t.Helper()
	var p models.Poll
	if err := json.Unmarshal(fr.Data, &p); err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	return &p
}

func (fr frame) exception(t *testing.T) Exception {
	t.Helper()
	var e Exception
	if err := json.Unmarshal(fr.Data, &e); err != nil {
		t.Fatalf("decode exception: %v", err)
	}
	return e
}

// waitFor reads frames until match accepts one.
func waitFor(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var fr frame
		if err := conn.ReadJSON(&fr); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if match(fr) {
			return fr
		}
	}
}

func event(name string) func(frame) bool {
	return func(fr frame) bool { return fr.Event == name }
}

func send(t *testing.T, conn *websocket.Conn, name string, data any) {
	t.Helper()
	raw, _ := json.Marshal(data)
	if err := conn.WriteJSON(Inbound{Event: name, Data: raw}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

func nominationID(t *testing.T, p *models.Poll, text string) string {
	t.Helper()
	for id, n := range p.Nominations {
		if n.Text == text {
			return id
		}
	}
	t.Fatalf("no nomination %q", text)
	return ""
}

func createPoll(t *testing.T, f *fixture, votes int) (*models.Poll, string) {
	t.Helper()
	poll, adminID, err := f.service.CreatePoll(context.Background(), polls.CreatePollParams{
		Topic: "Lunch", VotesPerVoter: votes, Name: "Alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	return poll, adminID
}

func TestHandshakeRejected(t *testing.T) {
	f := newFixture(t)
	base := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/polls/socket"

	expired, _ := crypto.NewAuthorityWithClock(testSecret, time.Hour, func() time.Time {
		return time.Now().Add(-2 * time.Hour)
	})
	old, _ := expired.Issue(crypto.Identity{PollID: "AAAAAA", UserID: "u", Name: "n"})

	tests := []struct {
		name string
		url  string
	}{
		{"missing token", base},
		{"garbage token", base + "?token=not-a-token"},
		{"expired token", base + "?token=" + old},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(tt.url, nil)
			if err == nil {
				t.Fatal("expected handshake failure")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Fatalf("response = %v, want 403", resp)
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=q" }, "q"},
		{"header", func(r *http.Request) { r.Header.Set("token", "h") }, "h"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer b") }, "b"},
		{"none", func(r *http.Request) {}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/polls/socket", nil)
			tt.setup(r)
			if got := tokenFromRequest(r); got != tt.want {
				t.Errorf("tokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBindBroadcastsParticipants(t *testing.T) {
	f := newFixture(t)
	poll, adminID := createPoll(t, f, 2)

	alice := f.dial(t, f.token(t, poll.ID, adminID, "Alice"))
	p := waitFor(t, alice, event(EventPollUpdated)).poll(t)
	if p.Participants[adminID] != "Alice" {
		t.Fatalf("participants = %v", p.Participants)
	}

	bob := f.dial(t, f.token(t, poll.ID, "bob", "Bob"))
	waitFor(t, bob, event(EventPollUpdated))

	// Alice sees Bob arrive.
	waitFor(t, alice, func(fr frame) bool {
		return fr.Event == EventPollUpdated && len(fr.poll(t).Participants) == 2
	})

	// And leave.
	bob.Close()
	waitFor(t, alice, func(fr frame) bool {
		return fr.Event == EventPollUpdated && len(fr.poll(t).Participants) == 1
	})
}

func TestBindUnknownPoll(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.token(t, "ZZZZZZ", "u", "Ghost"))

	fr := waitFor(t, conn, event(EventException))
	if exc := fr.exception(t); exc.Type != ExceptionNotFound {
		t.Errorf("exception = %+v, want NotFound", exc)
	}
}

func TestAdminGuard(t *testing.T) {
	f := newFixture(t)
	poll, adminID := createPoll(t, f, 1)

	f.dial(t, f.token(t, poll.ID, adminID, "Alice"))
	bob := f.dial(t, f.token(t, poll.ID, "bob", "Bob"))
	waitFor(t, bob, event(EventPollUpdated))

	for _, name := range []string{EventStartVote, EventClosePoll, EventCancelPoll} {
		send(t, bob, name, nil)
		fr := waitFor(t, bob, event(EventException))
		if exc := fr.exception(t); exc.Type != ExceptionUnauthorized {
			t.Errorf("%s: exception = %+v, want Unauthorized", name, exc)
		}
	}

	got, err := f.service.GetPoll(context.Background(), poll.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.HasStarted {
		t.Error("non-admin started the poll")
	}
}

func TestBadFrames(t *testing.T) {
	f := newFixture(t)
	poll, adminID := createPoll(t, f, 1)
	conn := f.dial(t, f.token(t, poll.ID, adminID, "Alice"))
	waitFor(t, conn, event(EventPollUpdated))

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	if exc := waitFor(t, conn, event(EventException)).exception(t); exc.Type != ExceptionBadRequest {
		t.Errorf("bad json exception = %+v", exc)
	}

	send(t, conn, "dance", nil)
	if exc := waitFor(t, conn, event(EventException)).exception(t); exc.Type != ExceptionBadRequest {
		t.Errorf("unknown event exception = %+v", exc)
	}

	send(t, conn, EventSubmitRankings, RankingsData{Rankings: []string{"x"}})
	if exc := waitFor(t, conn, event(EventException)).exception(t); exc.Type != ExceptionBadRequest {
		t.Errorf("rank before start exception = %+v", exc)
	}
}

func TestLunchOverWebsocket(t *testing.T) {
	f := newFixture(t)
	poll, aliceID := createPoll(t, f, 2)
	_, bobID, err := f.service.JoinPoll(context.Background(), poll.ID, "Bob")
	if err != nil {
		t.Fatal(err)
	}

	alice := f.dial(t, f.token(t, poll.ID, aliceID, "Alice"))
	waitFor(t, alice, event(EventPollUpdated))
	bob := f.dial(t, f.token(t, poll.ID, bobID, "Bob"))
	waitFor(t, bob, event(EventPollUpdated))

	nominations := func(n int) func(frame) bool {
		return func(fr frame) bool {
			return fr.Event == EventPollUpdated && len(fr.poll(t).Nominations) == n
		}
	}

	send(t, alice, EventNominate, NominationData{Text: "Pizza"})
	send(t, alice, EventNominate, NominationData{Text: "Tacos"})
	waitFor(t, bob, nominations(2))
	send(t, bob, EventNominate, NominationData{Text: "Sushi"})
	p := waitFor(t, alice, nominations(3)).poll(t)

	send(t, alice, EventStartVote, nil)
	waitFor(t, bob, func(fr frame) bool {
		return fr.Event == EventPollUpdated && fr.poll(t).HasStarted
	})

	pizza, tacos, sushi := nominationID(t, p, "Pizza"), nominationID(t, p, "Tacos"), nominationID(t, p, "Sushi")
	send(t, bob, EventSubmitRankings, RankingsData{Rankings: []string{pizza, sushi}})
	send(t, alice, EventSubmitRankings, RankingsData{Rankings: []string{pizza, tacos}})
	waitFor(t, alice, func(fr frame) bool {
		return fr.Event == EventPollUpdated && len(fr.poll(t).Rankings) == 2
	})

	send(t, alice, EventClosePoll, nil)
	closed := waitFor(t, bob, func(fr frame) bool {
		return fr.Event == EventPollUpdated && len(fr.poll(t).Results) > 0
	}).poll(t)

	if closed.Results[0].NominationText != "Pizza" {
		t.Errorf("winner = %q, want Pizza", closed.Results[0].NominationText)
	}
}

func TestRemoveParticipantWhileVotingIsSilent(t *testing.T) {
	f := newFixture(t)
	poll, adminID := createPoll(t, f, 1)

	alice := f.dial(t, f.token(t, poll.ID, adminID, "Alice"))
	waitFor(t, alice, event(EventPollUpdated))
	bob := f.dial(t, f.token(t, poll.ID, "bob", "Bob"))
	waitFor(t, bob, event(EventPollUpdated))

	send(t, alice, EventStartVote, nil)
	waitFor(t, alice, func(fr frame) bool {
		return fr.Event == EventPollUpdated && fr.poll(t).HasStarted
	})

	send(t, alice, EventRemoveParticipant, IDData{ID: "bob"})
	// A follow-up nomination attempt is rejected; the next frame Alice sees
	// must be that exception, not an update from the removal.
	send(t, alice, EventNominate, NominationData{Text: "late"})
	fr := waitFor(t, alice, func(frame) bool { return true })
	if fr.Event != EventException {
		t.Fatalf("got %s, want exception", fr.Event)
	}

	got, _ := f.service.GetPoll(context.Background(), poll.ID)
	if _, ok := got.Participants["bob"]; !ok {
		t.Error("bob removed during voting")
	}
}

func TestCancelClosesRoom(t *testing.T) {
	f := newFixture(t)
	poll, adminID := createPoll(t, f, 1)

	alice := f.dial(t, f.token(t, poll.ID, adminID, "Alice"))
	waitFor(t, alice, event(EventPollUpdated))
	bob := f.dial(t, f.token(t, poll.ID, "bob", "Bob"))
	waitFor(t, bob, event(EventPollUpdated))

	send(t, alice, EventCancelPoll, nil)
	waitFor(t, bob, event(EventPollCancelled))

	bob.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := bob.ReadMessage(); err != nil {
			break
		}
	}

	if _, err := f.service.GetPoll(context.Background(), poll.ID); err == nil {
		t.Error("poll still exists after cancel")
	}
}
