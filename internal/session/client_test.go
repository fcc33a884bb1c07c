package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nicorelay/internal/eventlog"
)

type memTokens struct {
	token string
	sets  int
}

func (m *memTokens) GetToken(_ context.Context) (string, error) { return m.token, nil }
func (m *memTokens) SetToken(_ context.Context, t string) error {
	m.token = t
	m.sets++
	return nil
}
func (m *memTokens) ClearToken(_ context.Context) error {
	m.token = ""
	return nil
}

type relayDouble struct {
	mu         sync.Mutex
	chatStatus int
	chatBody   string
	logsStatus int
	chatCalls  int
	logsCalls  int
	lastAuth   string
	lastSID    string
	block      chan struct{}
}

func newRelayDouble() (*relayDouble, *httptest.Server) {
	d := &relayDouble{chatStatus: http.StatusOK, chatBody: `{"response":"buenas"}`, logsStatus: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.lastAuth = r.Header.Get("Authorization")
		d.lastSID = r.Header.Get("X-Session-ID")
		switch r.URL.Path {
		case "/api/chat":
			d.chatCalls++
		case "/api/logs":
			d.logsCalls++
		}
		status, body, block := d.chatStatus, d.chatBody, d.block
		if r.URL.Path == "/api/logs" {
			status, body = d.logsStatus, `{"logs":[]}`
		}
		d.mu.Unlock()

		if r.URL.Path == "/api/chat" && block != nil {
			<-block
		}
		if r.URL.Path != "/api/chat" && r.URL.Path != "/api/logs" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	return d, srv
}

func (d *relayDouble) counts() (chat, logs int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chatCalls, d.logsCalls
}

func (d *relayDouble) setChat(status int, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chatStatus, d.chatBody = status, body
}

func (d *relayDouble) setLogs(status int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logsStatus = status
}

func (d *relayDouble) seen() (auth, sid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastAuth, d.lastSID
}

func newTestClient(t *testing.T, relayURL string, tokens *memTokens, events *eventlog.Log, authRequired bool) *Client {
	t.Helper()
	opts := Options{
		RelayURL:     relayURL,
		Events:       events,
		Logger:       zerolog.Nop(),
		AuthRequired: authRequired,
	}
	if tokens != nil {
		opts.Tokens = tokens
	}
	return New(context.Background(), opts)
}

func eventTypes(entries []eventlog.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.EventType)
	}
	return out
}

func TestSessionIDFormat(t *testing.T) {
	c := newTestClient(t, "http://localhost:0", nil, nil, false)
	if got := c.SessionID(); len(got) < len("session_0_x") || got[:8] != "session_" {
		t.Fatalf("unexpected session id %q", got)
	}
	c2 := newTestClient(t, "http://localhost:0", nil, nil, false)
	if c.SessionID() == c2.SessionID() {
		t.Fatalf("session ids must differ per construction")
	}
}

func TestSendSuccess(t *testing.T) {
	d, srv := newRelayDouble()
	defer srv.Close()
	events := eventlog.New(eventlog.Options{Logger: zerolog.Nop()})
	c := newTestClient(t, srv.URL, nil, events, false)

	before := events.Len(context.Background())
	reply, err := c.Send(context.Background(), "hola")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Text != "buenas" || reply.Sender != SenderAssistant {
		t.Fatalf("unexpected reply %#v", reply)
	}

	tr := c.Transcript()
	if len(tr) != 3 {
		t.Fatalf("expected welcome+user+assistant, got %d entries", len(tr))
	}
	if tr[1].Text != "hola" || tr[1].Sender != SenderUser {
		t.Fatalf("unexpected user entry %#v", tr[1])
	}
	if tr[2].Text != "buenas" || tr[2].Sender != SenderAssistant {
		t.Fatalf("unexpected assistant entry %#v", tr[2])
	}

	added := events.Entries(context.Background())[before:]
	if got := eventTypes(added); len(got) != 2 || got[0] != eventlog.EventMessageSent || got[1] != eventlog.EventMessageReceived {
		t.Fatalf("expected [message_sent message_received], got %v", got)
	}
	if _, ok := added[1].Data["responseTime"]; !ok {
		t.Fatalf("message_received must carry responseTime")
	}
	if _, sid := d.seen(); sid != c.SessionID() {
		t.Fatalf("session header not sent, got %q", sid)
	}
}

func TestSendFailureAppendsApology(t *testing.T) {
	d, srv := newRelayDouble()
	defer srv.Close()
	d.setChat(http.StatusInternalServerError, `{"error":"Internal server error"}`)

	events := eventlog.New(eventlog.Options{Logger: zerolog.Nop()})
	c := newTestClient(t, srv.URL, nil, events, false)

	before := events.Len(context.Background())
	entry, err := c.Send(context.Background(), "hola")
	if err == nil {
		t.Fatalf("expected error for relay 500")
	}
	if entry.Text != apologyText || entry.Sender != SenderAssistant {
		t.Fatalf("expected apology entry, got %#v", entry)
	}

	tr := c.Transcript()
	if len(tr) != 3 {
		t.Fatalf("exactly one assistant-side entry per attempt, got %d total", len(tr))
	}

	added := events.Entries(context.Background())[before:]
	if got := eventTypes(added); len(got) != 2 || got[1] != eventlog.EventAPIError {
		t.Fatalf("expected api_error logged, got %v", got)
	}
	if added[1].Data["status"] != http.StatusInternalServerError {
		t.Fatalf("api_error must carry status 500, got %#v", added[1].Data["status"])
	}

	// The send control must be usable again.
	d.setChat(http.StatusOK, `{"response":"ya volví"}`)
	if _, err := c.Send(context.Background(), "sigues ahí?"); err != nil {
		t.Fatalf("send after failure: %v", err)
	}
}

func TestSendTransportFailure(t *testing.T) {
	d, srv := newRelayDouble()
	url := srv.URL
	srv.Close()
	_ = d

	events := eventlog.New(eventlog.Options{Logger: zerolog.Nop()})
	c := newTestClient(t, url, nil, events, false)

	entry, err := c.Send(context.Background(), "hola")
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if entry.Text != apologyText {
		t.Fatalf("expected apology entry, got %#v", entry)
	}
	all := events.Entries(context.Background())
	last := all[len(all)-1]
	if last.EventType != eventlog.EventAPIError {
		t.Fatalf("expected api_error, got %s", last.EventType)
	}
	if last.Data["status"] != 0 {
		t.Fatalf("transport failure carries status 0, got %#v", last.Data["status"])
	}
}

func TestSendEmptyMessage(t *testing.T) {
	d, srv := newRelayDouble()
	defer srv.Close()
	c := newTestClient(t, srv.URL, nil, nil, false)

	if _, err := c.Send(context.Background(), "   "); err != ErrEmptyMessage {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if chat, _ := d.counts(); chat != 0 {
		t.Fatalf("empty message must not reach the relay")
	}
}

func TestSendSingleFlight(t *testing.T) {
	d, srv := newRelayDouble()
	defer srv.Close()
	block := make(chan struct{})
	d.mu.Lock()
	d.block = block
	d.mu.Unlock()

	c := newTestClient(t, srv.URL, nil, nil, false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Send(context.Background(), "primero")
	}()

	// Wait for the first send to reach the relay.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if chat, _ := d.counts(); chat > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first send never reached the relay")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := c.Send(context.Background(), "segundo"); err != ErrBusy {
		t.Fatalf("expected ErrBusy while a send is outstanding, got %v", err)
	}

	close(block)
	wg.Wait()

	d.mu.Lock()
	d.block = nil
	d.mu.Unlock()
	if _, err := c.Send(context.Background(), "tercero"); err != nil {
		t.Fatalf("send after completion: %v", err)
	}
}

func TestSendRequiresLogin(t *testing.T) {
	d, srv := newRelayDouble()
	defer srv.Close()
	c := newTestClient(t, srv.URL, &memTokens{}, nil, true)

	if _, err := c.Send(context.Background(), "hola"); err != ErrNotLoggedIn {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if chat, _ := d.counts(); chat != 0 {
		t.Fatalf("unauthenticated send must not reach the relay")
	}
}

func TestLoginEmptyCredential(t *testing.T) {
	d, srv := newRelayDouble()
	defer srv.Close()
	tokens := &memTokens{}
	c := newTestClient(t, srv.URL, tokens, nil, true)

	if err := c.Login(context.Background(), "  "); err != ErrEmptyCredential {
		t.Fatalf("expected ErrEmptyCredential, got %v", err)
	}
	if c.State() != LoggedOut {
		t.Fatalf("empty credential must keep LoggedOut, got %s", c.State())
	}
	if chat, logs := d.counts(); chat != 0 || logs != 0 {
		t.Fatalf("empty credential must not trigger a network call")
	}
}

func TestLoginSuccessPersistsToken(t *testing.T) {
	d, srv := newRelayDouble()
	defer srv.Close()
	tokens := &memTokens{}
	events := eventlog.New(eventlog.Options{Logger: zerolog.Nop()})
	c := newTestClient(t, srv.URL, tokens, events, true)

	if err := c.Login(context.Background(), "tok-1"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if c.State() != LoggedIn {
		t.Fatalf("expected LoggedIn, got %s", c.State())
	}
	if tokens.token != "tok-1" {
		t.Fatalf("token not persisted, got %q", tokens.token)
	}
	if authHdr, _ := d.seen(); authHdr != "Bearer tok-1" {
		t.Fatalf("probe must carry candidate credential, got %q", authHdr)
	}
	all := events.Entries(context.Background())
	if all[len(all)-1].EventType != eventlog.EventLoginSuccess {
		t.Fatalf("expected login_success, got %s", all[len(all)-1].EventType)
	}
}

func TestLoginRejectedLeavesNoToken(t *testing.T) {
	d, srv := newRelayDouble()
	defer srv.Close()
	d.setLogs(http.StatusUnauthorized)

	tokens := &memTokens{}
	events := eventlog.New(eventlog.Options{Logger: zerolog.Nop()})
	c := newTestClient(t, srv.URL, tokens, events, true)

	if err := c.Login(context.Background(), "bad-token"); err == nil {
		t.Fatalf("expected rejection")
	}
	if c.State() != LoggedOut {
		t.Fatalf("expected LoggedOut after rejection, got %s", c.State())
	}
	if tokens.token != "" || tokens.sets != 0 {
		t.Fatalf("rejected probe must not persist the candidate, got %q", tokens.token)
	}
	all := events.Entries(context.Background())
	if all[len(all)-1].EventType != eventlog.EventLoginFailed {
		t.Fatalf("expected login_failed, got %s", all[len(all)-1].EventType)
	}
}

func TestLoginTransportError(t *testing.T) {
	d, srv := newRelayDouble()
	url := srv.URL
	srv.Close()
	_ = d

	events := eventlog.New(eventlog.Options{Logger: zerolog.Nop()})
	c := newTestClient(t, url, &memTokens{}, events, true)

	if err := c.Login(context.Background(), "tok-1"); err == nil {
		t.Fatalf("expected transport error")
	}
	all := events.Entries(context.Background())
	if all[len(all)-1].EventType != eventlog.EventLoginError {
		t.Fatalf("expected login_error, got %s", all[len(all)-1].EventType)
	}
}

func TestStartupWithPersistedToken(t *testing.T) {
	_, srv := newRelayDouble()
	defer srv.Close()
	tokens := &memTokens{token: "tok-old"}
	c := newTestClient(t, srv.URL, tokens, nil, true)

	// Trusted without re-validation until the first failing call.
	if c.State() != LoggedIn {
		t.Fatalf("expected LoggedIn from persisted token, got %s", c.State())
	}
}

func TestLogoutIdempotent(t *testing.T) {
	_, srv := newRelayDouble()
	defer srv.Close()
	tokens := &memTokens{token: "tok-1"}
	c := newTestClient(t, srv.URL, tokens, nil, true)

	c.Logout(context.Background())
	if c.State() != LoggedOut || tokens.token != "" {
		t.Fatalf("logout must clear state and token")
	}
	if got := len(c.Transcript()); got != 1 {
		t.Fatalf("logout must reset transcript, got %d entries", got)
	}
	c.Logout(context.Background())
	if c.State() != LoggedOut {
		t.Fatalf("logout must be idempotent")
	}
}

func TestClearLogsMessageCount(t *testing.T) {
	_, srv := newRelayDouble()
	defer srv.Close()
	events := eventlog.New(eventlog.Options{Logger: zerolog.Nop()})
	c := newTestClient(t, srv.URL, nil, events, false)

	for i := 0; i < 3; i++ {
		if _, err := c.Send(context.Background(), "hola"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	// welcome + 3 user + 3 assistant entries; the count excludes the welcome.
	if got := len(c.Transcript()); got != 7 {
		t.Fatalf("expected transcript of 7, got %d", got)
	}

	c.Clear(context.Background())

	all := events.Entries(context.Background())
	var cleared *eventlog.Entry
	for i := range all {
		if all[i].EventType == eventlog.EventChatCleared {
			cleared = &all[i]
		}
	}
	if cleared == nil {
		t.Fatalf("expected chat_cleared event")
	}
	if cleared.Data["messageCount"] != 6 {
		t.Fatalf("expected messageCount 6, got %#v", cleared.Data["messageCount"])
	}
	if got := len(c.Transcript()); got != 1 {
		t.Fatalf("clear must leave only the welcome entry, got %d", got)
	}
}
