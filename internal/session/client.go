package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nicorelay/internal/eventlog"
	"nicorelay/internal/storage"
)

const (
	sessionHeader = "X-Session-ID"

	// Fixed user-facing strings, kept in the product's language.
	apologyText     = "Lo siento, hubo un error al procesar tu mensaje. Por favor, intenta de nuevo."
	noResponseText  = "No se recibió respuesta del servidor."
	defaultWelcome  = "¡Hola! ¿En qué te puedo ayudar?"
	maxResponseBody = 4 << 20
)

var (
	ErrEmptyCredential = errors.New("credential is empty")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrBusy            = errors.New("a send is already in flight")
	ErrNotLoggedIn     = errors.New("login required")
)

// Client owns the session lifecycle: login state, transcript, and the
// bounded event log. It is a single-writer controller; only the in-flight
// guard is safe to probe from another goroutine.
type Client struct {
	relayURL     string
	httpClient   *http.Client
	tokens       storage.TokenStore
	events       *eventlog.Log
	logger       zerolog.Logger
	authRequired bool
	welcome      string

	sessionID  string
	token      string
	state      State
	transcript []Message

	mu   sync.Mutex
	busy bool
}

type Options struct {
	RelayURL     string
	HTTPClient   *http.Client
	Tokens       storage.TokenStore
	Events       *eventlog.Log
	Logger       zerolog.Logger
	AuthRequired bool
	Welcome      string
}

func New(ctx context.Context, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	welcome := opts.Welcome
	if welcome == "" {
		welcome = defaultWelcome
	}

	c := &Client{
		relayURL:     strings.TrimSuffix(opts.RelayURL, "/"),
		httpClient:   opts.HTTPClient,
		tokens:       opts.Tokens,
		events:       opts.Events,
		logger:       opts.Logger,
		authRequired: opts.AuthRequired,
		welcome:      welcome,
		sessionID:    newSessionID(time.Now()),
		state:        LoggedOut,
		transcript:   []Message{{Text: welcome, Sender: SenderAssistant, Timestamp: time.Now()}},
	}

	// A previously persisted token is trusted as-is; it is only invalidated
	// by the first failing call.
	if c.tokens != nil {
		tok, err := c.tokens.GetToken(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("failed to read persisted token")
		} else if tok != "" {
			c.token = tok
			c.state = LoggedIn
		}
	}

	c.logEvent(ctx, eventlog.EventSessionStart, map[string]any{
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return c
}

func (c *Client) SessionID() string { return c.sessionID }

func (c *Client) State() State {
	if !c.authRequired && c.state == LoggedOut {
		return LoggedIn
	}
	return c.state
}

// Transcript returns a copy of the conversation so far, welcome entry
// included.
func (c *Client) Transcript() []Message {
	out := make([]Message, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Login verifies a candidate credential against the relay and persists it
// on success. An empty candidate is rejected locally without any network
// call.
func (c *Client) Login(ctx context.Context, candidate string) error {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return ErrEmptyCredential
	}

	c.state = Verifying
	status, err := c.probe(ctx, candidate)
	if err != nil {
		c.state = LoggedOut
		c.logEvent(ctx, eventlog.EventLoginError, map[string]any{"error": err.Error()})
		return fmt.Errorf("verify credential: %w", err)
	}
	if status < 200 || status > 299 {
		c.state = LoggedOut
		c.logEvent(ctx, eventlog.EventLoginFailed, map[string]any{
			"status":     status,
			"statusText": http.StatusText(status),
		})
		return fmt.Errorf("credential rejected with status %d", status)
	}

	c.token = candidate
	c.state = LoggedIn
	if c.tokens != nil {
		if err := c.tokens.SetToken(ctx, candidate); err != nil {
			c.logger.Error().Err(err).Msg("failed to persist token")
		}
	}
	c.logEvent(ctx, eventlog.EventLoginSuccess, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

// probe issues the lightweight credential-validation call. The log-fetch
// endpoint exercises the same auth path as chat without producing a
// spurious message.
func (c *Client) probe(ctx context.Context, candidate string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.relayURL+"/api/logs", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set(sessionHeader, c.sessionID)
	req.Header.Set("Authorization", "Bearer "+candidate)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	return resp.StatusCode, nil
}

// Logout clears the credential and the transcript. It always succeeds and
// may be called repeatedly.
func (c *Client) Logout(ctx context.Context) {
	c.token = ""
	c.state = LoggedOut
	if c.tokens != nil {
		if err := c.tokens.ClearToken(ctx); err != nil {
			c.logger.Error().Err(err).Msg("failed to clear persisted token")
		}
	}
	c.resetTranscript()
}

// Send relays one message. At most one send may be in flight; callers get
// ErrBusy rather than queued. Exactly one assistant-side transcript entry is
// appended per attempt, the reply or the fixed apology.
func (c *Client) Send(ctx context.Context, message string) (Message, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return Message{}, ErrBusy
	}
	c.busy = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
	}()

	if c.authRequired && c.state != LoggedIn {
		return Message{}, ErrNotLoggedIn
	}

	c.transcript = append(c.transcript, Message{Text: message, Sender: SenderUser, Timestamp: time.Now()})
	c.logEvent(ctx, eventlog.EventMessageSent, map[string]any{
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})

	start := time.Now()
	reply, status, err := c.callChat(ctx, message)
	elapsed := time.Since(start).Milliseconds()

	if err != nil || status < 200 || status > 299 {
		statusText := http.StatusText(status)
		if err != nil {
			statusText = err.Error()
		}
		c.logEvent(ctx, eventlog.EventAPIError, map[string]any{
			"status":       status,
			"statusText":   statusText,
			"responseTime": elapsed,
			"message":      message,
		})
		entry := Message{Text: apologyText, Sender: SenderAssistant, Timestamp: time.Now()}
		c.transcript = append(c.transcript, entry)
		if err != nil {
			return entry, fmt.Errorf("send message: %w", err)
		}
		return entry, fmt.Errorf("send message: relay status %d", status)
	}

	if reply == "" {
		reply = noResponseText
	}
	c.logEvent(ctx, eventlog.EventMessageReceived, map[string]any{
		"response":        reply,
		"responseTime":    elapsed,
		"originalMessage": message,
	})
	entry := Message{Text: reply, Sender: SenderAssistant, Timestamp: time.Now()}
	c.transcript = append(c.transcript, entry)
	return entry, nil
}

func (c *Client) callChat(ctx context.Context, message string) (reply string, status int, err error) {
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionHeader, c.sessionID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", resp.StatusCode, nil
	}

	var parsed struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode relay response: %w", err)
	}
	return parsed.Response, resp.StatusCode, nil
}

// Clear resets the transcript to the standing welcome entry. The persisted
// event log keeps its own retention and is not touched.
func (c *Client) Clear(ctx context.Context) {
	c.logEvent(ctx, eventlog.EventChatCleared, map[string]any{
		"messageCount": len(c.transcript) - 1,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
	c.resetTranscript()
}

func (c *Client) resetTranscript() {
	c.transcript = []Message{{Text: c.welcome, Sender: SenderAssistant, Timestamp: time.Now()}}
}

func (c *Client) logEvent(ctx context.Context, eventType string, data map[string]any) {
	if c.events == nil {
		return
	}
	c.events.Append(ctx, c.sessionID, eventType, data)
}
