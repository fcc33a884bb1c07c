package eventlog

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventSessionStart    = "session_start"
	EventMessageSent     = "message_sent"
	EventMessageReceived = "message_received"
	EventAPIError        = "api_error"
	EventLoginSuccess    = "login_success"
	EventLoginFailed     = "login_failed"
	EventLoginError      = "login_error"
	EventChatCleared     = "chat_cleared"
)

// DefaultCapacity is the hard cap on retained entries; the oldest entries
// are evicted first once it is exceeded.
const DefaultCapacity = 1000

// Entry is a single client-observed event. The JSON field names match the
// wire/persistence format used by the backend's own chat logs.
type Entry struct {
	Timestamp string         `json:"timestamp"`
	SessionID string         `json:"session_id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
}

// Store is the key-value persistence surface the log survives restarts on.
// Load returning an error or garbage must never break an append; the Log
// treats it as an empty buffer.
type Store interface {
	Load(ctx context.Context) ([]Entry, error)
	Save(ctx context.Context, entries []Entry) error
}

// Log is a bounded FIFO of entries. It is owned by a single writer (the
// session client); it does no locking of its own.
type Log struct {
	store  Store
	logger zerolog.Logger
	cap    int
	buf    []Entry
	loaded bool
}

type Options struct {
	Store    Store
	Logger   zerolog.Logger
	Capacity int
}

func New(opts Options) *Log {
	c := opts.Capacity
	if c <= 0 {
		c = DefaultCapacity
	}
	return &Log{
		store:  opts.Store,
		logger: opts.Logger,
		cap:    c,
		buf:    make([]Entry, 0, c),
	}
}

// Append records one event: console trace, in-memory eviction-from-front,
// then a best-effort write-back of the whole buffer. Persistence failures
// are logged and swallowed so the triggering user action never fails on
// logging.
func (l *Log) Append(ctx context.Context, sessionID, eventType string, data map[string]any) Entry {
	e := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
		EventType: eventType,
		Data:      data,
	}

	l.logger.Debug().
		Str("session_id", sessionID).
		Str("event_type", eventType).
		Interface("data", data).
		Msg("client event")

	l.ensureLoaded(ctx)
	l.buf = append(l.buf, e)
	if overflow := len(l.buf) - l.cap; overflow > 0 {
		l.buf = append(l.buf[:0], l.buf[overflow:]...)
	}

	if l.store != nil {
		if err := l.store.Save(ctx, l.buf); err != nil {
			l.logger.Error().Err(err).Msg("failed to persist client log")
		}
	}
	return e
}

// Entries returns the retained entries, oldest first.
func (l *Log) Entries(ctx context.Context) []Entry {
	l.ensureLoaded(ctx)
	out := make([]Entry, len(l.buf))
	copy(out, l.buf)
	return out
}

func (l *Log) Len(ctx context.Context) int {
	l.ensureLoaded(ctx)
	return len(l.buf)
}

// ensureLoaded pulls the persisted sequence into memory once. A corrupt or
// unreadable buffer is treated as empty.
func (l *Log) ensureLoaded(ctx context.Context) {
	if l.loaded {
		return
	}
	l.loaded = true
	if l.store == nil {
		return
	}
	entries, err := l.store.Load(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("discarding unreadable client log")
		return
	}
	if drop := len(entries) - l.cap; drop > 0 {
		entries = entries[drop:]
	}
	l.buf = append(l.buf[:0], entries...)
}
