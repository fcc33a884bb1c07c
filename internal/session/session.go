package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Message is one transcript entry. The transcript lives only as long as the
// client; it is never persisted.
type Message struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

type State string

const (
	LoggedOut State = "logged_out"
	Verifying State = "verifying"
	LoggedIn  State = "logged_in"
)

// newSessionID builds the per-construction correlation id. It is not a
// credential.
func newSessionID(now time.Time) string {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("session_%d_fallback", now.UnixMilli())
	}
	return fmt.Sprintf("session_%d_%s", now.UnixMilli(), hex.EncodeToString(buf))
}
