package auth

import (
	"errors"
	"net/http"
	"strings"
)

// ErrMissingCredential is returned by strategies that need a client-supplied
// token when none was presented. The relay maps it to 401 before any
// upstream call is made.
var ErrMissingCredential = errors.New("credential required")

// Strategy attaches the outbound credential to a request headed for the
// backend. clientToken is whatever the client presented to the relay; a
// strategy may use it, ignore it, or reject its absence.
type Strategy interface {
	Attach(h http.Header, clientToken string) error
}

// StaticSecret injects a secret configured at startup. The client token is
// ignored entirely, matching deployments where the relay owns the backend
// credential.
type StaticSecret struct {
	Header string
	Secret string
}

func (s StaticSecret) Attach(h http.Header, _ string) error {
	header := s.Header
	if header == "" {
		header = "X-Secret-Token"
	}
	h.Set(header, s.Secret)
	return nil
}

// Passthrough copies the client token verbatim into a backend-specific
// header. An absent token is forwarded as an absent header and left for the
// backend to judge.
type Passthrough struct {
	Header string
}

func (p Passthrough) Attach(h http.Header, clientToken string) error {
	if strings.TrimSpace(clientToken) == "" {
		return nil
	}
	header := p.Header
	if header == "" {
		header = "X-Auth-Token"
	}
	h.Set(header, clientToken)
	return nil
}

// Bearer forwards the client token as a standard bearer authorization
// header. Unlike Passthrough, a missing token is a client error.
type Bearer struct{}

func (Bearer) Attach(h http.Header, clientToken string) error {
	if strings.TrimSpace(clientToken) == "" {
		return ErrMissingCredential
	}
	h.Set("Authorization", "Bearer "+clientToken)
	return nil
}

var (
	_ Strategy = StaticSecret{}
	_ Strategy = Passthrough{}
	_ Strategy = Bearer{}
)
