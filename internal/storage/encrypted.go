package storage

import (
	"context"
	"fmt"
	"strings"

	"nicorelay/internal/secret"
)

// EncryptedTokens wraps a TokenStore so the credential is sealed before it
// reaches the persistence surface. The event buffer is unaffected.
type EncryptedTokens struct {
	Inner TokenStore
	Box   *secret.Box
}

var _ TokenStore = (*EncryptedTokens)(nil)

func (e *EncryptedTokens) GetToken(ctx context.Context) (string, error) {
	sealed, err := e.Inner.GetToken(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(sealed) == "" {
		return "", nil
	}
	token, err := e.Box.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("unseal token: %w", err)
	}
	return token, nil
}

func (e *EncryptedTokens) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return e.Inner.SetToken(ctx, "")
	}
	sealed, err := e.Box.Seal(token)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	return e.Inner.SetToken(ctx, sealed)
}

func (e *EncryptedTokens) ClearToken(ctx context.Context) error {
	return e.Inner.ClearToken(ctx)
}
