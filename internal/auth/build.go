package auth

import "fmt"

type BuildOptions struct {
	Mode         string
	Secret       string
	SecretHeader string
}

func Build(opts BuildOptions) (Strategy, error) {
	switch opts.Mode {
	case "secret", "shared-secret":
		if opts.Secret == "" {
			return nil, fmt.Errorf("secret mode requires a configured secret")
		}
		return StaticSecret{Header: opts.SecretHeader, Secret: opts.Secret}, nil

	case "header", "passthrough":
		return Passthrough{Header: opts.SecretHeader}, nil

	case "bearer":
		return Bearer{}, nil

	default:
		return nil, fmt.Errorf("unsupported auth mode %q", opts.Mode)
	}
}

// Redact returns a loggable prefix of a credential. Full values must never
// reach the logs.
func Redact(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "..."
}
