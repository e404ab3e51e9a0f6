package core

import (
	"context"
	"strings"

	"github.com/Cypherspark/optout-gateway/internal/db"
)

type CredentialSource string

const (
	SourceEnvironment CredentialSource = "environment"
	SourceFile        CredentialSource = "file"
)

// Credentials are the provider API key pair currently in force.
type Credentials struct {
	APIKey    string           `json:"apiKey"`
	APISecret string           `json:"apiSecret"`
	IsLocked  bool             `json:"isLocked"`
	Source    CredentialSource `json:"source"`
}

func (c Credentials) Configured() bool { return c.APIKey != "" && c.APISecret != "" }

// Masked hides all but the first four characters of the secret.
func (c Credentials) Masked() Credentials {
	c.APISecret = mask(c.APISecret)
	return c
}

func mask(v string) string {
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", len(v)-4)
}

// Credentials resolves the active pair. A complete environment pair always
// wins and is reported locked.
func (s *Store) Credentials(ctx context.Context) Credentials {
	if s.envCreds != nil {
		return Credentials{APIKey: s.envCreds.APIKey, APISecret: s.envCreds.APISecret, IsLocked: true, Source: SourceEnvironment}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)
	return s.credentialsLocked()
}

func (s *Store) credentialsLocked() Credentials {
	return Credentials{APIKey: s.creds.APIKey, APISecret: s.creds.APISecret, IsLocked: s.creds.IsLocked, Source: SourceFile}
}

// SetCredentials stores a new pair and locks it against accidental edits.
func (s *Store) SetCredentials(ctx context.Context, apiKey, apiSecret string) (Credentials, error) {
	apiKey, apiSecret = strings.TrimSpace(apiKey), strings.TrimSpace(apiSecret)
	switch {
	case apiKey == "" && apiSecret == "":
		return Credentials{}, NewValidationError("missing_field", "Missing apiKey, apiSecret")
	case apiKey == "":
		return Credentials{}, NewValidationError("missing_field", "Missing apiKey")
	case apiSecret == "":
		return Credentials{}, NewValidationError("missing_field", "Missing apiSecret")
	}
	if s.envCreds != nil {
		return Credentials{}, NewConflictError("credentials_from_environment", "credentials are set from the environment")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)

	if s.creds.IsLocked {
		return Credentials{}, NewConflictError("credentials_locked", "credentials are locked; unlock them first")
	}
	s.creds = credentialsRecord{APIKey: apiKey, APISecret: apiSecret, IsLocked: true}
	return s.credentialsLocked(), s.persistLocked(ctx, db.KeyCredentials, s.creds)
}

func (s *Store) UnlockCredentials(ctx context.Context) (Credentials, error) {
	return s.setLocked(ctx, false)
}

func (s *Store) LockCredentials(ctx context.Context) (Credentials, error) {
	return s.setLocked(ctx, true)
}

func (s *Store) setLocked(ctx context.Context, locked bool) (Credentials, error) {
	if s.envCreds != nil {
		if locked {
			return s.Credentials(ctx), nil
		}
		return Credentials{}, NewForbiddenError("credentials_from_environment", "credentials from the environment cannot be unlocked")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)

	if s.creds.IsLocked == locked {
		return s.credentialsLocked(), nil
	}
	s.creds.IsLocked = locked
	return s.credentialsLocked(), s.persistLocked(ctx, db.KeyCredentials, s.creds)
}
