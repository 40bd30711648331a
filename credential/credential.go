// Package credential resolves which Gemini API key a user's requests run
// with: the key the user saved, or the configured default.
package credential

import (
	"context"
	"strings"

	"github.com/korjavin/physprepbot/logger"
)

// Store persists user-entered credentials.
type Store interface {
	GetCredential(ctx context.Context, userID int64) (string, error)
	SetCredential(ctx context.Context, userID int64, value string) error
}

// Resolver picks the user's override over the configured default.
type Resolver struct {
	store    Store
	fallback string
	log      *logger.Logger
}

// NewResolver creates a resolver. store may be nil, in which case only the
// default is ever returned.
func NewResolver(store Store, fallback string, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{store: store, fallback: strings.TrimSpace(fallback), log: log}
}

// Get returns the user's stored credential, else the default, else "".
// Store failures count as "no override".
func (r *Resolver) Get(ctx context.Context, userID int64) string {
	if r.store != nil {
		v, err := r.store.GetCredential(ctx, userID)
		if err != nil {
			r.log.Warn("Failed to read stored credential", "user_id", userID, "error", err)
		} else if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return r.fallback
}

// Set persists the trimmed value. An empty value clears the override.
func (r *Resolver) Set(ctx context.Context, userID int64, value string) error {
	if r.store == nil {
		return nil
	}
	return r.store.SetCredential(ctx, userID, strings.TrimSpace(value))
}

// Default is the configured credential, possibly "".
func (r *Resolver) Default() string {
	return r.fallback
}

// Pick returns override when it is non-blank, else the default.
func (r *Resolver) Pick(override string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	return r.fallback
}

// Mask shortens a credential for display: "AIza…x9Qk".
func Mask(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + "…" + value[len(value)-4:]
}
