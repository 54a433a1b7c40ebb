package board

import (
	"context"
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized is returned when a join is refused.
var ErrUnauthorized = errors.New("unauthorized")

// Authorizer decides whether a join request may enter a session. The
// session id itself stays the only capability unless one is configured.
type Authorizer interface {
	Authorize(ctx context.Context, sessionID, token string) error
}

// AllowAll admits every join.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, string, string) error { return nil }

// StaticToken admits joins that present the shared token.
type StaticToken string

func (s StaticToken) Authorize(_ context.Context, _ string, token string) error {
	if subtle.ConstantTimeCompare([]byte(s), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
