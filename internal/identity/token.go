package identity

import (
	"context"
	"errors"
	"strings"
)

var ErrNoToken = errors.New("no bearer token available")

// TokenSource yields the opaque bearer token presented in the auth message.
// The orchestrator fetches a token immediately before dialing and never
// inspects it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token, typically loaded from the
// environment by the daemon.
type StaticTokenSource struct {
	token string
}

func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: strings.TrimSpace(token)}
}

func (s *StaticTokenSource) Token(_ context.Context) (string, error) {
	if s == nil || s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

// TokenSourceFunc adapts a plain function to the TokenSource interface.
type TokenSourceFunc func(ctx context.Context) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}
