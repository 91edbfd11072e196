// Package token caches bearer tokens for outbound API calls. A Manager
// serves a cached token lock-free while it is valid and lets exactly one
// caller refresh it when it expires.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	loggingpkg "github.com/drblury/ragstream/internal/runtime/logging"
)

// Token is one issued credential.
type Token struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// Fetcher obtains a fresh token from an identity endpoint.
type Fetcher interface {
	FetchToken(ctx context.Context) (Token, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (Token, error)

func (f FetcherFunc) FetchToken(ctx context.Context) (Token, error) { return f(ctx) }

// TokenFetchError reports a failed refresh. StatusCode is zero when the
// endpoint was never reached or answered 200 with an unusable body.
type TokenFetchError struct {
	Manager    string
	StatusCode int
	Err        error
}

func (e *TokenFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token %s: fetch failed with status %d: %v", e.Manager, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("token %s: fetch failed: %v", e.Manager, e.Err)
}

func (e *TokenFetchError) Unwrap() error { return e.Err }

type state struct {
	token     string
	expiresAt time.Time
}

func (s *state) valid(now time.Time) bool {
	return s != nil && s.token != "" && s.expiresAt.After(now)
}

// Manager hands out a cached token and refreshes it on expiry.
type Manager struct {
	name    string
	fetcher Fetcher
	now     func() time.Time
	logger  loggingpkg.ServiceLogger

	current atomic.Pointer[state]
	refresh *semaphore.Weighted
	fetches atomic.Int64
}

type Option func(*Manager)

// WithClock replaces time.Now, mainly for tests that simulate expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager returns a Manager named name that refreshes through fetcher.
func NewManager(name string, fetcher Fetcher, opts ...Option) *Manager {
	m := &Manager{
		name:    name,
		fetcher: fetcher,
		now:     time.Now,
		logger:  loggingpkg.NewNopServiceLogger(),
		refresh: semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Name() string { return m.name }

// Token returns a valid token, fetching a new one when the cached token is
// missing or expired. Concurrent callers share a single fetch. A caller whose
// ctx ends while waiting for the refresh gets ctx.Err().
func (m *Manager) Token(ctx context.Context) (string, error) {
	if s := m.current.Load(); s.valid(m.now()) {
		return s.token, nil
	}

	if err := m.refresh.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer m.refresh.Release(1)

	// Another caller may have refreshed while we waited.
	if s := m.current.Load(); s.valid(m.now()) {
		return s.token, nil
	}

	m.logger.Info("Fetching new token", loggingpkg.LogFields{"manager": m.name})
	m.fetches.Add(1)
	tok, err := m.fetcher.FetchToken(ctx)
	if err != nil {
		m.logger.Error("Token fetch failed", err, loggingpkg.LogFields{"manager": m.name})
		var fetchErr *TokenFetchError
		if errors.As(err, &fetchErr) {
			if fetchErr.Manager == "" {
				fetchErr.Manager = m.name
			}
			return "", fetchErr
		}
		return "", &TokenFetchError{Manager: m.name, Err: err}
	}
	if tok.AccessToken == "" {
		return "", &TokenFetchError{Manager: m.name, Err: errEmptyToken}
	}

	m.current.Store(&state{
		token:     tok.AccessToken,
		expiresAt: m.now().Add(tok.ExpiresIn),
	})
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (m *Manager) Invalidate() {
	m.current.Store(nil)
}

// Fetches reports how many refreshes were attempted.
func (m *Manager) Fetches() int64 {
	return m.fetches.Load()
}
