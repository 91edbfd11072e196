package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestManagerSingleFlight(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var calls atomic.Int32
	fetcher := FetcherFunc(func(ctx context.Context) (Token, error) {
		n := calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return Token{AccessToken: "tok-" + string(rune('0'+n)), ExpiresIn: time.Minute}, nil
	})
	m := NewManager("test", fetcher, WithClock(clock.Now))

	run := func() []string {
		var wg sync.WaitGroup
		tokens := make([]string, 50)
		errs := make([]error, 50)
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tokens[i], errs[i] = m.Token(context.Background())
			}()
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}
		return tokens
	}

	first := run()
	assert.Equal(t, int32(1), calls.Load())
	for _, tok := range first {
		assert.Equal(t, "tok-1", tok)
	}

	clock.Advance(2 * time.Minute)

	second := run()
	assert.Equal(t, int32(2), calls.Load())
	for _, tok := range second {
		assert.Equal(t, "tok-2", tok)
	}
	assert.Equal(t, int64(2), m.Fetches())
}

func TestManagerFetchFailureKeepsState(t *testing.T) {
	t.Parallel()

	fail := true
	fetcher := FetcherFunc(func(ctx context.Context) (Token, error) {
		if fail {
			return Token{}, &TokenFetchError{StatusCode: 503, Err: errors.New("unavailable")}
		}
		return Token{AccessToken: "ok", ExpiresIn: time.Minute}, nil
	})
	m := NewManager("epa", fetcher)

	_, err := m.Token(context.Background())
	var fetchErr *TokenFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "epa", fetchErr.Manager)
	assert.Equal(t, 503, fetchErr.StatusCode)

	fail = false
	tok, err := m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", tok)
	assert.Equal(t, int64(2), m.Fetches())
}

func TestManagerWrapsPlainErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	m := NewManager("rnd", FetcherFunc(func(ctx context.Context) (Token, error) {
		return Token{}, boom
	}))

	_, err := m.Token(context.Background())
	var fetchErr *TokenFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "rnd", fetchErr.Manager)
	assert.ErrorIs(t, err, boom)
}

func TestManagerRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	m := NewManager("rnd", FetcherFunc(func(ctx context.Context) (Token, error) {
		return Token{ExpiresIn: time.Minute}, nil
	}))
	_, err := m.Token(context.Background())
	assert.ErrorIs(t, err, errEmptyToken)
}

func TestManagerInvalidate(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	m := NewManager("test", FetcherFunc(func(ctx context.Context) (Token, error) {
		calls.Add(1)
		return Token{AccessToken: "t", ExpiresIn: time.Hour}, nil
	}))

	_, err := m.Token(context.Background())
	require.NoError(t, err)
	_, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	m.Invalidate()
	_, err = m.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestManagerWaiterHonoursContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	m := NewManager("slow", FetcherFunc(func(ctx context.Context) (Token, error) {
		close(started)
		<-release
		return Token{AccessToken: "late", ExpiresIn: time.Minute}, nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := m.Token(context.Background())
		done <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Token(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, <-done)
}

func TestTokenFetchErrorMessage(t *testing.T) {
	t.Parallel()

	withStatus := &TokenFetchError{Manager: "epa", StatusCode: 401, Err: errors.New("denied")}
	assert.Equal(t, "token epa: fetch failed with status 401: denied", withStatus.Error())

	withoutStatus := &TokenFetchError{Manager: "epa", Err: errors.New("dial")}
	assert.Equal(t, "token epa: fetch failed: dial", withoutStatus.Error())
}
