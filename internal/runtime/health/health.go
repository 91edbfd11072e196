// Package health runs readiness checks against the worker's optional
// dependencies.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
	StatusOK       = "ok"
	StatusFailed   = "failed"
)

// DefaultTimeout bounds a single check when Run is given no timeout.
const DefaultTimeout = 2 * time.Second

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkerFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (c checkerFunc) Name() string                    { return c.name }
func (c checkerFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// NewChecker wraps fn as a named Checker.
func NewChecker(name string, fn func(ctx context.Context) error) Checker {
	return checkerFunc{name: name, fn: fn}
}

// Pinger is satisfied by *pgxpool.Pool and pgxmock pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPostgresChecker pings the pool.
func NewPostgresChecker(pool Pinger) Checker {
	return NewChecker("postgres", pool.Ping)
}

// NewRedisChecker sends PING to the client.
func NewRedisChecker(client redis.UniversalClient) Checker {
	return NewChecker("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// OpenRedis creates a client from a redis:// URL. No connection is made.
func OpenRedis(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// OpenPostgres creates a lazily connecting pool.
func OpenPostgres(ctx context.Context, rawURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return pool, nil
}

// Result is the outcome of one check.
type Result struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Report aggregates check results. Status is StatusReady only when every
// check passed.
type Report struct {
	Status string   `json:"status"`
	Checks []Result `json:"checks,omitempty"`
}

func (r Report) Ready() bool { return r.Status == StatusReady }

// Failed returns the results that did not pass.
func (r Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Checks {
		if res.Status != StatusOK {
			failed = append(failed, res)
		}
	}
	return failed
}

// Run executes every checker concurrently, each bounded by timeout.
func Run(ctx context.Context, timeout time.Duration, checkers ...Checker) Report {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	results := make([]Result, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			res := Result{Name: c.Name(), Status: StatusOK}
			if err := c.Check(checkCtx); err != nil {
				res.Status = StatusFailed
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: StatusReady, Checks: results}
	if len(report.Failed()) > 0 {
		report.Status = StatusNotReady
	}
	return report
}
