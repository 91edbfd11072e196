// Package reqctx holds the per-message request context: correlation id,
// validated headers, Kafka key and processing stage timestamps.
//
// Each in-flight message owns one Scope, carried in its context.Context. Code
// that only has the context reads through the package-level getters, which fall
// back to defaults when no scope is attached.
package reqctx

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRequestID is reported when no request id has been seeded.
const DefaultRequestID = "-"

// Stage names a point in the message lifecycle.
type Stage int

const (
	InReceived Stage = iota
	InValidated
	InTransformed
	InSent
	OutReceived
	OutValidated
	OutTransformed
	OutSent
)

// Stages records lifecycle timestamps in epoch seconds. Unset stages are nil.
type Stages struct {
	InReceived     *float64 `json:"inReceived,omitempty"`
	InValidated    *float64 `json:"inValidated,omitempty"`
	InTransformed  *float64 `json:"inTransformed,omitempty"`
	InSent         *float64 `json:"inSent,omitempty"`
	OutReceived    *float64 `json:"outReceived,omitempty"`
	OutValidated   *float64 `json:"outValidated,omitempty"`
	OutTransformed *float64 `json:"outTransformed,omitempty"`
	OutSent        *float64 `json:"outSent,omitempty"`
}

// Mark stores at as the timestamp for stage.
func (s *Stages) Mark(stage Stage, at time.Time) {
	ts := float64(at.UnixNano()) / float64(time.Second)
	switch stage {
	case InReceived:
		s.InReceived = &ts
	case InValidated:
		s.InValidated = &ts
	case InTransformed:
		s.InTransformed = &ts
	case InSent:
		s.InSent = &ts
	case OutReceived:
		s.OutReceived = &ts
	case OutValidated:
		s.OutValidated = &ts
	case OutTransformed:
		s.OutTransformed = &ts
	case OutSent:
		s.OutSent = &ts
	}
}

// RequestContext is a point-in-time copy of a Scope.
type RequestContext struct {
	RequestID string
	Headers   map[string]string
	Key       []byte
	Stages    Stages
	Seeded    bool
}

// Scope is the mutable request context of one message.
type Scope struct {
	mu        sync.RWMutex
	requestID string
	headers   map[string]string
	key       []byte
	stages    Stages
	seeded    bool

	resets atomic.Int32
}

func newScope() *Scope {
	return &Scope{requestID: DefaultRequestID, headers: map[string]string{}}
}

type scopeKey struct{}

// NewContext attaches a fresh scope to ctx.
func NewContext(ctx context.Context) (context.Context, *Scope) {
	s := newScope()
	return context.WithValue(ctx, scopeKey{}, s), s
}

// FromContext returns the scope attached to ctx.
func FromContext(ctx context.Context) (*Scope, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok
}

// Seed stores the validated inbound values and starts a fresh stage record.
func (s *Scope) Seed(requestID string, headers map[string]string, key []byte, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requestID == "" {
		requestID = DefaultRequestID
	}
	s.requestID = requestID
	s.headers = maps.Clone(headers)
	if s.headers == nil {
		s.headers = map[string]string{}
	}
	s.key = cloneKey(key)
	s.stages = Stages{}
	s.stages.Mark(InReceived, at)
	s.stages.Mark(InValidated, at)
	s.seeded = true
}

// Seeded reports whether Seed ran since the last reset.
func (s *Scope) Seeded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seeded
}

func (s *Scope) RequestID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requestID
}

func (s *Scope) SetRequestID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestID = id
}

// Headers returns a copy of the stored headers.
func (s *Scope) Headers() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.headers)
}

func (s *Scope) SetHeaders(headers map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers = maps.Clone(headers)
}

// Key returns the inbound Kafka key, nil when the message was unkeyed.
func (s *Scope) Key() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneKey(s.key)
}

func (s *Scope) SetKey(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key = cloneKey(key)
}

// MarkStage records the timestamp of a lifecycle stage.
func (s *Scope) MarkStage(stage Stage, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages.Mark(stage, at)
}

func (s *Scope) Stages() Stages {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stages
}

// Snapshot copies every value of the scope.
func (s *Scope) Snapshot() RequestContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return RequestContext{
		RequestID: s.requestID,
		Headers:   maps.Clone(s.headers),
		Key:       cloneKey(s.key),
		Stages:    s.stages,
		Seeded:    s.seeded,
	}
}

// Reset restores every value to its default. It is idempotent; Resets counts
// how many times it ran.
func (s *Scope) Reset() {
	s.mu.Lock()
	s.requestID = DefaultRequestID
	s.headers = map[string]string{}
	s.key = nil
	s.stages = Stages{}
	s.seeded = false
	s.mu.Unlock()

	s.resets.Add(1)
}

// Resets returns how many times Reset was called on this scope.
func (s *Scope) Resets() int {
	return int(s.resets.Load())
}

// RequestID returns the request id stored in ctx, or DefaultRequestID.
func RequestID(ctx context.Context) string {
	if s, ok := FromContext(ctx); ok {
		return s.RequestID()
	}
	return DefaultRequestID
}

// Headers returns the headers stored in ctx, or an empty map.
func Headers(ctx context.Context) map[string]string {
	if s, ok := FromContext(ctx); ok {
		return s.Headers()
	}
	return map[string]string{}
}

// Key returns the Kafka key stored in ctx, or nil.
func Key(ctx context.Context) []byte {
	if s, ok := FromContext(ctx); ok {
		return s.Key()
	}
	return nil
}

func cloneKey(key []byte) []byte {
	if key == nil {
		return nil
	}
	return append([]byte{}, key...)
}
