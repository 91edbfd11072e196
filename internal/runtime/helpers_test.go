package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/ragstream/internal/runtime/config"
	"github.com/drblury/ragstream/internal/runtime/envelope"
	"github.com/drblury/ragstream/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/ragstream/internal/runtime/logging"
	metricspkg "github.com/drblury/ragstream/internal/runtime/metrics"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

type publishedMessage struct {
	topic string
	msg   *message.Message
}

type testPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
	closed    bool
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, msg := range messages {
		p.published = append(p.published, publishedMessage{topic: topic, msg: msg})
	}
	return nil
}

func (p *testPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *testPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	topics := make([]string, len(p.published))
	for i, pm := range p.published {
		topics[i] = pm.topic
	}
	return topics
}

func (p *testPublisher) Messages() []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := make([]*message.Message, len(p.published))
	for i, pm := range p.published {
		msgs[i] = pm.msg
	}
	return msgs
}

// Envelopes decodes every published body as an envelope.
func (p *testPublisher) Envelopes(t *testing.T) []envelope.Envelope {
	t.Helper()
	msgs := p.Messages()
	out := make([]envelope.Envelope, len(msgs))
	for i, msg := range msgs {
		if err := jsoncodec.Unmarshal(msg.Payload, &out[i]); err != nil {
			t.Fatalf("published body is not an envelope: %v (%s)", err, msg.Payload)
		}
	}
	return out
}

type testSubscriber struct {
	err error
}

func (s *testSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (s *testSubscriber) Close() error { return nil }

func newTestCollector(t *testing.T) *metricspkg.Collector {
	t.Helper()
	collector, err := metricspkg.New(metricspkg.BaseLabels{AppName: "test", ReplicaID: "r1"}, newTestLogger())
	if err != nil {
		t.Fatalf("metrics init failed: %v", err)
	}
	return collector
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	log := newTestLogger()
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		t.Fatalf("router init failed: %v", err)
	}
	return &Service{
		Conf:            &configpkg.Config{Project: configpkg.Project{Name: "ragstream", Version: "test"}},
		Logger:          log,
		router:          router,
		publisher:       &testPublisher{},
		subscriber:      &testSubscriber{},
		metrics:         newTestCollector(t),
		errorClassifier: defaultErrorClassifier,
	}
}
