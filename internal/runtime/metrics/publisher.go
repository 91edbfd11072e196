package metrics

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/ragstream/internal/runtime/envelope"
)

// InstrumentPublisher records the published_* families for every publish
// through pub. Errors are returned unchanged.
func InstrumentPublisher(pub message.Publisher, collector *Collector) message.Publisher {
	if !collector.Enabled() {
		return pub
	}
	return &instrumentedPublisher{next: pub, collector: collector}
}

type instrumentedPublisher struct {
	next      message.Publisher
	collector *Collector
}

func (p *instrumentedPublisher) Publish(topic string, messages ...*message.Message) error {
	dest := envelope.Topic(topic)
	start := time.Now()
	err := p.next.Publish(topic, messages...)
	p.collector.PublishDuration(dest, time.Since(start))

	status := StatusSuccess
	if err != nil {
		status = StatusError
		p.collector.PublishException(dest, err)
	}
	for range messages {
		p.collector.Published(dest, status)
	}
	return err
}

func (p *instrumentedPublisher) Close() error {
	return p.next.Close()
}
