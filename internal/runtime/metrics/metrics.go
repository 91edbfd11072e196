// Package metrics records consumer and publisher metrics on a private
// Prometheus registry. Recording never fails the caller: lookup errors and
// panics are logged and dropped.
package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/drblury/ragstream/internal/runtime/envelope"
	"github.com/drblury/ragstream/internal/runtime/logging"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Broker is the value of the broker const label.
const Broker = "kafka"

// BaseLabels are attached to every metric as const labels.
type BaseLabels struct {
	AppName             string
	ProjectCode         string
	RisCode             string
	KubernetesNamespace string
	// ReplicaID defaults to the hostname.
	ReplicaID      string
	Cluster        string
	FederationType string
}

func (b BaseLabels) constLabels() prometheus.Labels {
	replica := b.ReplicaID
	if replica == "" {
		replica, _ = os.Hostname()
	}
	return prometheus.Labels{
		"app_name":             b.AppName,
		"project_code":         b.ProjectCode,
		"ris_code":             b.RisCode,
		"kubernetes_namespace": b.KubernetesNamespace,
		"replica_id":           replica,
		"cluster":              b.Cluster,
		"federation_type":      b.FederationType,
		"broker":               Broker,
	}
}

// Collector owns the metric families. The zero value and NewNop() are
// disabled collectors whose operations do nothing.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry
	logger   logging.ServiceLogger

	received            *prometheus.CounterVec
	receivedSize        *prometheus.HistogramVec
	inProcess           *prometheus.GaugeVec
	processed           *prometheus.CounterVec
	processedDuration   *prometheus.HistogramVec
	processedExceptions *prometheus.CounterVec
	published           *prometheus.CounterVec
	publishedDuration   *prometheus.HistogramVec
	publishedExceptions *prometheus.CounterVec
}

var sizeBuckets = prometheus.ExponentialBuckets(64, 4, 9)

// New registers every metric family on a fresh registry.
func New(base BaseLabels, logger logging.ServiceLogger) (*Collector, error) {
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	labels := base.constLabels()

	counter := func(name, help string, variable ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help, ConstLabels: labels}, variable)
	}
	histogram := func(name, help string, buckets []float64, variable ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets, ConstLabels: labels}, variable)
	}

	c := &Collector{
		enabled:  true,
		registry: prometheus.NewRegistry(),
		logger:   logger,

		received: counter("received_messages_total",
			"Incremented each time the application receives a message", "handler"),
		receivedSize: histogram("received_messages_size_bytes",
			"Sizes of received messages", sizeBuckets, "handler"),
		inProcess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "received_messages_in_process",
			Help:        "Messages currently being processed",
			ConstLabels: labels,
		}, []string{"handler"}),
		processed: counter("received_processed_messages_total",
			"Processed messages by status", "handler", "status"),
		processedDuration: histogram("received_processed_messages_duration_seconds",
			"Message processing time", prometheus.DefBuckets, "handler"),
		processedExceptions: counter("received_processed_messages_exceptions_total",
			"Incremented when processing a message fails", "handler", "exception_type"),
		published: counter("published_messages_total",
			"Incremented when a message is sent, regardless of success", "destination", "status"),
		publishedDuration: histogram("published_messages_duration_seconds",
			"Message publish time", prometheus.DefBuckets, "destination"),
		publishedExceptions: counter("published_messages_exceptions_total",
			"Incremented when publishing a message fails", "destination", "exception_type"),
	}

	for _, col := range []prometheus.Collector{
		c.received, c.receivedSize, c.inProcess,
		c.processed, c.processedDuration, c.processedExceptions,
		c.published, c.publishedDuration, c.publishedExceptions,
	} {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}

	logger.Info("Metrics collector initialised", logging.LogFields{"base_labels": labels})
	return c, nil
}

// NewNop returns a disabled collector.
func NewNop() *Collector {
	return &Collector{}
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool {
	return c != nil && c.enabled
}

// Registry exposes the private registry so router-level metrics can share it.
// It is nil for a disabled collector.
func (c *Collector) Registry() *prometheus.Registry {
	if !c.Enabled() {
		return nil
	}
	return c.registry
}

func (c *Collector) MessageReceived(handler string, size int) {
	c.record("message_received", func() error {
		counter, err := c.received.GetMetricWithLabelValues(handler)
		if err != nil {
			return err
		}
		counter.Inc()
		if size <= 0 {
			return nil
		}
		hist, err := c.receivedSize.GetMetricWithLabelValues(handler)
		if err != nil {
			return err
		}
		hist.Observe(float64(size))
		return nil
	})
}

func (c *Collector) InProcessInc(handler string) {
	c.record("in_process_inc", func() error {
		gauge, err := c.inProcess.GetMetricWithLabelValues(handler)
		if err != nil {
			return err
		}
		gauge.Inc()
		return nil
	})
}

func (c *Collector) InProcessDec(handler string) {
	c.record("in_process_dec", func() error {
		gauge, err := c.inProcess.GetMetricWithLabelValues(handler)
		if err != nil {
			return err
		}
		gauge.Dec()
		return nil
	})
}

func (c *Collector) Processed(handler, status string) {
	c.record("processed", func() error {
		counter, err := c.processed.GetMetricWithLabelValues(handler, status)
		if err != nil {
			return err
		}
		counter.Inc()
		return nil
	})
}

func (c *Collector) ProcessingDuration(handler string, d time.Duration) {
	c.record("processing_duration", func() error {
		hist, err := c.processedDuration.GetMetricWithLabelValues(handler)
		if err != nil {
			return err
		}
		hist.Observe(d.Seconds())
		return nil
	})
}

func (c *Collector) ProcessingException(handler string, cause error) {
	c.record("processing_exception", func() error {
		counter, err := c.processedExceptions.GetMetricWithLabelValues(handler, ExceptionType(cause))
		if err != nil {
			return err
		}
		counter.Inc()
		return nil
	})
}

func (c *Collector) Published(dest envelope.Destination, status string) {
	c.record("published", func() error {
		counter, err := c.published.GetMetricWithLabelValues(dest.String(), status)
		if err != nil {
			return err
		}
		counter.Inc()
		return nil
	})
}

func (c *Collector) PublishDuration(dest envelope.Destination, d time.Duration) {
	c.record("publish_duration", func() error {
		hist, err := c.publishedDuration.GetMetricWithLabelValues(dest.String())
		if err != nil {
			return err
		}
		hist.Observe(d.Seconds())
		return nil
	})
}

func (c *Collector) PublishException(dest envelope.Destination, cause error) {
	c.record("publish_exception", func() error {
		counter, err := c.publishedExceptions.GetMetricWithLabelValues(dest.String(), ExceptionType(cause))
		if err != nil {
			return err
		}
		counter.Inc()
		return nil
	})
}

func (c *Collector) record(op string, fn func() error) {
	if !c.Enabled() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Metric recording panicked", fmt.Errorf("%v", r), logging.LogFields{"op": op})
		}
	}()
	if err := fn(); err != nil {
		c.logger.Error("Metric recording failed", err, logging.LogFields{"op": op})
	}
}

// Export writes every metric family in the Prometheus text exposition format.
func (c *Collector) Export(w io.Writer) error {
	if !c.Enabled() {
		return nil
	}
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler serves the registry for scraping. A disabled collector answers 404.
func (c *Collector) Handler() http.Handler {
	if !c.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ExceptionType names the concrete type of err without package path or
// pointer marker, for example "ValidationError". The first error in a wrap
// chain that is not a plain wrapper wins.
func ExceptionType(err error) string {
	if err == nil {
		return "none"
	}
	for {
		t := reflect.TypeOf(err)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if name := t.Name(); name != "wrapError" && name != "joinError" {
			if name == "" {
				return t.String()
			}
			return name
		}
		next := errors.Unwrap(err)
		if next == nil {
			return t.Name()
		}
		err = next
	}
}
