package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"golang.org/x/sync/semaphore"

	configpkg "github.com/drblury/ragstream/internal/runtime/config"
	errspkg "github.com/drblury/ragstream/internal/runtime/errors"
	"github.com/drblury/ragstream/internal/runtime/health"
	loggingpkg "github.com/drblury/ragstream/internal/runtime/logging"
	metricspkg "github.com/drblury/ragstream/internal/runtime/metrics"
	transportpkg "github.com/drblury/ragstream/internal/runtime/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

const shutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	// Metrics receives the pipeline families. Nil builds a collector from
	// Conf.Prometheus, or a disabled one when metrics are turned off.
	Metrics           *metricspkg.Collector
	ReadinessCheckers []health.Checker
	ErrorClassifier   ErrorClassifier
}

// Service wires a Watermill router, publisher, subscriber, and the message
// pipeline.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	metrics     *metricspkg.Collector
	limiter     *semaphore.Weighted
	readiness   []health.Checker
	readinessMu sync.RWMutex

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex

	errorClassifier ErrorClassifier
}

// NewService constructs a Service for the supplied configuration. Register
// handlers on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating event service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf.String(),
	})

	collector := deps.Metrics
	if collector == nil {
		var err error
		collector, err = newCollector(conf, log)
		if err != nil {
			return nil, err
		}
	}

	s := &Service{
		Conf:            conf,
		Logger:          log,
		metrics:         collector,
		readiness:       deps.ReadinessCheckers,
		errorClassifier: deps.ErrorClassifier,
	}
	if s.errorClassifier == nil {
		s.errorClassifier = defaultErrorClassifier
	}
	if conf.ReadKafka.MaxWorkers > 0 {
		s.limiter = semaphore.NewWeighted(int64(conf.ReadKafka.MaxWorkers))
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	s.publisher = metricspkg.InstrumentPublisher(transport.Publisher, collector)
	s.subscriber = transport.Subscriber

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}
	if conf.API.Port > 0 {
		s.registerProbes(conf.API.Port)
	}

	return s, nil
}

func newCollector(conf *configpkg.Config, log loggingpkg.ServiceLogger) (*metricspkg.Collector, error) {
	if !conf.Prometheus.Enabled {
		return metricspkg.NewNop(), nil
	}
	p := conf.Prometheus
	collector, err := metricspkg.New(metricspkg.BaseLabels{
		AppName:             p.AppName,
		ProjectCode:         p.ProjectCode,
		RisCode:             p.RisCode,
		KubernetesNamespace: p.KubernetesNamespace,
		ReplicaID:           p.ReplicaID,
		Cluster:             p.Cluster,
		FederationType:      p.FederationType,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create metrics collector: %w", err)
	}
	return collector, nil
}

// Metrics returns the collector the pipeline records into.
func (s *Service) Metrics() *metricspkg.Collector {
	return s.metrics
}

// Start runs the HTTP servers and the router until ctx is cancelled, then
// shuts the HTTP servers down and closes the publisher.
func (s *Service) Start(ctx context.Context) error {
	stopHTTP := s.startHTTPServers()
	defer stopHTTP()
	defer func() {
		if err := s.publisher.Close(); err != nil {
			s.Logger.Error("Failed to close publisher", err, nil)
		}
	}()
	return routerRun(s.router, ctx)
}

// Running is closed once the router has started its handlers.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) getErrorClassifier() ErrorClassifier {
	if s.errorClassifier == nil {
		return defaultErrorClassifier
	}
	return s.errorClassifier
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

// startHTTPServers starts one server per registered port and returns a
// function that shuts them all down.
func (s *Service) startHTTPServers() func() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	host := ""
	if s.Conf != nil {
		host = s.Conf.API.Host
	}

	servers := make([]*http.Server, 0, len(s.httpServers))
	for port, mux := range s.httpServers {
		srv := &http.Server{
			Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)

		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server stopped", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(ctx); err != nil {
				s.Logger.Error("HTTP server shutdown failed", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}
	}
}
