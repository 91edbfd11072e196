// Command ragapi serves the predict HTTP API. POST /v1/predict/ answers a
// question synchronously, POST /v1/predict/publish enqueues it to Kafka for
// ragworker.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/ragstream"
	"github.com/drblury/ragstream/internal/llm"
	"github.com/drblury/ragstream/internal/rag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "ragapi:", err)
		os.Exit(1)
	}
}

// portMux mounts handlers on one of the service HTTP ports.
type portMux struct {
	svc  *ragstream.Service
	port int
}

func (m portMux) Handle(pattern string, handler http.Handler) {
	m.svc.RegisterHTTPHandler(m.port, pattern, handler)
}

func run(ctx context.Context) error {
	cfg, err := ragstream.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.API.Port == 0 {
		return errors.New("API_PORT is required")
	}

	logger := ragstream.NewSlogServiceLogger(ragstream.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat))

	model, err := llm.New(cfg, logger)
	if err != nil {
		return err
	}
	pipeline, err := rag.NewPipeline(model, cfg.RAG, rag.WithLogger(logger))
	if err != nil {
		return err
	}

	svc, err := ragstream.NewService(cfg, logger, ctx, ragstream.ServiceDependencies{})
	if err != nil {
		return err
	}

	a := &api{
		answers:  rag.NewService(pipeline, logger),
		producer: svc,
		topic:    cfg.API.Topic,
		logger:   logger,
	}
	a.register(portMux{svc: svc, port: cfg.API.Port}, cfg.API.V1)

	logger.Info("API started", ragstream.LogFields{"port": cfg.API.Port, "topic": cfg.API.Topic})
	return svc.Start(ctx)
}
