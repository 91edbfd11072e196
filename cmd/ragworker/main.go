// Command ragworker consumes questions from Kafka, answers them with the RAG
// graph and publishes one envelope per question.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/ragstream"
	"github.com/drblury/ragstream/internal/llm"
	"github.com/drblury/ragstream/internal/rag"
	"github.com/drblury/ragstream/internal/runtime/health"
	loggingpkg "github.com/drblury/ragstream/internal/runtime/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "ragworker:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := ragstream.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
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
	answers := rag.NewService(pipeline, logger)

	checkers, closeCheckers, err := readinessCheckers(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCheckers()

	svc, err := ragstream.NewService(cfg, logger, ctx, ragstream.ServiceDependencies{
		ReadinessCheckers: checkers,
	})
	if err != nil {
		return err
	}

	err = ragstream.RegisterJSONHandler(svc, ragstream.JSONHandlerRegistration[*rag.ConsumerMessage, ragstream.Envelope]{
		Name:         "rag",
		ConsumeTopic: cfg.ReadKafka.TopicIn,
		PublishTopic: cfg.WriteKafka.TopicOut,
		Handler:      answers.Handler(),
	})
	if err != nil {
		return err
	}

	logger.Info("Worker started", ragstream.LogFields{
		"topic_in":  cfg.ReadKafka.TopicIn,
		"topic_out": cfg.WriteKafka.TopicOut,
		"llm_mode":  cfg.LLM.Mode,
	})
	return svc.Start(ctx)
}

// readinessCheckers opens the optional Redis and PostgreSQL clients probed by
// /ready. The returned func closes them.
func readinessCheckers(ctx context.Context, cfg *ragstream.Config, logger loggingpkg.ServiceLogger) ([]health.Checker, func(), error) {
	var (
		checkers []health.Checker
		closers  []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.RedisURL != "" {
		client, err := health.OpenRedis(cfg.RedisURL)
		if err != nil {
			return nil, closeAll, err
		}
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.Error("Failed to close redis client", err, nil)
			}
		})
		checkers = append(checkers, health.NewRedisChecker(client))
	}

	if cfg.PostgresURL != "" {
		pool, err := health.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, pool.Close)
		checkers = append(checkers, health.NewPostgresChecker(pool))
	}

	return checkers, closeAll, nil
}
