/*
Package runtime is the message processing core of ragstream.

# Architecture Overview

A Service owns a Watermill router, a publisher and a subscriber built by the
configured transport (Kafka in production, Go channels in tests). Every
registered handler is wrapped in a fixed pipeline before it reaches the
router:

	worker limit -> exception -> recover -> context -> metrics -> auto-publish -> handler

## Core Service (service.go)

The Service struct wires together:
  - Message router (Watermill) with the signals plugin
  - Publisher and subscriber connections
  - Router middlewares (tracing, debug logging, router metrics)
  - HTTP servers for probes, metrics and the handler API

## Pipeline (pipeline.go)

Each stage is a Watermill HandlerMiddleware:
  - WorkerLimit: bounds concurrent handlers with a weighted semaphore
  - Exception: turns any error into one error envelope and acknowledges the message
  - Recover: converts handler panics into errors
  - Context: validates the payload and headers, then seeds the request scope
  - Metrics: records the inbound and processing Prometheus families
  - AutoPublish: publishes handler results to the outbound topic

## Handler Registration (registration*.go)

  - registration.go: raw Watermill handlers and base registration logic
  - registration_json.go: typed JSON handlers

## Stats & Probes (models.go, probes.go)

Per-handler latency percentiles, throughput and error categories are kept in
memory and served at /api/handlers next to /live, /ready, /health and
/metrics.

# Sub-packages

  - config/: environment configuration with validation
  - envelope/: the outbound response envelope and status codes
  - errors/: sentinel errors and error types
  - handlers/: typed message context and JSON handler building
  - headers/: inbound header validation
  - health/: readiness checks for Redis and Postgres
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling
  - logging/: logger interface and adapters
  - metadata/: message metadata and Kafka key helpers
  - metrics/: the Prometheus collector
  - reqctx/: the per-message request scope
  - transport/: transport factory

# Usage Example

	cfg, _ := ragstream.LoadConfig(".env")
	svc, err := ragstream.NewService(cfg, logger, ctx, ragstream.ServiceDependencies{})
	if err != nil {
		return err
	}

	ragstream.RegisterJSONHandler(svc, ragstream.JSONHandlerRegistration[*Question, *Answer]{
		Name:         "rag",
		ConsumeTopic: cfg.ReadKafka.TopicIn,
		PublishTopic: cfg.WriteKafka.TopicOut,
		Handler:      answer,
	})

	return svc.Start(ctx)
*/
package runtime
