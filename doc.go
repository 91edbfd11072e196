// Package ragstream runs question-answering workers on top of Watermill and
// Kafka. A Service consumes JSON messages from one topic, passes each through
// a fixed processing pipeline, and publishes exactly one envelope per inbound
// message to the output topic, on the success path and on every failure path.
//
// The pipeline seeds a per-message context, validates the requestId header,
// bounds concurrency, records Prometheus metrics and recovers panics before the
// handler runs. Handler errors are classified into validation (400/2) or
// unexpected (400/1) envelopes.
//
// A minimal worker loads Config, creates a Service, registers a JSON handler
// and calls Start:
//
//	cfg, err := ragstream.LoadConfig()
//	if err != nil {
//		return err
//	}
//	svc, err := ragstream.NewService(cfg, logger, ctx, ragstream.ServiceDependencies{})
//	if err != nil {
//		return err
//	}
//	err = ragstream.RegisterJSONHandler(svc, ragstream.JSONHandlerRegistration[*Question, ragstream.Envelope]{
//		Name:         "rag",
//		ConsumeTopic: cfg.ReadKafka.TopicIn,
//		PublishTopic: cfg.WriteKafka.TopicOut,
//		Handler:      answer,
//	})
//
// # Transports
//
// PUBSUB_SYSTEM selects "kafka" (the default) or "channel", an in-memory
// transport for tests and local runs.
//
// # Probes
//
// When API_PORT is set the Service serves /live, /ready, /health, /metrics and
// /api/handlers with per-handler statistics. Readiness checkers for Redis and
// PostgreSQL can be passed through ServiceDependencies.
package ragstream
