package ragstream

import (
	runtimepkg "github.com/drblury/ragstream/internal/runtime"
	configpkg "github.com/drblury/ragstream/internal/runtime/config"
	envelopepkg "github.com/drblury/ragstream/internal/runtime/envelope"
	errspkg "github.com/drblury/ragstream/internal/runtime/errors"
	handlerpkg "github.com/drblury/ragstream/internal/runtime/handlers"
	headerspkg "github.com/drblury/ragstream/internal/runtime/headers"
	"github.com/drblury/ragstream/internal/runtime/health"
	idspkg "github.com/drblury/ragstream/internal/runtime/ids"
	jsoncodec "github.com/drblury/ragstream/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/ragstream/internal/runtime/logging"
	metadatapkg "github.com/drblury/ragstream/internal/runtime/metadata"
	metricspkg "github.com/drblury/ragstream/internal/runtime/metrics"
	"github.com/drblury/ragstream/internal/runtime/reqctx"
	transportpkg "github.com/drblury/ragstream/internal/runtime/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	Transport            = transportpkg.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	MessageHandlerRegistration            = runtimepkg.MessageHandlerRegistration
	JSONHandlerRegistration[T any, O any] = handlerpkg.JSONHandlerRegistration[T, O]
	JSONMessageContext[T any]             = handlerpkg.JSONMessageContext[T]
	JSONMessageHandler[T any, O any]      = handlerpkg.JSONMessageHandler[T, O]
	MessageContextBase                    = handlerpkg.MessageContextBase

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Producer = runtimepkg.Producer

	Envelope    = envelopepkg.Envelope
	Destination = envelopepkg.Destination
	Metadata    = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	MetricsCollector = metricspkg.Collector
	BaseLabels       = metricspkg.BaseLabels

	HealthChecker = health.Checker
	HealthReport  = health.Report

	HandlerInfo  = runtimepkg.HandlerInfo
	HandlerStats = runtimepkg.HandlerStats

	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	ValidationError       = errspkg.ValidationError
	ValueError            = errspkg.ValueError
	PublishError          = errspkg.PublishError
	ConfigValidationError = errspkg.ConfigValidationError
)

var (
	LoadConfig     = configpkg.Load
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig

	RegisterMessageHandler = runtimepkg.RegisterMessageHandler

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	RouterMetricsMiddleware = runtimepkg.RouterMetricsMiddleware

	NewJSONMessage = runtimepkg.NewJSONMessage
	PublishJSON    = runtimepkg.PublishJSON
	Topic          = envelopepkg.Topic
	Success        = envelopepkg.Success

	NewMetricsCollector = metricspkg.New
	NewNopMetrics       = metricspkg.NewNop

	NewHealthChecker   = health.NewChecker
	NewRedisChecker    = health.NewRedisChecker
	NewPostgresChecker = health.NewPostgresChecker

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrConsumeTopicRequired = errspkg.ErrConsumeTopicRequired
	ErrPublishTopicRequired = errspkg.ErrPublishTopicRequired
	ErrHandlerNameRequired  = errspkg.ErrHandlerNameRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrPayloadRequired      = errspkg.ErrPayloadRequired
	NewValueError           = errspkg.NewValueError

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewLogger            = loggingpkg.New

	NewMetadata   = metadatapkg.New
	CreateHeaders = headerspkg.Create

	CreateULID   = idspkg.CreateULID
	NewRequestID = idspkg.NewRequestID

	// RequestID returns the request id of the message being processed.
	RequestID = reqctx.RequestID
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

func RegisterJSONHandler[T any, O any](svc *Service, cfg JSONHandlerRegistration[T, O]) error {
	return runtimepkg.RegisterJSONHandler(svc, cfg)
}
