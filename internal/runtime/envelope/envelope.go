// Package envelope defines the message published for every processed inbound
// message, on both the success and the failure path.
package envelope

// StatusCode is the processing status carried by an envelope.
type StatusCode int

const (
	StatusSuccess         StatusCode = 100
	StatusProcessingError StatusCode = 400
)

// CodeError classifies a processing failure.
type CodeError int

const (
	CodeUnexpectedError   CodeError = 1
	CodeMessageValidation CodeError = 2
)

// ErrorTraces maps an error code to its fixed trace text.
var ErrorTraces = map[CodeError]string{
	CodeUnexpectedError:   "Непредвиденная ошибка",
	CodeMessageValidation: "Ошибка валидации входящего сообщения",
}

// ErrorMessageText is the message of every error envelope.
const ErrorMessageText = "ошибка"

// ErrorInfo details one failure. Message is withheld for unexpected errors.
type ErrorInfo struct {
	CodeError CodeError `json:"codeError"`
	Trace     string    `json:"trace"`
	Message   *string   `json:"message,omitempty"`
}

// Envelope is the outbound message body.
type Envelope struct {
	Message    string      `json:"message"`
	StatusCode StatusCode  `json:"statusCode"`
	ErrorInfo  []ErrorInfo `json:"errorInfo,omitempty"`
}

// Success builds a successful envelope.
func Success(message string) Envelope {
	return Envelope{Message: message, StatusCode: StatusSuccess}
}

// Error builds an error envelope carrying a single ErrorInfo.
func Error(status StatusCode, code CodeError, message *string) Envelope {
	return Envelope{
		Message:    ErrorMessageText,
		StatusCode: status,
		ErrorInfo: []ErrorInfo{{
			CodeError: code,
			Trace:     ErrorTraces[code],
			Message:   message,
		}},
	}
}

// UnknownRequestID is used on error envelopes when the inbound request id was
// never established.
const UnknownRequestID = "unknown"

// DestinationKind enumerates the addressable publish targets.
type DestinationKind string

const KindTopic DestinationKind = "topic"

// Destination names where a message is published.
type Destination struct {
	Kind DestinationKind
	Name string
}

// Topic returns a topic destination.
func Topic(name string) Destination {
	return Destination{Kind: KindTopic, Name: name}
}

func (d Destination) String() string {
	return d.Name
}
