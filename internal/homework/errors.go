package homework

import (
	"errors"
	"fmt"
	"net/url"
)

// Kind classifies a failure so the poll loop can decide between
// notify-and-continue and abort.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindConnectivity
	KindRemoteRejection
	KindMalformedResponse
	KindApplication
	KindSchema
	KindUnknownVerdict
	KindDelivery
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConnectivity:
		return "connectivity"
	case KindRemoteRejection:
		return "remote_rejection"
	case KindMalformedResponse:
		return "malformed_response"
	case KindApplication:
		return "application"
	case KindSchema:
		return "schema"
	case KindUnknownVerdict:
		return "unknown_verdict"
	case KindDelivery:
		return "delivery"
	default:
		return "unknown"
	}
}

// Error is the single error type of the package. Only the fields relevant to
// Kind are set.
type Error struct {
	Kind Kind
	Msg  string

	URL        string
	Params     url.Values
	StatusCode int
	Field      string
	Value      any
	Homework   string
	Status     string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }

func schemaError(format string, args ...any) *Error {
	return &Error{Kind: KindSchema, Msg: fmt.Sprintf(format, args...)}
}

// ConfigurationError is returned for missing credentials and invalid
// startup configuration.
func ConfigurationError(msg string, err error) error {
	return &Error{Kind: KindConfiguration, Msg: msg, Err: err}
}

// DeliveryError wraps a failed notification send.
func DeliveryError(err error) error {
	return &Error{Kind: KindDelivery, Msg: "notification delivery failed", Err: err}
}
