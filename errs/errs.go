// Package errs provides the structured error envelope shared by every venuelink connector.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Code identifies the failure category of a connector operation.
type Code string

const (
	// CodeNetwork indicates the exchange could not be reached or the socket is not open.
	CodeNetwork Code = "network"
	// CodeAuth indicates the exchange rejected the supplied credentials or signature.
	CodeAuth Code = "auth"
	// CodeInvalid indicates a caller error or a missing precondition such as credentials.
	CodeInvalid Code = "invalid_request"
	// CodeUnrecognized indicates an exchange value or message the connector cannot map.
	CodeUnrecognized Code = "unrecognized_message"
	// CodeExchange indicates the exchange answered but refused the request.
	CodeExchange Code = "exchange_error"
	// CodeRateLimited indicates that the request exceeded exchange rate limits.
	CodeRateLimited Code = "rate_limited"
)

// CanonicalCode narrows a Code into an exchange-agnostic reason.
type CanonicalCode string

const (
	// CanonicalUnknown captures uncategorized failures.
	CanonicalUnknown CanonicalCode = "unknown"
	// CanonicalNotConnected indicates an operation required a live socket.
	CanonicalNotConnected CanonicalCode = "not_connected"
	// CanonicalAlreadyConnected indicates connect was invoked while a socket exists.
	CanonicalAlreadyConnected CanonicalCode = "already_connected"
	// CanonicalMissingCredentials indicates signing was requested without a key or secret.
	CanonicalMissingCredentials CanonicalCode = "missing_credentials"
	// CanonicalUnmappedValue indicates an enumeration value with no canonical counterpart.
	CanonicalUnmappedValue CanonicalCode = "unmapped_value"
	// CanonicalOrderNotFound indicates that the referenced order does not exist.
	CanonicalOrderNotFound CanonicalCode = "order_not_found"
	// CanonicalUnsupportedExchange indicates the factory has no bundle for the exchange.
	CanonicalUnsupportedExchange CanonicalCode = "unsupported_exchange"
)

// E captures structured error information produced by connectors.
type E struct {
	Exchange      string
	Code          Code
	HTTP          int
	RawCode       string
	RawMsg        string
	Message       string
	Canonical     CanonicalCode
	VenueMetadata map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the exchange and error code.
func New(exchange string, code Code, opts ...Option) *E {
	e := &E{
		Exchange:      strings.TrimSpace(exchange),
		Code:          code,
		HTTP:          0,
		RawCode:       "",
		RawMsg:        "",
		Message:       "",
		Canonical:     CanonicalUnknown,
		VenueMetadata: nil,
		cause:         nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw exchange error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw exchange error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithCanonicalCode sets the canonical reason.
func WithCanonicalCode(code CanonicalCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = CanonicalCode(trimmed)
	}
}

// WithVenueField appends a single venue metadata key/value pair.
func WithVenueField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.VenueMetadata == nil {
			e.VenueMetadata = make(map[string]string, 1)
		}
		e.VenueMetadata[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	parts := make([]string, 0, 8)

	exchange := e.Exchange
	if exchange == "" {
		exchange = "unknown"
	}
	parts = append(parts, "exchange="+exchange)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := string(e.Canonical); cc != "" && e.Canonical != CanonicalUnknown {
		parts = append(parts, "canonical="+cc)
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if len(e.VenueMetadata) > 0 {
		keys := make([]string, 0, len(e.VenueMetadata))
		for k := range e.VenueMetadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.VenueMetadata[k]))
		}
		parts = append(parts, "venue="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}
	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether the first envelope in err's chain carries code.
// Envelopes wrapped as the cause of another envelope are not consulted.
func Is(err error, code Code) bool {
	var target *E
	if !errors.As(err, &target) {
		return false
	}
	return target.Code == code
}

// CanonicalOf returns the canonical reason of the first envelope in err's chain.
func CanonicalOf(err error) CanonicalCode {
	var target *E
	if !errors.As(err, &target) {
		return CanonicalUnknown
	}
	return target.Canonical
}

// NotConnected returns the standard error for operations that need a live socket.
func NotConnected(exchange string) *E {
	return New(exchange, CodeNetwork, WithMessage("not connected"), WithCanonicalCode(CanonicalNotConnected))
}

// Unmapped returns the standard error for an enumeration value without a canonical counterpart.
func Unmapped(exchange, field, value string) *E {
	return New(exchange, CodeUnrecognized,
		WithMessage("unrecognized "+field),
		WithRawMessage(value),
		WithCanonicalCode(CanonicalUnmappedValue),
		WithVenueField("field", field),
	)
}
