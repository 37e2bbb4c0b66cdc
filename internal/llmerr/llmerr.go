// Package llmerr defines the provider-neutral failure taxonomy returned to
// callers of the relay.
//
// Every vendor failure is reduced to one Kind. The message a caller sees is
// taken from a fixed table keyed by Kind; the vendor error is kept as Cause
// for logging and is never rendered.
package llmerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
)

// Kind classifies a failure.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindRateLimit      Kind = "rate_limit"
	KindConnection     Kind = "connection"
	KindTimeout        Kind = "timeout"
	KindBadRequest     Kind = "bad_request"
	KindGeneric        Kind = "generic"
)

type entry struct {
	status  int
	message string
}

// Authentication is reported as 503 so callers cannot tell which credential failed.
var table = map[Kind]entry{
	KindAuthentication: {http.StatusServiceUnavailable, "The AI service is not properly configured. Please contact the administrator."},
	KindRateLimit:      {http.StatusServiceUnavailable, "The AI service is receiving too many requests. Please try again shortly."},
	KindConnection:     {http.StatusServiceUnavailable, "Unable to reach the AI service. Please try again later."},
	KindTimeout:        {http.StatusGatewayTimeout, "The AI service took too long to respond. Please try again."},
	KindBadRequest:     {http.StatusBadRequest, "The AI service could not process this request. Please check your message and model selection."},
	KindGeneric:        {http.StatusServiceUnavailable, "The AI service is temporarily unavailable. Please try again later."},
}

// Kinds lists every taxonomy member.
func Kinds() []Kind {
	return []Kind{KindAuthentication, KindRateLimit, KindConnection, KindTimeout, KindBadRequest, KindGeneric}
}

// Message returns the user-safe message for k.
func (k Kind) Message() string {
	if e, ok := table[k]; ok {
		return e.message
	}
	return table[KindGeneric].message
}

// Status returns the HTTP status for k.
func (k Kind) Status() int {
	if e, ok := table[k]; ok {
		return e.status
	}
	return table[KindGeneric].status
}

// ServiceError is a classified failure. Only Kind, Message and Status are
// safe to show to a caller.
type ServiceError struct {
	Kind     Kind
	Message  string
	Status   int
	Provider string
	Cause    error
}

// New builds a ServiceError for kind with its table message and status.
func New(kind Kind, provider string, cause error) *ServiceError {
	if _, ok := table[kind]; !ok {
		kind = KindGeneric
	}
	return &ServiceError{
		Kind:     kind,
		Message:  kind.Message(),
		Status:   kind.Status(),
		Provider: provider,
		Cause:    cause,
	}
}

func (e *ServiceError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

// As returns the ServiceError in err's chain, if any.
func As(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Classifier maps one vendor's errors. It reports false when the error is
// not one it recognises.
type Classifier func(err error) (Kind, bool)

// Classify runs the transport checks shared by every vendor and then the
// vendor table. Timeouts are checked before connection failures because a
// dial or read timeout is also a net.Error.
func Classify(provider string, err error, vendor Classifier) *ServiceError {
	if err == nil {
		return nil
	}
	if se, ok := As(err); ok {
		return se
	}
	if IsTimeout(err) {
		return New(KindTimeout, provider, err)
	}
	if vendor != nil {
		if kind, ok := vendor(err); ok {
			return New(kind, provider, err)
		}
	}
	if IsConnection(err) {
		return New(KindConnection, provider, err)
	}
	return New(KindGeneric, provider, err)
}

// FromStatus classifies a vendor HTTP status code.
func FromStatus(status int) (Kind, bool) {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuthentication, true
	case status == http.StatusTooManyRequests:
		return KindRateLimit, true
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return KindTimeout, true
	case status == http.StatusBadRequest, status == http.StatusNotFound,
		status == http.StatusUnprocessableEntity, status == http.StatusRequestEntityTooLarge:
		return KindBadRequest, true
	case status >= 500:
		return KindGeneric, true
	}
	return "", false
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsConnection reports whether err is a transport failure that never
// produced a response.
func IsConnection(err error) bool {
	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
		urlErr *url.Error
	)
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return true
	case errors.As(err, &urlErr):
		return true
	}
	return false
}
