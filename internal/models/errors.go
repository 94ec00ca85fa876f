package models

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

// Error taxonomy shared by gateways, the orchestrator and the API layer.
var (
	ErrInput               = errors.New("invalid input")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamProcessing  = errors.New("upstream processing error")
	ErrModelOutput         = errors.New("model output could not be decoded")
	ErrAuthExpired         = errors.New("credentials expired or invalid")
	ErrThreadNotFound      = errors.New("thread not found")
)

// GatewayError wraps a failed call to an external collaborator. errors.Is
// matches both Kind and the underlying cause.
type GatewayError struct {
	Gateway string
	Op      string
	Kind    error
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Gateway, e.Op, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewGatewayError classifies err and wraps it. Errors that already carry a
// taxonomy kind keep it.
func NewGatewayError(gateway, op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return err
	}
	return &GatewayError{Gateway: gateway, Op: op, Kind: Classify(err), Err: err}
}

// Classify maps a transport error onto the taxonomy.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAuthExpired):
		return ErrAuthExpired
	case errors.Is(err, ErrInput):
		return ErrInput
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrUpstreamTimeout
	case errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, syscall.ECONNREFUSED):
		return ErrUpstreamUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrUpstreamTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrUpstreamUnavailable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrUpstreamUnavailable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrUpstreamUnavailable
	}
	return ErrUpstreamProcessing
}
