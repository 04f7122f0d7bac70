package broker

import (
	"errors"
	"fmt"
)

// TransportError covers network faults, timeouts, and 5xx-class brokerage
// responses: the request may not have reached the matching engine, so it is
// safe to retry before an ack was observed.
type TransportError struct {
	Op      string // "submit", "poll", "cancel"
	Message string
	Timeout bool
	Cause   error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("broker %s transport error: %s (%v)", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("broker %s transport error: %s", e.Op, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// BusinessRejection means the brokerage received and declined the order
// (insufficient funds, unknown instrument, session closed). Never retried.
type BusinessRejection struct {
	Code    string
	Message string
}

func (e *BusinessRejection) Error() string {
	return fmt.Sprintf("broker rejected order [%s]: %s", e.Code, e.Message)
}

func NewTransportError(op, message string, timeout bool, cause error) *TransportError {
	return &TransportError{Op: op, Message: message, Timeout: timeout, Cause: cause}
}

func NewBusinessRejection(code, message string) *BusinessRejection {
	return &BusinessRejection{Code: code, Message: message}
}

// IsTransport reports whether err is (or wraps) a transport fault.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsBusinessRejection reports whether err is (or wraps) a brokerage decline.
func IsBusinessRejection(err error) bool {
	var br *BusinessRejection
	return errors.As(err, &br)
}
