// Package errutil defines the error taxonomy shared by the streaming and
// duplex subsystems, and the normalization applied before anything crosses
// the SDK boundary toward an end user.
package errutil

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout reports a request or read that exceeded its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrStreamTimeout reports that no audio arrived within the stream ceiling.
	ErrStreamTimeout = errors.New("stream timed out waiting for first chunk")

	// ErrNotConnected reports a send attempted while the duplex link is not open.
	ErrNotConnected = errors.New("not connected")

	// ErrReconnectExhausted reports that the reconnect attempt cap was reached.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// StatusError reports a non-success HTTP response code.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d", e.Code)
}

// TransportError wraps a low-level connect or send failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecoderError wraps a rejection from the media sink or its writer.
type DecoderError struct {
	Err error
}

func (e *DecoderError) Error() string {
	return fmt.Sprintf("decoder rejected submission: %v", e.Err)
}

func (e *DecoderError) Unwrap() error { return e.Err }

// UserMessage is the only error text shown past the SDK boundary. Detailed
// diagnostics go to the log, never to the user.
const UserMessage = "Something went wrong. Please try again in a moment."

// Normalize returns the generic user-facing message for any error. A nil
// error returns the empty string.
func Normalize(err error) string {
	if err == nil {
		return ""
	}
	return UserMessage
}
