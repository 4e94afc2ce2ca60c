package bus

import (
	"errors"
	"fmt"
)

// TransportError reports that the broker could not be reached or rejected an operation.
// Callers do not retry within a cycle; the next tick retries.
type TransportError struct {
	Op     string
	Stream string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Stream == "" {
		return fmt.Sprintf("bus %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("bus %s %s: %v", e.Op, e.Stream, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DeserializationError reports a stream entry whose payload cannot be decoded.
// Such entries are dead-lettered and acknowledged so they are not redelivered forever.
type DeserializationError struct {
	Stream string
	ID     string
	Err    error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("decode %s/%s: %v", e.Stream, e.ID, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// IsTransport reports whether err (or anything it wraps) is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsDeserialization reports whether err (or anything it wraps) is a DeserializationError.
func IsDeserialization(err error) bool {
	var de *DeserializationError
	return errors.As(err, &de)
}
