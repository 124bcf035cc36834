package oracle

import (
	"errors"
	"fmt"
)

// ErrEmptyReply marks a well-formed response that carried no usable content.
var ErrEmptyReply = errors.New("oracle response contained no reply content")

// RejectedError is an explicit error payload returned by the provider.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("oracle rejected request (status %d): %s", e.StatusCode, e.Message)
}

// UnavailableError is a transport-level failure: the provider was never
// reached or the call timed out before a response arrived.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("oracle unreachable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
