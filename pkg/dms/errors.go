package dms

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when the WebSocket connection did not become
	// ready to send within the send grace period.
	ErrNotReady = errors.New("connection not ready to send")

	// ErrTimeout is returned when no response arrived within the request timeout.
	ErrTimeout = errors.New("no response within timeout")

	// ErrClosed is returned for operations on a closed client. Outstanding
	// waiters are failed with this error when the connection goes down.
	ErrClosed = errors.New("connection closed")

	// ErrEmptyResponse is returned when the server reply contained no records
	// for the command's tag.
	ErrEmptyResponse = errors.New("empty response")
)

// OptionError reports an invalid request option. It is raised before any
// network I/O happens.
type OptionError struct {
	Verb    string
	Field   string
	Message string
}

func (e *OptionError) Error() string {
	return fmt.Sprintf("invalid option %q in %q request: %s", e.Field, e.Verb, e.Message)
}

func newOptionError(verb, field, message string) error {
	return &OptionError{Verb: verb, Field: field, Message: message}
}

// IsOptionError checks if an error is an option validation error.
func IsOptionError(err error) bool {
	var oe *OptionError
	return errors.As(err, &oe)
}

// SubscribeError is returned when the server rejected a subscribe request.
// Other verbs report server-signalled failures in-band via the response Code;
// subscribe cannot, because no subscription handle exists on failure.
type SubscribeError struct {
	Path    string
	Code    Code
	Message string
}

func (e *SubscribeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("subscription of %q rejected with code %q: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("subscription of %q rejected with code %q", e.Path, e.Code)
}
