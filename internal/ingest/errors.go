package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrParse marks a malformed inbound message.
	ErrParse = errors.New("ingest: malformed message")

	// ErrCommandUnavailable is returned when no broker connection is configured.
	ErrCommandUnavailable = errors.New("ingest: command channel unavailable")
)

// ParseError describes why a message was dropped.
type ParseError struct {
	Topic  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingest: %s: %s: %v", e.Topic, e.Reason, e.Err)
	}
	return fmt.Sprintf("ingest: %s: %s", e.Topic, e.Reason)
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrParse}
	}
	return []error{ErrParse, e.Err}
}
