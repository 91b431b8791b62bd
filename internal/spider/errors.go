package spider

import (
	"errors"
	"fmt"
)

// ErrUnknownUnit is returned when an operation names a spider that is not in
// the working configuration.
var ErrUnknownUnit = errors.New("unknown spider")

// ErrNoDefault is returned when a reset targets a spider with no registry entry.
var ErrNoDefault = errors.New("spider has no default definition")

// ValidationError reports locally detected malformed input. It never involves
// the backend.
type ValidationError struct {
	Unit   string
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "validation failed"
	if e.Field != "" {
		msg = e.Field + " " + e.Reason
	} else if e.Reason != "" {
		msg = e.Reason
	}
	if e.Unit != "" {
		msg = e.Unit + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// RemoteRejection is an explicit failure reported by the backend.
type RemoteRejection struct {
	Op      string
	Message string
}

func (e *RemoteRejection) Error() string {
	if e.Message == "" {
		return e.Op + ": rejected by backend"
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// TransportError wraps a failure of the remote call itself.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Op + ": transport failure"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Message turns err into the text shown to a user. Backend rejections show the
// backend's message, other errors their own text, and fallback covers the
// case where neither carries one.
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var rejection *RemoteRejection
	if errors.As(err, &rejection) {
		if rejection.Message != "" {
			return rejection.Message
		}
		return fallback
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		if transport.Err != nil && transport.Err.Error() != "" {
			return transport.Err.Error()
		}
		return fallback
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}
