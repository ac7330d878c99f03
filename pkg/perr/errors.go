// Package perr implements Polis's closed set of error kinds (§7). Every
// component wraps the errors it surfaces to a caller in an *Error so that
// collaborators — chiefly the CLI's exit-code mapping (§6) — can recover
// the kind with errors.As without parsing message strings.
package perr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the error categories a core component may surface.
type Kind string

const (
	Container     Kind = "container"
	Image         Kind = "image"
	Auth          Kind = "auth"
	Storage       Kind = "storage"
	Security      Kind = "security"
	Config        Kind = "config"
	Io            Kind = "io"
	Serialization Kind = "serialization"
)

// Error wraps a cause with a Kind and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is supports errors.Is against a bare Kind comparison sentinel produced
// by New with a nil Err, e.g. errors.Is(err, &Error{Kind: perr.Storage}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error. err may be nil for a bare kind/message pair.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an *Error with a formatted message wrapped as the cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error; ok is false for errors with no associated kind.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// ExitCode maps an error's kind to the CLI exit code named in §6.
// Non-*Error errors map to the generic failure code 1. Storage errors
// about a deployment (the orchestrator has no dedicated Kind of its own)
// are distinguished by Op so "deployment not found" still maps to 6
// rather than the generic volume code 5.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if !errors.As(err, &e) {
		return 1
	}
	switch e.Kind {
	case Container:
		return 3
	case Image:
		return 4
	case Storage:
		if strings.Contains(e.Op, "deployment") {
			return 6
		}
		return 5
	default:
		return 1
	}
}
