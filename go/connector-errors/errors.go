package errors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Kind classifies the failures the connector distinguishes between. Config,
// Connection, Query and Persistence errors are fatal. FieldNormalization and
// RowDecode errors are recovered locally and only ever logged.
type Kind int

const (
	KindConfig Kind = iota + 1
	KindConnection
	KindQuery
	KindFieldNormalization
	KindRowDecode
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindConnection:
		return "ConnectionError"
	case KindQuery:
		return "QueryError"
	case KindFieldNormalization:
		return "FieldNormalizationWarning"
	case KindRowDecode:
		return "RowDecodeError"
	case KindPersistence:
		return "PersistenceError"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a classified connector error wrapping its underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so that callers can
// write errors.Is(err, &Error{Kind: KindQuery}).
func (e *Error) Is(target error) bool {
	var t, ok = target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

func newError(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

func NewConfigError(err error) error      { return newError(KindConfig, err) }
func NewConnectionError(err error) error  { return newError(KindConnection, err) }
func NewQueryError(err error) error       { return newError(KindQuery, err) }
func NewFieldError(err error) error       { return newError(KindFieldNormalization, err) }
func NewRowDecodeError(err error) error   { return newError(KindRowDecode, err) }
func NewPersistenceError(err error) error { return newError(KindPersistence, err) }

// IsKind reports whether any error in the chain of err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// KindOf returns the kind of the outermost classified error in the chain of
// err, or zero if err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// UserError wraps a source error with a user-facing message for the error string. The source error
// can be provided so that it can be logged separately from the user-facing message for diagnostic
// purposes.
type UserError struct {
	message string
	source  error
}

// NewUserError creates a UserError that will output message as the error string.
func NewUserError(source error, message string) *UserError {
	return &UserError{
		message: message,
		source:  source,
	}
}

func (e *UserError) Unwrap() error {
	return e.source
}

func (e *UserError) Error() string {
	return e.message
}

// Source returns the wrapped source error.
func (e *UserError) Source() error {
	return e.source
}

// HandleFinalError logs the error which terminated the connector and exits the
// process. Cancellation of the run context is a requested shutdown and exits
// cleanly; everything else exits with status 1.
func HandleFinalError(err error) {
	os.Exit(finalize(err))
}

func finalize(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		log.Info("connector shut down")
		return 0
	}

	var fields = log.Fields{"kind": KindOf(err).String()}
	if KindOf(err) == 0 {
		fields["kind"] = "UnclassifiedError"
	}
	var userError *UserError
	if errors.As(err, &userError) && userError.Source() != nil {
		fields["source"] = userError.Source().Error()
	}
	log.WithField("trace", errorTrace(err)).Debug("fatal error diagnostics")
	log.WithFields(fields).Error(err.Error())
	return 1
}

// errorTrace renders every layer of a wrapped error chain, outermost first.
func errorTrace(err error) []string {
	var trace []string
	for err != nil {
		trace = append(trace, fmt.Sprintf("%T: %s", err, err.Error()))
		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				trace = append(trace, errorTrace(inner)...)
			}
			return trace
		default:
			err = errors.Unwrap(err)
		}
	}
	return trace
}

// PrereqErr is a wrapper for recording accumulated errors during prerequisite checking and
// formatting them for user presentation.
type PrereqErr struct {
	errs []error
}

// Err adds an error to the accumulated list of errors.
func (e *PrereqErr) Err(err error) {
	e.errs = append(e.errs, err)
}

func (e *PrereqErr) Len() int {
	return len(e.errs)
}

func (e *PrereqErr) Unwrap() []error {
	return e.errs
}

func (e *PrereqErr) Error() string {
	var b = new(strings.Builder)
	fmt.Fprintf(b, "the connector cannot run due to the following error(s):")
	for _, err := range e.errs {
		b.WriteString("\n - ")
		b.WriteString(err.Error())
	}
	return b.String()
}
