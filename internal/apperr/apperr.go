package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Kind classifies a failure for retry, compensation and response mapping.
type Kind string

const (
	KindNotFound  Kind = "not_found"
	KindConflict  Kind = "conflict"
	KindInvalid   Kind = "invalid"
	KindForbidden Kind = "forbidden"
	KindTransient Kind = "transient"
	KindUnknown   Kind = "unknown"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func Invalid(format string, args ...any) *Error {
	return New(KindInvalid, fmt.Sprintf(format, args...))
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, fmt.Sprintf(format, args...))
}

func Transient(err error, message string) *Error {
	return Wrap(KindTransient, err, message)
}

// KindOf returns the kind of the first *Error in the chain, falling back to
// Classify for infrastructure errors that were never tagged.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	return Classify(err)
}

// Retryable reports whether a failure may succeed on a later attempt.
// Unknown failures are retried; business failures are not.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindUnknown:
		return true
	default:
		return false
	}
}

// Classify maps driver and broker errors onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return KindNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return KindConflict
		case "23503":
			return KindNotFound
		case "23502", "23514", "22P02":
			return KindInvalid
		case "40001", "40P01", "55P03":
			return KindTransient
		}
		// connection exception, insufficient resources, operator intervention
		switch pgErr.Code[:min(2, len(pgErr.Code))] {
		case "08", "53", "57":
			return KindTransient
		}
		return KindUnknown
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return KindTransient
	}

	switch {
	case errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrNoResponders),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, jetstream.ErrNoStreamResponse):
		return KindTransient
	}
	return KindUnknown
}

// HTTPStatus maps a failure kind onto a response status for synchronous paths.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalid:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Response is the structured failure body returned to synchronous callers.
type Response struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// ResponseFor never leaks internal detail for unknown failures.
func ResponseFor(err error) Response {
	kind := KindOf(err)
	if kind == KindUnknown || kind == "" {
		return Response{Kind: KindUnknown, Message: "internal error"}
	}
	return Response{Kind: kind, Message: err.Error()}
}
