// Package apperrors defines the error kinds the recording core reports to its callers.
// Each kind maps to exactly one user-facing condition so the command surface can
// pick a message without inspecting error strings.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the command surface
type Kind int

const (
	KindUnknown Kind = iota
	KindSessionConflict
	KindNotConnected
	KindNotRecording
	KindNoSession
	KindBackend
	KindChunking
	KindIO
	KindTranscriptionFailed
)

// String returns the stable machine-readable code for the kind
func (k Kind) String() string {
	switch k {
	case KindSessionConflict:
		return "session_conflict"
	case KindNotConnected:
		return "not_connected"
	case KindNotRecording:
		return "not_recording"
	case KindNoSession:
		return "no_session"
	case KindBackend:
		return "backend_error"
	case KindChunking:
		return "chunking_error"
	case KindIO:
		return "io_error"
	case KindTranscriptionFailed:
		return "transcription_failed"
	default:
		return "internal_error"
	}
}

// HTTPStatus returns the recommended HTTP status code for the kind
func (k Kind) HTTPStatus() int {
	switch k {
	case KindSessionConflict:
		return http.StatusConflict
	case KindNotConnected, KindNotRecording:
		return http.StatusPreconditionFailed
	case KindNoSession:
		return http.StatusNotFound
	case KindChunking:
		return http.StatusUnprocessableEntity
	case KindBackend, KindTranscriptionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Kinder is implemented by typed errors that carry a Kind
type Kinder interface {
	ErrorKind() Kind
}

// Error is a session-level error with the operation and room that produced it
type Error struct {
	Kind Kind
	Op   string
	Room string
	Err  error
}

// Sentinels for errors.Is matching. Only the Kind is compared.
var (
	ErrSessionConflict     = &Error{Kind: KindSessionConflict}
	ErrNotConnected        = &Error{Kind: KindNotConnected}
	ErrNotRecording        = &Error{Kind: KindNotRecording}
	ErrNoSession           = &Error{Kind: KindNoSession}
	ErrTranscriptionFailed = &Error{Kind: KindTranscriptionFailed}
)

// New creates an Error
func New(kind Kind, op, room string, err error) *Error {
	return &Error{Kind: kind, Op: op, Room: room, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Room != "" {
		msg = fmt.Sprintf("%s (room %s)", msg, e.Room)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind implements Kinder
func (e *Error) ErrorKind() Kind { return e.Kind }

// Is reports whether target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first error in the chain that carries one
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindUnknown
}
