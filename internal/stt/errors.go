package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexiqai/scribe/internal/apperrors"
	"github.com/lexiqai/scribe/internal/resilience"
)

// ErrorClass tells the worker whether a failed chunk is worth retrying
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassPermanent
)

func (c ErrorClass) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

// BackendError is the classified failure of a transcription call
type BackendError struct {
	Class      ErrorClass
	Variant    Variant
	Engine     string
	StatusCode int // HTTP status when the engine reported one
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s backend %s (%s, status %d): %v", e.Variant, e.Engine, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s backend %s (%s): %v", e.Variant, e.Engine, e.Class, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// ErrorKind implements apperrors.Kinder
func (e *BackendError) ErrorKind() apperrors.Kind { return apperrors.KindBackend }

// Transient reports whether the failure may succeed on retry
func (e *BackendError) Transient() bool { return e.Class == ClassTransient }

// NewTransientError marks err as retryable
func NewTransientError(err error) *BackendError {
	return &BackendError{Class: ClassTransient, Err: err}
}

// NewPermanentError marks err as not retryable
func NewPermanentError(err error) *BackendError {
	return &BackendError{Class: ClassPermanent, Err: err}
}

// IsTransient reports whether err is a transient BackendError
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Transient()
}

// classifyStatus maps an HTTP status to an error class
func classifyStatus(code int) ErrorClass {
	switch {
	case code == 408 || code == 429:
		return ClassTransient
	case code >= 500:
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// classify tags err for variant. Local failures are always permanent; remote
// failures are transient when they look like network, timeout or throttling.
func classify(err error, variant Variant, engine string) *BackendError {
	var be *BackendError
	if errors.As(err, &be) {
		out := *be
		out.Variant = variant
		out.Engine = engine
		if variant == VariantLocal {
			out.Class = ClassPermanent
		}
		return &out
	}

	class := ClassPermanent
	if variant == VariantRemote {
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			class = ClassTransient
		case errors.Is(err, context.Canceled):
			class = ClassPermanent
		case resilience.IsRetryableNetworkError(err):
			class = ClassTransient
		}
	}
	return &BackendError{Class: class, Variant: variant, Engine: engine, Err: err}
}
