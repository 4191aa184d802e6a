package stt

import (
	"context"
	"time"

	"github.com/lexiqai/scribe/internal/audio"
)

// Variant identifies the family of transcription engine in use
type Variant int

const (
	VariantRemote Variant = iota
	VariantLocal
)

func (v Variant) String() string {
	if v == VariantLocal {
		return "local"
	}
	return "remote"
}

// Request is one chunk of audio to transcribe
type Request struct {
	// Index is the position of the chunk in its recording
	Index int

	// Audio is mono 16-bit little-endian PCM
	Audio []byte

	// Format describes Audio
	Format audio.Format

	// Language is an optional ISO-639-1 hint
	Language string
}

// Segment is a timed piece of a transcription, relative to the chunk start
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Transcription is what an engine returns for one chunk
type Transcription struct {
	// Text is the full transcribed text
	Text string

	// Segments is optional. Engines that cannot time their output leave it empty.
	Segments []Segment

	// Language is the detected or requested language, if reported
	Language string
}

// Status is the terminal state of a chunk
type Status int

const (
	StatusOk Status = iota
	StatusFailed
)

func (s Status) String() string {
	if s == StatusFailed {
		return "failed"
	}
	return "ok"
}

// Result is the single terminal outcome of one chunk
type Result struct {
	ChunkIndex int
	Speaker    string
	Text       string
	Segments   []Segment
	Status     Status
	Attempts   int
	Err        error
}

// Engine is a concrete speech-to-text implementation
type Engine interface {
	// Name identifies the engine in logs and metrics
	Name() string

	// Transcribe converts one chunk of audio to text
	Transcribe(ctx context.Context, req *Request) (*Transcription, error)
}

// HealthChecker is implemented by engines that can report their availability
type HealthChecker interface {
	Health(ctx context.Context) error
}
