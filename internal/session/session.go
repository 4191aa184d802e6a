// Package session tracks the recording lifecycle of each voice room.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/scribe/internal/apperrors"
	"github.com/lexiqai/scribe/internal/audio"
	"github.com/lexiqai/scribe/internal/observability"
	"github.com/lexiqai/scribe/internal/transcript"
)

// ErrDiscarded is returned by Commit when the session was closed before its
// transcript could be persisted
var ErrDiscarded = errors.New("session closed before the transcript was written")

// State is a session lifecycle state
type State int

const (
	StateIdle State = iota
	StateConnected
	StateRecording
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sink is the voice-side handle that delivers audio for a room. It is released
// exactly once when the session closes.
type Sink interface {
	Release() error
}

// Session is one room's recording lifecycle
type Session struct {
	id     string
	room   string
	format audio.Format

	mu        sync.Mutex
	state     State
	sink      Sink
	buffer    *audio.Buffer
	lines     []transcript.Line
	createdAt time.Time
	startedAt time.Time
	stoppedAt time.Time

	cleanup Cleanup
	done    chan struct{}
	logger  zerolog.Logger
}

// New creates an Idle session for room recording audio in format
func New(room string, format audio.Format) *Session {
	id := uuid.New().String()
	observability.SessionOpened()
	return &Session{
		id:        id,
		room:      room,
		format:    format,
		state:     StateIdle,
		createdAt: time.Now(),
		done:      make(chan struct{}),
		logger:    observability.WithRoom(room, id),
	}
}

// ID returns the unique session ID
func (s *Session) ID() string { return s.id }

// Room returns the room the session belongs to
func (s *Session) Room() string { return s.room }

// Logger returns a logger scoped to the session
func (s *Session) Logger() zerolog.Logger { return s.logger }

// Done is closed once the session reaches Closed
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns when recording started
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// StoppedAt returns when recording stopped
func (s *Session) StoppedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stoppedAt
}

// MarkConnected records that the voice side joined the room
func (s *Session) MarkConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return apperrors.New(apperrors.KindSessionConflict, "connect", s.room, nil)
	}
	s.state = StateConnected
	s.logger.Info().Msg("Session connected")
	return nil
}

// AttachSink hands the voice sink to the session. The session releases it on close.
func (s *Session) AttachSink(sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateIdle || s.state == StateClosed:
		return apperrors.New(apperrors.KindNotConnected, "attach", s.room, nil)
	case s.sink != nil:
		return apperrors.New(apperrors.KindSessionConflict, "attach", s.room, nil)
	case s.state != StateConnected:
		return apperrors.New(apperrors.KindSessionConflict, "attach", s.room, nil)
	}

	s.sink = sink
	s.cleanup.Add("sink", sink.Release)
	return nil
}

// StartRecording begins buffering audio
func (s *Session) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRecording, StateStopping:
		return apperrors.New(apperrors.KindSessionConflict, "start", s.room, nil)
	case StateConnected:
		if s.sink == nil {
			return apperrors.New(apperrors.KindNotConnected, "start", s.room, nil)
		}
	default:
		return apperrors.New(apperrors.KindNotConnected, "start", s.room, nil)
	}

	s.buffer = audio.NewBuffer(s.format)
	s.cleanup.Add("buffer", s.releaseBuffer)
	s.startedAt = time.Now()
	s.state = StateRecording

	s.logger.Info().Msg("Recording started")
	return nil
}

// WriteFrame appends one frame from speaker to the recording
func (s *Session) WriteFrame(speaker string, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return apperrors.New(apperrors.KindNotRecording, "write", s.room, nil)
	}
	if err := s.buffer.Write(speaker, frame); err != nil {
		return err
	}
	observability.RecordAudioBytes("session", len(frame))
	return nil
}

// StopRecording stops intake and hands the buffered audio to the caller. The
// session keeps no reference to it afterwards.
func (s *Session) StopRecording() (*audio.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return nil, apperrors.New(apperrors.KindNotRecording, "stop", s.room, nil)
	}

	buf := s.buffer
	s.buffer = nil
	s.stoppedAt = time.Now()
	s.state = StateStopping

	s.logger.Info().
		Dur("audio", buf.Duration()).
		Dur("elapsed", s.stoppedAt.Sub(s.startedAt)).
		Msg("Recording stopped")
	return buf, nil
}

// Lines returns a copy of the transcript lines
func (s *Session) Lines() []transcript.Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transcript.Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// Commit persists a Stopping session's transcript and closes the session as
// one step. A session force-closed first returns ErrDiscarded without calling
// write. A ForceClose arriving during write waits for it and finds the session
// already closed.
func (s *Session) Commit(lines []transcript.Line, write func() error) error {
	s.mu.Lock()
	switch s.state {
	case StateStopping:
	case StateClosed:
		s.mu.Unlock()
		return ErrDiscarded
	default:
		state := s.state
		s.mu.Unlock()
		return apperrors.New(apperrors.KindNotRecording, "commit", s.room, fmt.Errorf("session is %s", state))
	}

	if err := write(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.lines = append(s.lines, lines...)
	s.closeLocked("finished")
	s.mu.Unlock()

	s.release()
	return nil
}

// ForceClose moves the session to Closed from any state. It never waits for
// in-flight transcription, only for a Commit already writing, and is safe to
// call repeatedly from any goroutine.
func (s *Session) ForceClose() error {
	s.mu.Lock()
	if s.state != StateClosed {
		s.closeLocked("force closed")
	}
	s.mu.Unlock()

	return s.release()
}

// closeLocked must be called with mu held
func (s *Session) closeLocked(reason string) {
	from := s.state
	s.state = StateClosed
	close(s.done)
	observability.SessionClosed()
	s.logger.Info().Str("from", from.String()).Str("reason", reason).Msg("Session closed")
}

func (s *Session) release() error {
	err := s.cleanup.Run()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Session release failed")
	}
	return err
}

func (s *Session) releaseBuffer() error {
	s.mu.Lock()
	buf := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if buf != nil {
		buf.Release()
	}
	return nil
}

// Info is a point-in-time view of a session
type Info struct {
	ID        string        `json:"session_id"`
	Room      string        `json:"room"`
	State     string        `json:"state"`
	CreatedAt time.Time     `json:"created_at"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	StoppedAt time.Time     `json:"stopped_at,omitempty"`
	Buffered  time.Duration `json:"buffered_ns"`
	Speakers  []string      `json:"speakers,omitempty"`
	Lines     int           `json:"lines"`
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:        s.id,
		Room:      s.room,
		State:     s.state.String(),
		CreatedAt: s.createdAt,
		StartedAt: s.startedAt,
		StoppedAt: s.stoppedAt,
		Lines:     len(s.lines),
	}
	if s.buffer != nil {
		info.Buffered = s.buffer.Duration()
		info.Speakers = s.buffer.Speakers()
	}
	return info
}
