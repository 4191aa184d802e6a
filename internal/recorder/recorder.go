// Package recorder ties the session lifecycle to the audio-to-text pipeline and
// exposes the operations the voice side and the command surface call.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/scribe/internal/apperrors"
	"github.com/lexiqai/scribe/internal/audio"
	"github.com/lexiqai/scribe/internal/observability"
	"github.com/lexiqai/scribe/internal/session"
	"github.com/lexiqai/scribe/internal/stt"
	"github.com/lexiqai/scribe/internal/transcript"
)

// ErrShuttingDown is returned for new work once Shutdown has begun
var ErrShuttingDown = errors.New("recorder is shutting down")

// Pool runs chunk transcriptions
type Pool interface {
	Run(ctx context.Context, chunks []audio.Chunk) []stt.Result
}

// Config bounds the stop pipeline
type Config struct {
	TeardownTimeout time.Duration
	ShutdownGrace   time.Duration
}

// Recorder is the entry point for every room operation
type Recorder struct {
	registry *session.Registry
	chunker  *audio.Chunker
	pool     Pool
	writer   *transcript.Writer
	config   Config

	baseCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	mu       sync.RWMutex
	closed   bool

	logger zerolog.Logger
}

// New creates a recorder
func New(registry *session.Registry, chunker *audio.Chunker, pool Pool, writer *transcript.Writer, config Config) *Recorder {
	ctx, cancel := context.WithCancel(context.Background())
	return &Recorder{
		registry: registry,
		chunker:  chunker,
		pool:     pool,
		writer:   writer,
		config:   config,
		baseCtx:  ctx,
		cancel:   cancel,
		logger:   observability.WithComponent("recorder"),
	}
}

// Registry returns the session registry
func (r *Recorder) Registry() *session.Registry {
	return r.registry
}

// OnJoin connects a room and hands its sink to the session. A room with an
// active session is rejected.
func (r *Recorder) OnJoin(room string, sink session.Sink) error {
	if r.isClosed() {
		return ErrShuttingDown
	}

	s := r.registry.GetOrCreate(room)
	if err := s.MarkConnected(); err != nil {
		return err
	}
	if err := s.AttachSink(sink); err != nil {
		return err
	}

	r.logger.Info().Str("room_id", room).Str("session_id", s.ID()).Msg("Voice joined room")
	return nil
}

// OnAudioFrame delivers one frame of mono PCM from speaker
func (r *Recorder) OnAudioFrame(room, speaker string, frame []byte) error {
	s, ok := r.registry.Get(room)
	if !ok {
		return apperrors.New(apperrors.KindNoSession, "audio", room, nil)
	}
	return s.WriteFrame(speaker, frame)
}

// OnDisconnect is called when the voice side leaves the room
func (r *Recorder) OnDisconnect(room string) error {
	return r.ForceClose(room)
}

// StartRecording starts buffering a connected room's audio
func (r *Recorder) StartRecording(room string) error {
	if r.isClosed() {
		return ErrShuttingDown
	}

	s, ok := r.registry.Get(room)
	if !ok {
		return apperrors.New(apperrors.KindNotConnected, "start", room, nil)
	}
	return s.StartRecording()
}

// StopRecording stops the room's recording, transcribes it and returns the
// transcript file path. The session is closed afterwards whatever the outcome.
func (r *Recorder) StopRecording(ctx context.Context, room string) (string, error) {
	s, ok := r.registry.Get(room)
	if !ok {
		return "", apperrors.New(apperrors.KindNoSession, "stop", room, nil)
	}

	buf, err := s.StopRecording()
	if err != nil {
		return "", err
	}
	defer buf.Release()

	if !r.track() {
		s.ForceClose()
		r.registry.RemoveSession(s)
		return "", ErrShuttingDown
	}
	defer r.inflight.Done()

	// The stop has been accepted. Only the teardown timeout or shutdown may
	// cancel it from here, not the caller going away.
	ctx, cancel := r.pipelineContext(context.WithoutCancel(ctx))
	defer cancel()

	logger := s.Logger()
	metrics := observability.NewRecordingMetrics(room)
	metrics.RecordStopRequested(buf.Duration())

	commit := func(tr *transcript.Transcript, write func() error) error {
		return s.Commit(tr.Lines, write)
	}
	tr, path, err := r.pipeline(ctx, room, buf, func() bool { return s.State() == session.StateClosed }, commit, logger)
	if err != nil {
		metrics.RecordOutcome(outcomeOf(err))
		observability.RecordError(apperrors.KindOf(err).String(), "recorder")
		logger.Error().Err(err).Msg("Recording failed")

		s.ForceClose()
		r.registry.RemoveSession(s)
		if errors.Is(err, session.ErrDiscarded) {
			return "", apperrors.New(apperrors.KindNoSession, "stop", room, err)
		}
		return "", err
	}
	r.registry.RemoveSession(s)

	metrics.RecordOutcome("ok")
	logger.Info().
		Str("path", path).
		Int("chunks", tr.Chunks).
		Int("gaps", len(tr.Gaps)).
		Msg("Transcript written")
	return path, nil
}

// TranscribeBuffer runs the stop pipeline on audio captured outside a session
func (r *Recorder) TranscribeBuffer(ctx context.Context, name string, buf *audio.Buffer) (*transcript.Transcript, string, error) {
	if !r.track() {
		return nil, "", ErrShuttingDown
	}
	defer r.inflight.Done()

	ctx, cancel := r.pipelineContext(ctx)
	defer cancel()

	commit := func(_ *transcript.Transcript, write func() error) error { return write() }
	return r.pipeline(ctx, name, buf, func() bool { return false }, commit, r.logger.With().Str("name", name).Logger())
}

// commitFunc persists a finished transcript through write. The session
// variant refuses once the session has been force-closed.
type commitFunc func(tr *transcript.Transcript, write func() error) error

// pipeline chunks, transcribes, aggregates and persists buf. discarded skips
// failure reporting for a session already closed; commit makes the write and
// the close atomic so a force-closed session never produces a file.
func (r *Recorder) pipeline(ctx context.Context, room string, buf *audio.Buffer, discarded func() bool, commit commitFunc, logger zerolog.Logger) (*transcript.Transcript, string, error) {
	chunks, err := r.chunker.Split(buf)
	if err != nil {
		return nil, "", apperrors.New(apperrors.KindChunking, "stop", room, err)
	}
	logger.Info().
		Int("chunks", len(chunks)).
		Dur("audio", buf.Duration()).
		Msg("Transcribing recording")

	results := r.pool.Run(ctx, chunks)

	tr, err := transcript.Aggregate(chunks, results)
	if err != nil {
		return nil, "", apperrors.New(apperrors.KindUnknown, "aggregate", room, err)
	}

	if discarded() {
		return nil, "", session.ErrDiscarded
	}

	if tr.Failed() {
		return nil, "", apperrors.New(apperrors.KindTranscriptionFailed, "stop", room, firstError(results))
	}

	var path string
	err = commit(tr, func() error {
		var werr error
		path, werr = r.writer.Write(room, tr)
		return werr
	})
	switch {
	case errors.Is(err, session.ErrDiscarded), apperrors.KindOf(err) == apperrors.KindNotRecording:
		return nil, "", err
	case err != nil:
		return nil, "", apperrors.New(apperrors.KindIO, "stop", room, err)
	}
	return tr, path, nil
}

// ForceClose closes the room's session immediately. Closing an unknown room is a no-op.
func (r *Recorder) ForceClose(room string) error {
	s, ok := r.registry.Get(room)
	if !ok {
		return nil
	}
	err := s.ForceClose()
	r.registry.RemoveSession(s)
	return err
}

// Shutdown rejects new work, closes every session, cancels outstanding batches
// and waits for in-flight pipelines up to the shutdown grace
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.logger.Info().Int("sessions", r.registry.Len()).Msg("Shutting down recorder")
	r.registry.CloseAll()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()

	grace := r.config.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("in-flight recordings did not finish within %s", grace)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pipelineContext bounds ctx by the teardown timeout and cancels it on shutdown
func (r *Recorder) pipelineContext(ctx context.Context) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc
	if r.config.TeardownTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.config.TeardownTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	stop := context.AfterFunc(r.baseCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (r *Recorder) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// track registers an in-flight pipeline unless shutdown has begun
func (r *Recorder) track() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	r.inflight.Add(1)
	return true
}

func firstError(results []stt.Result) error {
	for _, res := range results {
		if res.Err != nil {
			return res.Err
		}
	}
	return errors.New("every chunk failed")
}

func outcomeOf(err error) string {
	if errors.Is(err, session.ErrDiscarded) {
		return "discarded"
	}
	return apperrors.KindOf(err).String()
}
