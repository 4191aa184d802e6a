// Package worker runs chunk transcriptions on a bounded pool shared by every
// session in the process.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/scribe/internal/audio"
	"github.com/lexiqai/scribe/internal/observability"
	"github.com/lexiqai/scribe/internal/resilience"
	"github.com/lexiqai/scribe/internal/stt"
)

// ErrPoolClosed is reported for chunks that could not run because the pool shut down
var ErrPoolClosed = errors.New("worker pool closed")

// Transcriber is the backend capability the pool drives
type Transcriber interface {
	Transcribe(ctx context.Context, req *stt.Request) (*stt.Transcription, error)
	RetryPolicy() stt.RetryPolicy
	Variant() stt.Variant
}

// Config bounds the pool
type Config struct {
	Workers          int           // Concurrent backend calls
	QueueSize        int           // Pending chunks before Submit blocks
	ChunkTimeout     time.Duration // Per attempt; 0 disables
	SilenceThreshold float64       // RMS below which a chunk is skipped; 0 disables
	Language         string
}

// DefaultConfig returns the pool defaults
func DefaultConfig() Config {
	return Config{
		Workers:          4,
		QueueSize:        64,
		ChunkTimeout:     5 * time.Minute,
		SilenceThreshold: 50,
	}
}

type job struct {
	ctx     context.Context
	chunk   audio.Chunk
	results chan<- stt.Result
}

// Pool is a fixed set of workers reading from a bounded queue
type Pool struct {
	backend Transcriber
	config  Config
	jobs    chan job
	quit    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

// NewPool starts config.Workers workers
func NewPool(backend Transcriber, config Config) *Pool {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	p := &Pool{
		backend: backend,
		config:  config,
		jobs:    make(chan job, config.QueueSize),
		quit:    make(chan struct{}),
		logger:  observability.WithComponent("worker"),
	}

	p.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go p.work(i)
	}

	p.logger.Info().
		Int("workers", config.Workers).
		Int("queue_size", config.QueueSize).
		Str("variant", backend.Variant().String()).
		Msg("Worker pool started")

	return p
}

// Run transcribes chunks and returns exactly one result per chunk, ordered by
// chunk index. Chunks still pending when ctx is done are reported Failed and
// any result arriving later is dropped.
func (p *Pool) Run(ctx context.Context, chunks []audio.Chunk) []stt.Result {
	results := make([]stt.Result, len(chunks))
	done := make([]bool, len(chunks))
	position := make(map[int]int, len(chunks))
	for i, c := range chunks {
		position[c.Index] = i
	}

	// Buffered so late workers never block once Run has returned
	out := make(chan stt.Result, len(chunks))
	pending := len(chunks)

	finish := func(r stt.Result) {
		i, ok := position[r.ChunkIndex]
		if !ok || done[i] {
			return
		}
		results[i] = r
		done[i] = true
		pending--
	}

	for _, c := range chunks {
		if err := p.Submit(ctx, c, out); err != nil {
			finish(failed(c, 0, err))
		}
	}

	for pending > 0 {
		select {
		case r := <-out:
			finish(r)
		case <-ctx.Done():
			p.abandon(chunks, done, results, ctx.Err())
			return results
		case <-p.quit:
			// Drain whatever already finished before giving up on the rest
			for drained := false; !drained; {
				select {
				case r := <-out:
					finish(r)
				default:
					drained = true
				}
			}
			p.abandon(chunks, done, results, ErrPoolClosed)
			return results
		}
	}

	return results
}

func (p *Pool) abandon(chunks []audio.Chunk, done []bool, results []stt.Result, err error) {
	for i, c := range chunks {
		if !done[i] {
			results[i] = failed(c, 0, err)
			done[i] = true
			observability.RecordChunk("abandoned")
		}
	}
}

// Submit queues one chunk. It blocks while the queue is full and fails once ctx
// is done or the pool is closed.
func (p *Pool) Submit(ctx context.Context, chunk audio.Chunk, results chan<- stt.Result) error {
	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}

	select {
	case p.jobs <- job{ctx: ctx, chunk: chunk, results: results}:
		observability.SetQueueDepth(len(p.jobs))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}
}

// Close stops the workers after their current chunk. Queued chunks are not run.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
	p.logger.Info().Msg("Worker pool stopped")
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			observability.SetQueueDepth(len(p.jobs))
			r := p.process(j.ctx, j.chunk)
			observability.RecordChunk(r.Status.String())
			j.results <- r
		}
	}
}

func (p *Pool) process(ctx context.Context, chunk audio.Chunk) stt.Result {
	logger := p.logger.With().Int("chunk_index", chunk.Index).Logger()

	if err := ctx.Err(); err != nil {
		return failed(chunk, 0, err)
	}

	if audio.IsSilent(chunk.Data, chunk.Format, p.config.SilenceThreshold) {
		logger.Debug().Dur("duration", chunk.Duration).Msg("Skipping silent chunk")
		return stt.Result{ChunkIndex: chunk.Index, Speaker: chunk.Speaker, Status: stt.StatusOk}
	}

	req := &stt.Request{
		Index:    chunk.Index,
		Audio:    chunk.Data,
		Format:   chunk.Format,
		Language: p.config.Language,
	}

	retry := p.backend.RetryPolicy().RetryConfig()
	retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		observability.RecordRetry(p.backend.Variant().String())
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying chunk transcription")
	}

	var transcription *stt.Transcription
	attempts, err := resilience.Retry(ctx, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := p.attemptContext(ctx)
		defer cancel()

		var err error
		transcription, err = p.backend.Transcribe(attemptCtx, req)
		return err
	}, retry, stt.IsTransient)

	if err != nil {
		logger.Error().Err(err).Int("attempts", attempts).Msg("Chunk transcription failed")
		return failed(chunk, attempts, err)
	}

	return stt.Result{
		ChunkIndex: chunk.Index,
		Speaker:    chunk.Speaker,
		Text:       transcription.Text,
		Segments:   transcription.Segments,
		Status:     stt.StatusOk,
		Attempts:   attempts,
	}
}

func (p *Pool) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.ChunkTimeout > 0 {
		return context.WithTimeout(ctx, p.config.ChunkTimeout)
	}
	return context.WithCancel(ctx)
}

func failed(chunk audio.Chunk, attempts int, err error) stt.Result {
	if err == nil {
		err = fmt.Errorf("chunk %d failed", chunk.Index)
	}
	return stt.Result{
		ChunkIndex: chunk.Index,
		Speaker:    chunk.Speaker,
		Status:     stt.StatusFailed,
		Attempts:   attempts,
		Err:        err,
	}
}
