package cli

import (
	"github.com/lexiqai/scribe/internal/audio"
	"github.com/lexiqai/scribe/internal/config"
	"github.com/lexiqai/scribe/internal/recorder"
	"github.com/lexiqai/scribe/internal/session"
	"github.com/lexiqai/scribe/internal/stt"
	"github.com/lexiqai/scribe/internal/transcript"
	"github.com/lexiqai/scribe/internal/worker"
)

// pipeline is the recording core assembled from configuration
type pipeline struct {
	format   audio.Format
	backend  *stt.Backend
	pool     *worker.Pool
	recorder *recorder.Recorder
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	backend, err := stt.NewBackend(cfg)
	if err != nil {
		return nil, err
	}

	format := audio.Mono16(cfg.AudioSampleRate)
	pool := worker.NewPool(backend, worker.Config{
		Workers:          cfg.WorkerPoolSize,
		QueueSize:        cfg.WorkerQueueSize,
		ChunkTimeout:     cfg.ChunkTimeout,
		SilenceThreshold: cfg.SilenceRMSThreshold,
		Language:         cfg.WhisperLanguage,
	})

	chunker := audio.NewChunker(audio.ChunkerConfig{
		MaxBytes:    cfg.ChunkMaxBytes,
		MaxDuration: cfg.ChunkMaxDuration,
		Overlap:     cfg.ChunkOverlap,
		MinDuration: cfg.MinAudioDuration,
	})

	rec := recorder.New(
		session.NewRegistry(format),
		chunker,
		pool,
		transcript.NewWriter(cfg.TranscriptDir),
		recorder.Config{
			TeardownTimeout: cfg.TeardownTimeout,
			ShutdownGrace:   cfg.ShutdownGrace,
		},
	)

	return &pipeline{
		format:   format,
		backend:  backend,
		pool:     pool,
		recorder: rec,
	}, nil
}
