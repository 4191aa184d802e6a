package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/scribe/internal/audio"
	"github.com/lexiqai/scribe/internal/config"
	"github.com/lexiqai/scribe/internal/observability"
	"github.com/lexiqai/scribe/internal/resilience"
)

// RetryPolicy bounds how often the worker re-attempts a transient failure
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RetryConfig converts the policy for resilience.Retry
func (p RetryPolicy) RetryConfig() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:       p.MaxAttempts,
		InitialBackoff:    p.InitialBackoff,
		MaxBackoff:        p.MaxBackoff,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Option customizes a Backend
type Option func(*Backend)

// WithCircuitBreaker guards engine calls with cb. Only remote backends use it.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(b *Backend) { b.breaker = cb }
}

// WithRetryPolicy overrides the variant's default retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(b *Backend) { b.retry = p }
}

// Backend is the single transcription capability shared by every session.
// The variant is fixed at construction.
type Backend struct {
	variant Variant
	engine  Engine
	format  audio.Format
	breaker *resilience.CircuitBreaker
	retry   RetryPolicy
	logger  zerolog.Logger
}

// NewRemote wraps a hosted engine. Transient failures are retried up to 3 times.
func NewRemote(engine Engine, format audio.Format, opts ...Option) *Backend {
	b := &Backend{
		variant: VariantRemote,
		engine:  engine,
		format:  format,
		retry:   RetryPolicy{MaxAttempts: 3, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second},
		logger:  observability.WithComponent("stt").With().Str("variant", "remote").Str("engine", engine.Name()).Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewLocal wraps an on-host engine. Failures are not retried.
func NewLocal(engine Engine, format audio.Format, opts ...Option) *Backend {
	b := &Backend{
		variant: VariantLocal,
		engine:  engine,
		format:  format,
		retry:   RetryPolicy{MaxAttempts: 1},
		logger:  observability.WithComponent("stt").With().Str("variant", "local").Str("engine", engine.Name()).Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.breaker = nil
	return b
}

// NewBackend builds the backend selected by configuration
func NewBackend(cfg *config.Config) (*Backend, error) {
	format := audio.Mono16(cfg.AudioSampleRate)

	switch cfg.TranscriptionBackend {
	case config.BackendRemote:
		var engine Engine
		switch cfg.RemoteEngine {
		case config.EngineOpenAI:
			engine = NewOpenAIEngine(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.WhisperModel, cfg.WhisperLanguage)
		case config.EngineDeepgram:
			engine = NewDeepgramEngine(cfg.DeepgramAPIKey, cfg.DeepgramModel, cfg.WhisperLanguage)
		default:
			return nil, fmt.Errorf("unknown remote engine %q", cfg.RemoteEngine)
		}

		breaker := resilience.NewCircuitBreaker(
			engine.Name(),
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		).OnStateChange(func(name string, _, to resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(to))
		})

		return NewRemote(engine, format,
			WithCircuitBreaker(breaker),
			WithRetryPolicy(RetryPolicy{
				MaxAttempts:    cfg.RetryMaxAttempts,
				InitialBackoff: time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
				MaxBackoff:     time.Duration(cfg.RetryMaxBackoff) * time.Millisecond,
			}),
		), nil

	case config.BackendLocal:
		engine := NewLocalWhisperEngine(cfg.LocalWhisperURL, cfg.LocalWhisperModel, cfg.WhisperLanguage, cfg.LocalWhisperBeamSize)
		return NewLocal(engine, format, WithRetryPolicy(RetryPolicy{
			MaxAttempts:    cfg.LocalRetryMaxAttempts,
			InitialBackoff: time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.RetryMaxBackoff) * time.Millisecond,
		})), nil

	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.TranscriptionBackend)
	}
}

// Variant returns the backend variant
func (b *Backend) Variant() Variant {
	return b.variant
}

// EngineName returns the name of the wrapped engine
func (b *Backend) EngineName() string {
	return b.engine.Name()
}

// Format returns the audio format the backend accepts
func (b *Backend) Format() audio.Format {
	return b.format
}

// RetryPolicy returns the retry bounds for this variant
func (b *Backend) RetryPolicy() RetryPolicy {
	return b.retry
}

// Transcribe sends one chunk to the engine. Every failure is returned as a
// *BackendError classified transient or permanent.
func (b *Backend) Transcribe(ctx context.Context, req *Request) (*Transcription, error) {
	if err := b.validate(req); err != nil {
		observability.RecordBackendCall(b.variant.String(), b.engine.Name(), "rejected", 0)
		return nil, &BackendError{Class: ClassPermanent, Variant: b.variant, Engine: b.engine.Name(), Err: err}
	}

	start := time.Now()
	var result *Transcription
	call := func() error {
		var err error
		result, err = b.engine.Transcribe(ctx, req)
		return err
	}

	var err error
	if b.breaker != nil {
		// Only transient failures count against the breaker
		err = b.breaker.Execute(call, func(err error) bool {
			transient := classify(err, b.variant, b.engine.Name()).Transient()
			if transient {
				observability.IncrementCircuitBreakerFailures(b.breaker.Name())
			}
			return transient
		})
	} else {
		err = call()
	}
	latency := time.Since(start)

	if err != nil {
		be := classify(err, b.variant, b.engine.Name())
		observability.RecordBackendCall(b.variant.String(), b.engine.Name(), be.Class.String(), latency)
		b.logger.Warn().
			Err(err).
			Int("chunk_index", req.Index).
			Str("class", be.Class.String()).
			Dur("latency", latency).
			Msg("Transcription attempt failed")
		return nil, be
	}

	if result == nil {
		result = &Transcription{}
	}
	observability.RecordBackendCall(b.variant.String(), b.engine.Name(), "ok", latency)
	b.logger.Debug().
		Int("chunk_index", req.Index).
		Int("segments", len(result.Segments)).
		Dur("latency", latency).
		Msg("Chunk transcribed")
	return result, nil
}

func (b *Backend) validate(req *Request) error {
	if req == nil {
		return fmt.Errorf("nil request")
	}
	if len(req.Audio) == 0 {
		return fmt.Errorf("chunk %d has no audio", req.Index)
	}
	if req.Format != b.format {
		return fmt.Errorf("chunk %d is %s, backend expects %s", req.Index, req.Format, b.format)
	}
	if len(req.Audio)%b.format.FrameSize() != 0 {
		return fmt.Errorf("chunk %d is not aligned to %s frames", req.Index, b.format)
	}
	return nil
}

// Check reports whether the backend can currently serve requests. It is used
// by the readiness probe.
func (b *Backend) Check(ctx context.Context) (bool, error) {
	if b.breaker != nil {
		if state, requests, failures, rate := b.breaker.GetStats(); state == resilience.StateOpen {
			return false, fmt.Errorf("%w: %d of %d calls failed (%.0f%%)", resilience.ErrCircuitOpen, failures, requests, rate)
		}
	}
	if hc, ok := b.engine.(HealthChecker); ok {
		if err := hc.Health(ctx); err != nil {
			return false, err
		}
	}
	return true, nil
}

// WaitReady probes the engine until it reports healthy, for engines that start
// alongside the service
func (b *Backend) WaitReady(ctx context.Context, config *resilience.ReconnectConfig) error {
	hc, ok := b.engine.(HealthChecker)
	if !ok {
		return nil
	}
	return resilience.Reconnect(ctx, hc.Health, config, b.logger)
}
