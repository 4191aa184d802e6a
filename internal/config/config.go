package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Transcription backend variants, selected once at startup
const (
	BackendRemote = "remote"
	BackendLocal  = "local"

	EngineOpenAI   = "openai"
	EngineDeepgram = "deepgram"
)

// Config holds all configuration for the scribe service
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:"8081"` // Empty disables the gRPC health server

	// Backend selection (read once at startup, never per session)
	TranscriptionBackend string `envconfig:"TRANSCRIPTION_BACKEND" default:"remote"` // remote, local
	RemoteEngine         string `envconfig:"REMOTE_ENGINE" default:"openai"`         // openai, deepgram

	// OpenAI Whisper configuration
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL   string `envconfig:"OPENAI_BASE_URL" default:""`
	WhisperModel    string `envconfig:"WHISPER_MODEL" default:"whisper-1"`
	WhisperLanguage string `envconfig:"WHISPER_LANGUAGE" default:"en"`

	// Deepgram streaming configuration
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`

	// Local faster-whisper sidecar
	LocalWhisperURL      string `envconfig:"LOCAL_WHISPER_URL" default:"http://localhost:8387"`
	LocalWhisperModel    string `envconfig:"LOCAL_WHISPER_MODEL" default:"large-v3"`
	LocalWhisperBeamSize int    `envconfig:"LOCAL_WHISPER_BEAM_SIZE" default:"10"`

	// Audio and chunking configuration
	AudioSampleRate     int           `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`     // Core format is mono 16-bit PCM at this rate
	ChunkMaxBytes       int           `envconfig:"CHUNK_MAX_BYTES" default:"25165824"`    // 24 MiB upload limit
	ChunkMaxDuration    time.Duration `envconfig:"CHUNK_MAX_DURATION" default:"10m"`      // Window used once a buffer exceeds ChunkMaxBytes
	ChunkOverlap        time.Duration `envconfig:"CHUNK_OVERLAP" default:"5s"`            // Audio shared by consecutive chunks
	MinAudioDuration    time.Duration `envconfig:"MIN_AUDIO_DURATION" default:"100ms"`    // Shorter recordings are "too short"
	SilenceRMSThreshold float64       `envconfig:"SILENCE_RMS_THRESHOLD" default:"50.0"` // 0 disables silent chunk skipping

	// Worker pool configuration
	WorkerPoolSize  int           `envconfig:"WORKER_POOL_SIZE" default:"4"`
	WorkerQueueSize int           `envconfig:"WORKER_QUEUE_SIZE" default:"64"`
	ChunkTimeout    time.Duration `envconfig:"CHUNK_TIMEOUT" default:"5m"`     // Per attempt
	TeardownTimeout time.Duration `envconfig:"TEARDOWN_TIMEOUT" default:"30m"` // Whole stop pipeline
	ShutdownGrace   time.Duration `envconfig:"SHUTDOWN_GRACE" default:"30s"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Remote variant attempts per chunk
	LocalRetryMaxAttempts      int `envconfig:"LOCAL_RETRY_MAX_ATTEMPTS" default:"1"`       // Local variant attempts per chunk
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"500"`        // Initial backoff in milliseconds
	RetryMaxBackoff            int `envconfig:"RETRY_MAX_BACKOFF" default:"10000"`          // Maximum backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Sidecar availability probes at startup
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Probe backoff in milliseconds

	// Output locations
	TranscriptDir string `envconfig:"TRANSCRIPT_DIR" default:".logs/transcripts"`
	SummaryDir    string `envconfig:"SUMMARY_DIR" default:".logs/summaries"`

	// Summary collaborator
	SummaryModel      string `envconfig:"SUMMARY_MODEL" default:"gpt-4o"`
	SummaryPromptFile string `envconfig:"SUMMARY_PROMPT_FILE" default:""`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load the given .env files (default ".env") if they exist, then from environment
func Load(envFiles ...string) (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load(envFiles...)

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the backend selection and the chunking limits
func (c *Config) Validate() error {
	switch c.TranscriptionBackend {
	case BackendRemote:
		switch c.RemoteEngine {
		case EngineOpenAI:
			if c.OpenAIAPIKey == "" {
				return fmt.Errorf("OPENAI_API_KEY is required for the openai remote engine")
			}
		case EngineDeepgram:
			if c.DeepgramAPIKey == "" {
				return fmt.Errorf("DEEPGRAM_API_KEY is required for the deepgram remote engine")
			}
		default:
			return fmt.Errorf("unknown REMOTE_ENGINE %q (want openai or deepgram)", c.RemoteEngine)
		}
	case BackendLocal:
		if c.LocalWhisperURL == "" {
			return fmt.Errorf("LOCAL_WHISPER_URL is required for the local backend")
		}
	default:
		return fmt.Errorf("unknown TRANSCRIPTION_BACKEND %q (want remote or local)", c.TranscriptionBackend)
	}

	if c.AudioSampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	if c.ChunkOverlap >= c.ChunkMaxDuration {
		return fmt.Errorf("CHUNK_OVERLAP (%s) must be shorter than CHUNK_MAX_DURATION (%s)", c.ChunkOverlap, c.ChunkMaxDuration)
	}
	if c.WorkerPoolSize <= 0 || c.WorkerQueueSize <= 0 {
		return fmt.Errorf("WORKER_POOL_SIZE and WORKER_QUEUE_SIZE must be positive")
	}

	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
