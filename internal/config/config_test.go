package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Set required environment variables
	os.Setenv("OPENAI_API_KEY", "test-openai-key")
	defer os.Unsetenv("OPENAI_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.OpenAIAPIKey != "test-openai-key" {
		t.Errorf("Expected OpenAIAPIKey 'test-openai-key', got '%s'", cfg.OpenAIAPIKey)
	}

	if cfg.TranscriptionBackend != BackendRemote {
		t.Errorf("Expected default TranscriptionBackend 'remote', got '%s'", cfg.TranscriptionBackend)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	// Clear environment variables
	os.Unsetenv("OPENAI_API_KEY")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when OPENAI_API_KEY is missing for the openai engine")
	}
}

func TestLoad_BackendSelection(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{
			name: "remote openai",
			env:  map[string]string{"TRANSCRIPTION_BACKEND": "remote", "REMOTE_ENGINE": "openai", "OPENAI_API_KEY": "k"},
		},
		{
			name:    "remote deepgram without key",
			env:     map[string]string{"TRANSCRIPTION_BACKEND": "remote", "REMOTE_ENGINE": "deepgram"},
			wantErr: true,
		},
		{
			name: "remote deepgram",
			env:  map[string]string{"TRANSCRIPTION_BACKEND": "remote", "REMOTE_ENGINE": "deepgram", "DEEPGRAM_API_KEY": "k"},
		},
		{
			name: "local needs no api key",
			env:  map[string]string{"TRANSCRIPTION_BACKEND": "local"},
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"TRANSCRIPTION_BACKEND": "cloud"},
			wantErr: true,
		},
		{
			name:    "unknown engine",
			env:     map[string]string{"TRANSCRIPTION_BACKEND": "remote", "REMOTE_ENGINE": "azure", "OPENAI_API_KEY": "k"},
			wantErr: true,
		},
		{
			name:    "overlap longer than window",
			env:     map[string]string{"TRANSCRIPTION_BACKEND": "local", "CHUNK_OVERLAP": "10m", "CHUNK_MAX_DURATION": "5m"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				os.Setenv(k, v)
			}
			defer func() {
				for k := range tt.env {
					os.Unsetenv(k)
				}
			}()

			_, err := LoadFromEnv()
			if tt.wantErr && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("OPENAI_API_KEY", "test-openai-key")
	defer os.Unsetenv("OPENAI_API_KEY")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.WhisperModel != "whisper-1" {
		t.Errorf("Expected default WhisperModel 'whisper-1', got '%s'", cfg.WhisperModel)
	}

	if cfg.WhisperLanguage != "en" {
		t.Errorf("Expected default WhisperLanguage 'en', got '%s'", cfg.WhisperLanguage)
	}

	if cfg.LocalWhisperModel != "large-v3" {
		t.Errorf("Expected default LocalWhisperModel 'large-v3', got '%s'", cfg.LocalWhisperModel)
	}

	if cfg.AudioSampleRate != 16000 {
		t.Errorf("Expected default AudioSampleRate 16000, got %d", cfg.AudioSampleRate)
	}

	if cfg.ChunkMaxBytes != 24*1024*1024 {
		t.Errorf("Expected default ChunkMaxBytes 24MiB, got %d", cfg.ChunkMaxBytes)
	}

	if cfg.ChunkMaxDuration != 10*time.Minute {
		t.Errorf("Expected default ChunkMaxDuration 10m, got %s", cfg.ChunkMaxDuration)
	}

	if cfg.ChunkOverlap != 5*time.Second {
		t.Errorf("Expected default ChunkOverlap 5s, got %s", cfg.ChunkOverlap)
	}

	if cfg.MinAudioDuration != 100*time.Millisecond {
		t.Errorf("Expected default MinAudioDuration 100ms, got %s", cfg.MinAudioDuration)
	}

	if cfg.TranscriptDir != ".logs/transcripts" {
		t.Errorf("Expected default TranscriptDir '.logs/transcripts', got '%s'", cfg.TranscriptDir)
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	os.Setenv("TRANSCRIPTION_BACKEND", "local")
	defer os.Unsetenv("TRANSCRIPTION_BACKEND")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	// Check resilience defaults
	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.LocalRetryMaxAttempts != 1 {
		t.Errorf("Expected default LocalRetryMaxAttempts 1, got %d", cfg.LocalRetryMaxAttempts)
	}

	if cfg.WorkerPoolSize != 4 {
		t.Errorf("Expected default WorkerPoolSize 4, got %d", cfg.WorkerPoolSize)
	}

	if cfg.WorkerQueueSize != 64 {
		t.Errorf("Expected default WorkerQueueSize 64, got %d", cfg.WorkerQueueSize)
	}

	if cfg.ShutdownGrace != 30*time.Second {
		t.Errorf("Expected default ShutdownGrace 30s, got %s", cfg.ShutdownGrace)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	os.Setenv("TRANSCRIPTION_BACKEND", "local")
	// Clear LOG_LEVEL to ensure we get the default
	os.Unsetenv("LOG_LEVEL")
	defer os.Unsetenv("TRANSCRIPTION_BACKEND")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
