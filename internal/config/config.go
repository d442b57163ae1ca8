package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the meeting gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)

	// Coach (LLM) endpoint configuration
	CoachURL     string `envconfig:"COACH_URL" default:"http://localhost:11434"`
	CoachAPIKey  string `envconfig:"COACH_API_KEY" default:""`
	CoachModel   string `envconfig:"COACH_MODEL" default:"llama3.1"`
	CoachTimeout int    `envconfig:"COACH_TIMEOUT" default:"60"` // Seconds allowed per generation stream

	// Audio capture configuration. 16kHz mono PCM16 is the input contract
	// of the transcription endpoint; only frame sizing is tunable.
	SampleRate       int     `envconfig:"SAMPLE_RATE" default:"16000"`
	FrameSamples     int     `envconfig:"FRAME_SAMPLES" default:"4096"`      // ~256ms at 16kHz
	AudioBufferSize  int     `envconfig:"AUDIO_BUFFER_SIZE" default:"32768"` // Ring buffer size in bytes
	SilenceThreshold float64 `envconfig:"SILENCE_THRESHOLD" default:"250.0"` // RMS threshold for near-silence diagnostics
	SilenceWindow    int     `envconfig:"SILENCE_WINDOW" default:"40"`       // Frames in the rolling silence window
	WatchdogInterval int     `envconfig:"WATCHDOG_INTERVAL" default:"10"`    // Seconds without frames before an adapter is declared ended
	SystemTarget     string  `envconfig:"SYSTEM_TARGET" default:""`          // Loopback/monitor device name for system audio
	MicDevice        string  `envconfig:"MIC_DEVICE" default:"default"`      // Input device name for microphone capture

	// Transcript configuration
	TranscriptWindow int `envconfig:"TRANSCRIPT_WINDOW" default:"20"` // Recent lines kept for display/coaching context

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.DeepgramAPIKey == "" {
		return nil, fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("SAMPLE_RATE must be 16000 (transcription endpoint contract), got %d", cfg.SampleRate)
	}
	if cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("FRAME_SAMPLES must be positive, got %d", cfg.FrameSamples)
	}

	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
