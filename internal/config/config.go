package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration consumed by the bridge. Values come from
// the environment (optionally via a .env file); the core packages receive
// them at construction time and never read the environment themselves.
type Config struct {
	// Discord
	DiscordToken  string
	CommandPrefix string

	// Trigger phrases
	WakePhrases []string
	StopPhrase  string

	// Backends
	WhisperURL       string
	WhisperLanguage  string // empty means auto-detect
	WhisperAuthToken string
	LLMBaseURL       string
	LLMAPIKey        string
	LLMModel         string
	LLMSystemPrompt  string
	TTSURL           string
	TTSAuthToken     string

	// Remote call timeouts
	STTTimeout time.Duration
	LLMTimeout time.Duration
	TTSTimeout time.Duration

	// Utterance segmentation tuning. Exposed as configuration on purpose;
	// there is no universally right value for these.
	VADRMSThreshold int
	StartFrames     int
	SilenceFrames   int
	MinUtterance    time.Duration
	MaxUtterance    time.Duration

	// Transcribe-mode log delivery
	TranscriptDir string

	// Optional websocket transcript feed (disabled when empty)
	FeedAddr string
}

// Load reads configuration from environment variables. A .env file is
// honored when present but never required.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:     os.Getenv("DISCORD_BOT_TOKEN"),
		CommandPrefix:    getEnv("COMMAND_PREFIX", "!"),
		WakePhrases:      splitPhrases(getEnv("WAKE_PHRASES", "bot, hey bot")),
		StopPhrase:       strings.ToLower(strings.TrimSpace(getEnv("STOP_PHRASE", "stop"))),
		WhisperURL:       getEnv("WHISPER_URL", "http://localhost:8001/transcribe"),
		WhisperLanguage:  os.Getenv("STT_LANGUAGE"),
		WhisperAuthToken: os.Getenv("STT_AUTH_TOKEN"),
		LLMBaseURL:       getEnv("LLM_BASE_URL", "http://localhost:4000/v1"),
		LLMAPIKey:        os.Getenv("LLM_API_KEY"),
		LLMModel:         getEnv("LLM_MODEL", "local"),
		LLMSystemPrompt:  getEnv("LLM_SYSTEM_PROMPT", "You are a helpful voice assistant. Keep replies short enough to speak aloud."),
		TTSURL:           getEnv("TTS_URL", "http://localhost:8002/synthesize"),
		TTSAuthToken:     os.Getenv("TTS_AUTH_TOKEN"),
		STTTimeout:       getEnvDuration("STT_TIMEOUT_MS", 15*time.Second),
		LLMTimeout:       getEnvDuration("LLM_TIMEOUT_MS", 30*time.Second),
		TTSTimeout:       getEnvDuration("TTS_TIMEOUT_MS", 15*time.Second),
		VADRMSThreshold:  getEnvInt("VAD_RMS_THRESHOLD", 300),
		StartFrames:      getEnvInt("VAD_START_FRAMES", 3),
		SilenceFrames:    getEnvInt("VAD_SILENCE_FRAMES", 40),
		MinUtterance:     getEnvDuration("MIN_UTTERANCE_MS", 300*time.Millisecond),
		MaxUtterance:     getEnvDuration("MAX_UTTERANCE_MS", 15*time.Second),
		TranscriptDir:    getEnv("TRANSCRIPT_DIR", "transcripts"),
		FeedAddr:         os.Getenv("FEED_ADDR"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if len(c.WakePhrases) == 0 {
		return fmt.Errorf("WAKE_PHRASES must contain at least one phrase")
	}
	if c.StopPhrase == "" {
		return fmt.Errorf("STOP_PHRASE is required")
	}
	if c.WhisperURL == "" {
		return fmt.Errorf("WHISPER_URL is required")
	}
	if c.LLMBaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL is required")
	}
	if c.TTSURL == "" {
		return fmt.Errorf("TTS_URL is required")
	}
	if c.StartFrames <= 0 || c.SilenceFrames <= 0 {
		return fmt.Errorf("VAD_START_FRAMES and VAD_SILENCE_FRAMES must be positive")
	}
	return nil
}

func splitPhrases(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToLower(strings.TrimSpace(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvDuration reads an integer number of milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		var ms int
		if _, err := fmt.Sscanf(value, "%d", &ms); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
