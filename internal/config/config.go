package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice session client.
type Config struct {
	ChannelURL string
	AuthToken  string

	BookID    string
	ChapterID string
	PageID    string

	VoiceProvider string
	VoiceID       string
	Mode          string

	InputSampleRate  int
	OutputSampleRate int
	FrameSize        int

	VADStartThreshold float64
	VADEndThreshold   float64
	VADHangover       time.Duration
	SilenceWindow     time.Duration

	DatabaseURL string

	DebugBindAddr    string
	MetricsNamespace string
	ShutdownTimeout  time.Duration

	AudioDumpDir string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		ChannelURL:       envOrDefault("VOICE_WS_URL", "wss://api.airabook.io/v1/voice/stream"),
		AuthToken:        stringsTrimSpace("VOICE_AUTH_TOKEN"),
		BookID:           stringsTrimSpace("VOICE_BOOK_ID"),
		ChapterID:        stringsTrimSpace("VOICE_CHAPTER_ID"),
		PageID:           stringsTrimSpace("VOICE_PAGE_ID"),
		VoiceProvider:    envOrDefault("VOICE_PROVIDER", "default"),
		VoiceID:          stringsTrimSpace("VOICE_VOICE_ID"),
		Mode:             envOrDefault("VOICE_MODE", "conversation"),
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
		// 320 samples per frame is 20ms of mono PCM at 16kHz.
		FrameSize:         320,
		VADStartThreshold: 0.02,
		VADEndThreshold:   0.015,
		VADHangover:       600 * time.Millisecond,
		SilenceWindow:     650 * time.Millisecond,
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		DebugBindAddr:     envOrDefault("APP_DEBUG_BIND_ADDR", "127.0.0.1:8090"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "airavoice"),
		ShutdownTimeout:   15 * time.Second,
		AudioDumpDir:      stringsTrimSpace("VOICE_AUDIO_DUMP_DIR"),
	}
	var err error
	cfg.InputSampleRate, err = intFromEnv("VOICE_INPUT_SAMPLE_RATE", cfg.InputSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.OutputSampleRate, err = intFromEnv("VOICE_OUTPUT_SAMPLE_RATE", cfg.OutputSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.FrameSize, err = intFromEnv("VOICE_FRAME_SIZE", cfg.FrameSize)
	if err != nil {
		return Config{}, err
	}
	cfg.VADStartThreshold, err = floatFromEnv("VOICE_VAD_START_THRESHOLD", cfg.VADStartThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADEndThreshold, err = floatFromEnv("VOICE_VAD_END_THRESHOLD", cfg.VADEndThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADHangover, err = durationFromEnv("VOICE_VAD_HANGOVER", cfg.VADHangover)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceWindow, err = durationFromEnv("VOICE_SILENCE_WINDOW", cfg.SilenceWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.BookID == "" {
		return Config{}, fmt.Errorf("VOICE_BOOK_ID is required")
	}
	if cfg.InputSampleRate <= 0 {
		return Config{}, fmt.Errorf("VOICE_INPUT_SAMPLE_RATE must be positive")
	}
	if cfg.OutputSampleRate <= 0 {
		return Config{}, fmt.Errorf("VOICE_OUTPUT_SAMPLE_RATE must be positive")
	}
	if cfg.FrameSize <= 0 {
		return Config{}, fmt.Errorf("VOICE_FRAME_SIZE must be positive")
	}
	if cfg.VADStartThreshold <= 0 || cfg.VADStartThreshold > 1 {
		return Config{}, fmt.Errorf("VOICE_VAD_START_THRESHOLD must be in (0,1]")
	}
	if cfg.VADEndThreshold <= 0 || cfg.VADEndThreshold > cfg.VADStartThreshold {
		return Config{}, fmt.Errorf("VOICE_VAD_END_THRESHOLD must be in (0,start]")
	}
	if cfg.VADHangover < 50*time.Millisecond {
		return Config{}, fmt.Errorf("VOICE_VAD_HANGOVER must be at least 50ms")
	}
	if cfg.SilenceWindow < 100*time.Millisecond {
		return Config{}, fmt.Errorf("VOICE_SILENCE_WINDOW must be at least 100ms")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
