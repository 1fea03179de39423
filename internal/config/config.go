// Package config provides environment-driven configuration for ohanashi commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the session manager and web dashboard.
const (
	DefaultWebPort           = "8788"
	DefaultHeartbeatInterval = 4 * time.Second
	DefaultSilenceWindow     = 8 * time.Second
	DefaultProcessingTimeout = 10 * time.Second
	DefaultSilenceThreshold  = 0.012
	DefaultReconnectCeiling  = 5
	DefaultPersonaPath       = "personas.json"
	DefaultMicFormat         = "pulse"
	DefaultMicDevice         = "default"
	DefaultPlayerCommand     = "ffplay"
)

// Config aggregates everything a running ohanashi process needs.
type Config struct {
	// Remote voice service
	ServiceURL string // wss:// endpoint of the voice relay
	APIKey     string // bearer credential for the relay handshake

	// Web dashboard
	WebPort string

	// Audio devices
	MicFormat     string // ffmpeg input format (pulse, alsa, avfoundation)
	MicDevice     string
	PlayerCommand string // external PCM player binary

	// Session tuning
	HeartbeatInterval time.Duration
	SilenceWindow     time.Duration
	ProcessingTimeout time.Duration
	SilenceThreshold  float64
	ReconnectCeiling  int

	// Persona storage
	PersonaPath string

	LogLevel string
}

// Load reads configuration from the environment, honoring a local .env file.
func Load() (*Config, error) {
	// Missing .env is fine; explicit env vars always win.
	_ = godotenv.Load()

	cfg := &Config{
		ServiceURL:        strings.TrimSpace(os.Getenv("OHANASHI_SERVICE_URL")),
		APIKey:            strings.TrimSpace(os.Getenv("OHANASHI_API_KEY")),
		WebPort:           getEnvOrDefault("OHANASHI_WEB_PORT", DefaultWebPort),
		MicFormat:         getEnvOrDefault("OHANASHI_MIC_FORMAT", DefaultMicFormat),
		MicDevice:         getEnvOrDefault("OHANASHI_MIC_DEVICE", DefaultMicDevice),
		PlayerCommand:     getEnvOrDefault("OHANASHI_PLAYER", DefaultPlayerCommand),
		PersonaPath:       getEnvOrDefault("OHANASHI_PERSONA_PATH", DefaultPersonaPath),
		LogLevel:          getEnvOrDefault("OHANASHI_LOG_LEVEL", "info"),
		HeartbeatInterval: DefaultHeartbeatInterval,
		SilenceWindow:     DefaultSilenceWindow,
		ProcessingTimeout: DefaultProcessingTimeout,
		SilenceThreshold:  DefaultSilenceThreshold,
		ReconnectCeiling:  DefaultReconnectCeiling,
	}

	var err error
	if cfg.HeartbeatInterval, err = parseDurationEnv("OHANASHI_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval); err != nil {
		return nil, err
	}
	if cfg.SilenceWindow, err = parseDurationEnv("OHANASHI_SILENCE_WINDOW", cfg.SilenceWindow); err != nil {
		return nil, err
	}
	if cfg.ProcessingTimeout, err = parseDurationEnv("OHANASHI_PROCESSING_TIMEOUT", cfg.ProcessingTimeout); err != nil {
		return nil, err
	}
	if cfg.SilenceThreshold, err = parseFloatEnv("OHANASHI_SILENCE_THRESHOLD", cfg.SilenceThreshold); err != nil {
		return nil, err
	}
	if cfg.ReconnectCeiling, err = parseIntEnv("OHANASHI_RECONNECT_CEILING", cfg.ReconnectCeiling); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseFloatEnv(key string, defaultValue float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
