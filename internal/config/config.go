// Package config handles loading and validating the firecentral configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration for the firecentral daemon.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Speech    SpeechConfig    `mapstructure:"speech"`
	Announcer AnnouncerConfig `mapstructure:"announcer"`
	Playback  PlaybackConfig  `mapstructure:"playback"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the HTTP command surface and health check settings.
type ServerConfig struct {
	Port       int `mapstructure:"port"`
	HealthPort int `mapstructure:"health_port"`
}

// StoreConfig holds the persistence locations.
type StoreConfig struct {
	// SnapshotPath is the data store snapshot file.
	SnapshotPath string `mapstructure:"snapshot_path"`

	// AudioCacheDir holds the cached audio cues.
	AudioCacheDir string `mapstructure:"audio_cache_dir"`
}

// SpeechConfig selects and configures the speech synthesis backend.
type SpeechConfig struct {
	Backend string      `mapstructure:"backend"` // "piper"
	Piper   PiperConfig `mapstructure:"piper"`

	// TimeoutSeconds bounds a single synthesis call.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// PiperConfig holds Piper TTS settings (Wyoming protocol).
type PiperConfig struct {
	// Endpoint is the Wyoming TCP endpoint (host:port).
	Endpoint string `mapstructure:"endpoint"`

	// Voice is the Piper voice model name.
	Voice string `mapstructure:"voice"`
}

// AnnouncerConfig holds the fixed announcement components.
type AnnouncerConfig struct {
	// AlertTonePath is the audio file played before every announcement.
	AlertTonePath string `mapstructure:"alert_tone_path"`

	// VehiclePhrase and StaffPhrase are the linking phrases spoken before
	// each vehicle cue and its crew list.
	VehiclePhrase string `mapstructure:"vehicle_phrase"`
	StaffPhrase   string `mapstructure:"staff_phrase"`
}

// PlaybackConfig configures the external audio player.
type PlaybackConfig struct {
	// PlayerCommand is the executable invoked per audio cue; the cue file
	// path is appended as the last argument.
	PlayerCommand string   `mapstructure:"player_command"`
	PlayerArgs    []string `mapstructure:"player_args"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./firecentral.yaml, ./configs/firecentral.yaml,
// /etc/firecentral/firecentral.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("store.snapshot_path", "data/data_store.json")
	v.SetDefault("store.audio_cache_dir", "data/audio_cache")
	v.SetDefault("speech.backend", "piper")
	v.SetDefault("speech.piper.endpoint", "localhost:10200")
	v.SetDefault("speech.piper.voice", "pt_PT-tugao-medium")
	v.SetDefault("speech.timeout_seconds", 30)
	v.SetDefault("announcer.alert_tone_path", "resources/audio/alert.wav")
	v.SetDefault("announcer.vehicle_phrase", "Veículo")
	v.SetDefault("announcer.staff_phrase", "Guarnição")
	v.SetDefault("playback.player_command", "ffplay")
	v.SetDefault("playback.player_args", []string{"-nodisp", "-autoexit", "-loglevel", "quiet"})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("firecentral")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/firecentral")
	}

	// Environment variables: FIRECENTRAL_SERVER_PORT, FIRECENTRAL_SPEECH_BACKEND, etc.
	v.SetEnvPrefix("FIRECENTRAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional — env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in endpoint fields (e.g., "${PIPER_ENDPOINT}")
	cfg.Speech.Piper.Endpoint = resolveEnvRef(cfg.Speech.Piper.Endpoint)

	return &cfg, nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
