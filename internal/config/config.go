// Package config loads narrator settings from a JSON or YAML file, the
// environment and CLI flags.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/slide-narrator/internal/retry"
)

// Config holds every setting the narrator processes read. All fields are
// optional in the file; Defaults and the environment fill the rest.
type Config struct {
	// Connections
	DatabaseURL string `json:"database_url,omitempty" yaml:"database_url,omitempty"`
	RabbitMQURL string `json:"rabbitmq_url,omitempty" yaml:"rabbitmq_url,omitempty" validate:"omitempty,url"`
	Queue       string `json:"queue,omitempty" yaml:"queue,omitempty"`
	ListenAddr  string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`

	// Providers
	GeminiAPIKey string `json:"gemini_api_key,omitempty" yaml:"gemini_api_key,omitempty"`
	TTSAPIKey    string `json:"tts_api_key,omitempty" yaml:"tts_api_key,omitempty"`
	VisionModel  string `json:"vision_model,omitempty" yaml:"vision_model,omitempty"`
	TextModel    string `json:"text_model,omitempty" yaml:"text_model,omitempty"`
	Voice        string `json:"voice,omitempty" yaml:"voice,omitempty"`
	SpeechInput  string `json:"speech_input,omitempty" yaml:"speech_input,omitempty" validate:"omitempty,oneof=ssml text"`

	// Storage
	UploadsDir string `json:"uploads_dir,omitempty" yaml:"uploads_dir,omitempty"`
	MediaDir   string `json:"media_dir,omitempty" yaml:"media_dir,omitempty"`

	// Execution
	Workers        int    `json:"workers,omitempty" yaml:"workers,omitempty" validate:"gte=0,lte=64"`
	QueueSize      int    `json:"queue_size,omitempty" yaml:"queue_size,omitempty" validate:"gte=0"`
	ItemPolicy     string `json:"item_policy,omitempty" yaml:"item_policy,omitempty" validate:"omitempty,oneof=skip fail"`
	RetryAttempts  int    `json:"retry_attempts,omitempty" yaml:"retry_attempts,omitempty" validate:"gte=0,lte=10"`
	RetryBackoffMS int    `json:"retry_backoff_ms,omitempty" yaml:"retry_backoff_ms,omitempty" validate:"gte=0"`

	// Media
	FFmpegPath     string `json:"ffmpeg_path,omitempty" yaml:"ffmpeg_path,omitempty"`
	FFprobePath    string `json:"ffprobe_path,omitempty" yaml:"ffprobe_path,omitempty"`
	SegmentSeconds int    `json:"segment_seconds,omitempty" yaml:"segment_seconds,omitempty" validate:"gte=0"`
	RenderDPI      int    `json:"render_dpi,omitempty" yaml:"render_dpi,omitempty" validate:"gte=0,lte=600"`

	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

var validate = validator.New()

// Defaults returns the settings used when nothing else is configured
func Defaults() Config {
	return Config{
		Queue:          "narrator_jobs",
		ListenAddr:     ":8080",
		Voice:          "en-US-Neural2-D",
		SpeechInput:    "ssml",
		UploadsDir:     "uploads",
		MediaDir:       "media",
		Workers:        2,
		QueueSize:      64,
		ItemPolicy:     "skip",
		RetryAttempts:  3,
		RetryBackoffMS: 500,
		SegmentSeconds: 10,
		RenderDPI:      300,
	}
}

// LoadConfig reads a config file. Files ending in .yaml or .yml are parsed
// as YAML, anything else as JSON.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}
	return &cfg, nil
}

// ApplyEnv fills connection strings and API keys left empty from the
// environment. TTS_API_KEY falls back to GOOGLE_API_KEY, then to the
// Gemini key.
func (c *Config) ApplyEnv() {
	setFromEnv(&c.DatabaseURL, "DATABASE_URL")
	setFromEnv(&c.RabbitMQURL, "RABBITMQ_URL")
	setFromEnv(&c.GeminiAPIKey, "GEMINI_API_KEY")
	setFromEnv(&c.TTSAPIKey, "TTS_API_KEY")
	setFromEnv(&c.TTSAPIKey, "GOOGLE_API_KEY")
	if c.TTSAPIKey == "" {
		c.TTSAPIKey = c.GeminiAPIKey
	}
}

func setFromEnv(field *string, key string) {
	if *field == "" {
		*field = os.Getenv(key)
	}
}

// Validate checks ranges and formats. Required connections are checked by
// the commands that need them.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			return fmt.Errorf("config error: invalid listen_addr %q: %w", c.ListenAddr, err)
		}
	}
	return nil
}

// MergeWithDefaults returns a copy of c with zero fields taken from defaults
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	mergeString(&result.DatabaseURL, defaults.DatabaseURL)
	mergeString(&result.RabbitMQURL, defaults.RabbitMQURL)
	mergeString(&result.Queue, defaults.Queue)
	mergeString(&result.ListenAddr, defaults.ListenAddr)
	mergeString(&result.GeminiAPIKey, defaults.GeminiAPIKey)
	mergeString(&result.TTSAPIKey, defaults.TTSAPIKey)
	mergeString(&result.VisionModel, defaults.VisionModel)
	mergeString(&result.TextModel, defaults.TextModel)
	mergeString(&result.Voice, defaults.Voice)
	mergeString(&result.SpeechInput, defaults.SpeechInput)
	mergeString(&result.UploadsDir, defaults.UploadsDir)
	mergeString(&result.MediaDir, defaults.MediaDir)
	mergeString(&result.ItemPolicy, defaults.ItemPolicy)
	mergeString(&result.FFmpegPath, defaults.FFmpegPath)
	mergeString(&result.FFprobePath, defaults.FFprobePath)

	mergeInt(&result.Workers, defaults.Workers)
	mergeInt(&result.QueueSize, defaults.QueueSize)
	mergeInt(&result.RetryAttempts, defaults.RetryAttempts)
	mergeInt(&result.RetryBackoffMS, defaults.RetryBackoffMS)
	mergeInt(&result.SegmentSeconds, defaults.SegmentSeconds)
	mergeInt(&result.RenderDPI, defaults.RenderDPI)

	// Bools cannot distinguish unset from false; flags decide them
	return result
}

func mergeString(field *string, def string) {
	if *field == "" {
		*field = def
	}
}

func mergeInt(field *int, def int) {
	if *field == 0 {
		*field = def
	}
}

// RetryPolicy converts the retry settings
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.RetryAttempts > 0 {
		p.MaxAttempts = c.RetryAttempts
	}
	if c.RetryBackoffMS > 0 {
		p.InitialInterval = time.Duration(c.RetryBackoffMS) * time.Millisecond
	}
	return p
}
