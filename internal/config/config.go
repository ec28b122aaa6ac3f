package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string
	DBPath     string

	GeneratorBackend     string
	GeminiAPIKey         string
	GeminiModel          string
	GeminiBaseURL        string
	ClaudeAPIKey         string
	ClaudeModel          string
	OllamaHost           string
	OllamaModel          string
	InstructionsLanguage string
	GenerationTimeout    time.Duration

	PhotoBackend   string
	PhotoPath      string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	ScreenshotMaxDimension int
	SessionTTL             time.Duration
	SessionPurgeSchedule   string
	CookieSecure           bool

	LogLevel string
	LogFile  string
}

// LoadDotEnv reads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading %s: %w", path, err)
	}
	return nil
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":8080"),
		DBPath:               getEnv("DB_PATH", "/data/docustitch.db"),
		GeneratorBackend:     getEnv("GENERATOR_BACKEND", "gemini"),
		GeminiAPIKey:         firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("API_KEY")),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:        getEnv("GEMINI_BASE_URL", ""),
		ClaudeAPIKey:         getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:          getEnv("CLAUDE_MODEL", "claude-sonnet-4-5"),
		OllamaHost:           getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:          getEnv("OLLAMA_MODEL", "llava"),
		InstructionsLanguage: getEnv("INSTRUCTIONS_LANGUAGE", "English"),
		PhotoBackend:         getEnv("PHOTO_BACKEND", "local"),
		PhotoPath:            getEnv("PHOTO_LOCAL_PATH", "/data/screenshots"),
		MinioEndpoint:        getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:       getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:       getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:          getEnv("MINIO_BUCKET", "docustitch-screenshots"),
		SessionPurgeSchedule: getEnv("SESSION_PURGE_SCHEDULE", "@every 1h"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFile:              getEnv("LOG_FILE", ""),
	}

	var err error
	if cfg.GenerationTimeout, err = getDuration("GENERATION_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ScreenshotMaxDimension, err = getInt("SCREENSHOT_MAX_DIMENSION", 4096); err != nil {
		return nil, err
	}
	if cfg.MinioUseSSL, err = getBool("MINIO_USE_SSL", false); err != nil {
		return nil, err
	}
	if cfg.CookieSecure, err = getBool("COOKIE_SECURE", false); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected backends are known and configured.
func (c *Config) Validate() error {
	switch c.GeneratorBackend {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY (or API_KEY) is required when GENERATOR_BACKEND=gemini")
		}
	case "claude":
		if c.ClaudeAPIKey == "" {
			return errors.New("CLAUDE_API_KEY is required when GENERATOR_BACKEND=claude")
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown GENERATOR_BACKEND %q", c.GeneratorBackend)
	}

	switch c.PhotoBackend {
	case "local", "minio":
	default:
		return fmt.Errorf("unknown PHOTO_BACKEND %q", c.PhotoBackend)
	}

	if c.SessionTTL <= 0 {
		return errors.New("SESSION_TTL must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val, exists := os.LookupEnv(key)
	if !exists || val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultVal int) (int, error) {
	val, exists := os.LookupEnv(key)
	if !exists || val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	val, exists := os.LookupEnv(key)
	if !exists || val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
