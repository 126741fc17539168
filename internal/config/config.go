package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr       string
	CORSOrigin string
	LogLevel   string
	// Remote REST and push channel, overridable at runtime through EndpointsFile
	RemoteBaseURL string
	PushURL       string
	EndpointsFile string
	// Redis mirror; empty or unreachable keeps the mirror in process memory
	RedisURL  string
	KeyPrefix string
	// Sync timing
	ReconcileInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	RequestTimeout       time.Duration
	RequestsPerSecond    int
	LoadRetries          int
	LoadRetryDelay       time.Duration
}

// Load reads the process environment, after merging a .env file from the
// working directory when one exists.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("ignoring unreadable .env file: %v", err)
	}
	return fromEnv()
}

func fromEnv() Config {
	return Config{
		Addr:                 getenv("DESK_ADDR", ":8790"),
		CORSOrigin:           getenv("DESK_CORS_ORIGIN", "*"),
		LogLevel:             getenv("DESK_LOG_LEVEL", "info"),
		RemoteBaseURL:        getenv("DESK_REMOTE_BASE_URL", "http://localhost:3001/api"),
		PushURL:              getenv("DESK_PUSH_URL", "ws://localhost:3001/ws"),
		EndpointsFile:        getenv("DESK_ENDPOINTS_FILE", "./data/endpoints.yaml"),
		RedisURL:             getenv("REDIS_URL", "redis://localhost:6379/0"),
		KeyPrefix:            getenv("DESK_KEY_PREFIX", "contentdesk:"),
		ReconcileInterval:    time.Duration(getenvInt("DESK_RECONCILE_SECONDS", 30)) * time.Second,
		ReconnectDelay:       time.Duration(getenvInt("DESK_RECONNECT_DELAY_MS", 3000)) * time.Millisecond,
		MaxReconnectAttempts: getenvInt("DESK_MAX_RECONNECT_ATTEMPTS", 5),
		RequestTimeout:       time.Duration(getenvInt("DESK_REQUEST_TIMEOUT_SECONDS", 10)) * time.Second,
		RequestsPerSecond:    getenvInt("DESK_REMOTE_RPS", 0),
		LoadRetries:          getenvInt("DESK_LOAD_RETRIES", 2),
		LoadRetryDelay:       time.Duration(getenvInt("DESK_LOAD_RETRY_DELAY_MS", 1000)) * time.Millisecond,
	}
}

// Endpoints are the runtime-mutable remote targets. They are persisted so a
// change made through the settings surface survives a restart.
type Endpoints struct {
	BaseURL string `yaml:"baseUrl" json:"baseUrl"`
	PushURL string `yaml:"pushUrl" json:"pushUrl"`
}

func (c Config) Endpoints() Endpoints {
	return Endpoints{BaseURL: c.RemoteBaseURL, PushURL: c.PushURL}
}

func (e Endpoints) Validate() error {
	if strings.TrimSpace(e.BaseURL) == "" {
		return errors.New("baseUrl is required")
	}
	if strings.TrimSpace(e.PushURL) == "" {
		return errors.New("pushUrl is required")
	}
	return nil
}

// LoadEndpoints reads the settings file, falling back to defaults for a
// missing file or empty fields.
func LoadEndpoints(path string, defaults Endpoints) (Endpoints, error) {
	if strings.TrimSpace(path) == "" {
		return defaults, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaults, nil
	}
	if err != nil {
		return defaults, fmt.Errorf("read endpoints file: %w", err)
	}

	var stored Endpoints
	if err := yaml.Unmarshal(raw, &stored); err != nil {
		return defaults, fmt.Errorf("decode endpoints file: %w", err)
	}
	if strings.TrimSpace(stored.BaseURL) == "" {
		stored.BaseURL = defaults.BaseURL
	}
	if strings.TrimSpace(stored.PushURL) == "" {
		stored.PushURL = defaults.PushURL
	}
	return stored, nil
}

func SaveEndpoints(path string, endpoints Endpoints) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	raw, err := yaml.Marshal(endpoints)
	if err != nil {
		return fmt.Errorf("encode endpoints: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create endpoints dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write endpoints file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace endpoints file: %w", err)
	}
	return nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
