package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/pinwriter/internal/common"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "PINWRITER_CONFIG"

// Config is the root configuration loaded from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Images    ImagesConfig    `yaml:"images"`
	WordPress WordPressConfig `yaml:"wordpress"`
	Pins      PinsConfig      `yaml:"pins"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Retry     RetryConfig     `yaml:"retry"`
	Jobs      JobsConfig      `yaml:"jobs"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	MaxBodySize   ByteSize      `yaml:"maxBodySize"`
	WorkerCount   int           `yaml:"workerCount"`
	QueueCapacity int           `yaml:"queueCapacity"`
	StorageDir    string        `yaml:"storageDir"`
	APIKey        string        `yaml:"apiKey"`        // optional static API key header (X-API-Key)
	DatabasePath  string        `yaml:"databasePath"`  // optional, overrides default storageDir/pinwriter.db
	ShutdownGrace time.Duration `yaml:"shutdownGrace"` // time to wait for workers before forced stop
	LogLevel      string        `yaml:"logLevel"`      // debug|info|warn|error
	LogFormat     string        `yaml:"logFormat"`     // text|json
}

// LLMConfig selects provider and provider-specific options.
type LLMConfig struct {
	Provider string          `yaml:"provider"` // "mock" or "aiproxy"
	Mock     MockSettings    `yaml:"mock"`
	AIProxy  AIProxySettings `yaml:"aiproxy"`
}

// MockSettings config for the mock LLM.
type MockSettings struct {
	Delay  time.Duration `yaml:"delay"`
	Prefix string        `yaml:"prefix"`
}

// AIProxySettings config for the AI Proxy (OpenAI-compatible) endpoints.
type AIProxySettings struct {
	BaseURL      string  `yaml:"baseUrl"`      // e.g. http://localhost:8900
	APIKey       string  `yaml:"apiKey"`       // optional
	Model        string  `yaml:"model"`        // e.g. gpt-5
	SystemPrompt string  `yaml:"systemPrompt"` // optional system message override
	Instructions string  `yaml:"instructions"` // optional user instruction override
	Temperature  float32 `yaml:"temperature"`  // optional
	MaxTokens    int     `yaml:"maxTokens"`    // optional
}

// ImagesConfig selects the featured image generator.
type ImagesConfig struct {
	Provider string          `yaml:"provider"` // "none", "mock" or "aiproxy"
	Size     string          `yaml:"size"`     // e.g. 1024x1536
	AIProxy  AIProxySettings `yaml:"aiproxy"`
}

// WordPressConfig configures publishing via XML-RPC.
type WordPressConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Endpoint     string `yaml:"endpoint"` // https://blog.example.com/xmlrpc.php
	Username     string `yaml:"username"`
	Password     string `yaml:"password"` // application password; supports env expansion
	BlogID       int    `yaml:"blogId"`
	PostStatus   string `yaml:"status"` // draft|publish|future
	UploadImages bool   `yaml:"uploadImages"`
}

// PinsConfig configures pin variation output.
type PinsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Variations int    `yaml:"variations"`
	BoardName  string `yaml:"boardName"`
	SiteURL    string `yaml:"siteUrl"` // fallback link when no post URL exists
}

// SchedulerConfig controls the content scheduler timer.
type SchedulerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	BatchSize        int           `yaml:"batchSize"`
	RecurrenceAnchor string        `yaml:"recurrenceAnchor"` // completion|scheduled
}

// RetryConfig controls the retry queue and its poller.
type RetryConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Interval           time.Duration `yaml:"interval"`
	MaxRetries         int           `yaml:"maxRetries"`
	BaseDelay          time.Duration `yaml:"baseDelay"`
	MaxDelay           time.Duration `yaml:"maxDelay"`
	BatchSize          int           `yaml:"batchSize"`
	DispatchPerSecond  float64       `yaml:"dispatchPerSecond"`
	ExhaustedRetention time.Duration `yaml:"exhaustedRetention"` // 0 keeps exhausted entries
}

// JobsConfig controls job history retention.
type JobsConfig struct {
	Keep int `yaml:"keep"`
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		str := strings.TrimSpace(value.Value)
		parsed, err := ParseByteSize(str)
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Ki/Mi/Gi, KiB/MiB/GiB, decimal KB/MB/GB and bare bytes (case-insensitive).
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)
	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// A .env file next to the working directory is loaded first when present.
// If path is empty, PINWRITER_CONFIG is used, then "config.yaml".
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		if env := os.Getenv(EnvConfigPath); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Config{
		Scheduler: SchedulerConfig{Enabled: true},
		Retry:     RetryConfig{Enabled: true},
	}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.StorageDir != "" {
		if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure storageDir: %w", err)
		}
	}
	if cfg.Server.DatabasePath == "" {
		cfg.Server.DatabasePath = filepath.Join(cfg.Server.StorageDir, common.DatabaseFileName)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = ByteSize(1024 * 1024) // 1 MiB default
	}
	if cfg.Server.WorkerCount <= 0 {
		cfg.Server.WorkerCount = common.DefaultWorkerCount
	}
	if cfg.Server.QueueCapacity <= 0 {
		cfg.Server.QueueCapacity = common.DefaultQueueCapacity
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.Server.LogFormat) == "" {
		cfg.Server.LogFormat = "text"
	}

	// LLM defaults
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "mock"
	}
	if cfg.LLM.Mock.Prefix == "" {
		cfg.LLM.Mock.Prefix = "Written by Mock"
	}
	if strings.EqualFold(cfg.LLM.Provider, "aiproxy") {
		defaultAIProxy(&cfg.LLM.AIProxy)
	}

	// Image defaults
	if cfg.Images.Provider == "" {
		cfg.Images.Provider = "none"
	}
	if cfg.Images.Size == "" {
		cfg.Images.Size = "1024x1536"
	}
	if strings.EqualFold(cfg.Images.Provider, "aiproxy") {
		if strings.TrimSpace(cfg.Images.AIProxy.BaseURL) == "" {
			cfg.Images.AIProxy.BaseURL = cfg.LLM.AIProxy.BaseURL
		}
		if strings.TrimSpace(cfg.Images.AIProxy.APIKey) == "" {
			cfg.Images.AIProxy.APIKey = cfg.LLM.AIProxy.APIKey
		}
		if strings.TrimSpace(cfg.Images.AIProxy.Model) == "" {
			cfg.Images.AIProxy.Model = "gpt-image-1"
		}
		defaultAIProxy(&cfg.Images.AIProxy)
	}

	// WordPress defaults
	if cfg.WordPress.PostStatus == "" {
		cfg.WordPress.PostStatus = "draft"
	}
	if cfg.WordPress.BlogID == 0 {
		cfg.WordPress.BlogID = 1
	}

	// Pins defaults
	if cfg.Pins.Variations <= 0 {
		cfg.Pins.Variations = 3
	}

	// Scheduler defaults
	if cfg.Scheduler.Interval <= 0 {
		cfg.Scheduler.Interval = time.Minute
	}
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = common.DefaultBatchSize
	}
	if cfg.Scheduler.RecurrenceAnchor == "" {
		cfg.Scheduler.RecurrenceAnchor = "completion"
	}

	// Retry defaults
	if cfg.Retry.Interval <= 0 {
		cfg.Retry.Interval = time.Minute
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = 30 * time.Second
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = 5 * time.Minute
	}
	if cfg.Retry.BatchSize <= 0 {
		cfg.Retry.BatchSize = common.DefaultBatchSize
	}

	// Job history
	if cfg.Jobs.Keep <= 0 {
		cfg.Jobs.Keep = common.DefaultJobsKept
	}
}

func defaultAIProxy(s *AIProxySettings) {
	if strings.TrimSpace(s.BaseURL) == "" {
		s.BaseURL = "http://localhost:8900"
	}
	if strings.TrimSpace(s.Model) == "" {
		s.Model = "gpt-5"
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.LLM.Provider) {
	case "mock", "aiproxy":
	default:
		return fmt.Errorf("llm.provider %q is not supported", cfg.LLM.Provider)
	}
	switch strings.ToLower(cfg.Images.Provider) {
	case "none", "mock", "aiproxy":
	default:
		return fmt.Errorf("images.provider %q is not supported", cfg.Images.Provider)
	}
	switch strings.ToLower(cfg.Server.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("server.logFormat %q is not supported", cfg.Server.LogFormat)
	}

	if cfg.WordPress.Enabled {
		w := cfg.WordPress
		if strings.TrimSpace(w.Endpoint) == "" {
			return errors.New("wordpress.endpoint is required")
		}
		if strings.TrimSpace(w.Username) == "" {
			return errors.New("wordpress.username is required")
		}
		if strings.TrimSpace(w.Password) == "" {
			return errors.New("wordpress.password is required")
		}
		switch w.PostStatus {
		case "draft", "publish", "future", "pending", "private":
		default:
			return fmt.Errorf("wordpress.status %q is not supported", w.PostStatus)
		}
	}

	switch cfg.Scheduler.RecurrenceAnchor {
	case "completion", "scheduled":
	default:
		return fmt.Errorf("scheduler.recurrenceAnchor %q must be completion or scheduled", cfg.Scheduler.RecurrenceAnchor)
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return fmt.Errorf("retry.maxDelay (%s) must not be below retry.baseDelay (%s)", cfg.Retry.MaxDelay, cfg.Retry.BaseDelay)
	}
	if cfg.Retry.DispatchPerSecond < 0 {
		return errors.New("retry.dispatchPerSecond must not be negative")
	}
	return nil
}
