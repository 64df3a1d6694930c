package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBatchSize is the number of images sent in one upload call
	DefaultBatchSize = 500
	// DefaultMinFileSize is the smallest download accepted as a real image
	DefaultMinFileSize = 1024
)

// Config holds all configuration options for pexelsync
type Config struct {
	// Pexels API access
	Pexels PexelsConfig `yaml:"pexels" json:"pexels"`

	// Search defaults
	Search SearchConfig `yaml:"search" json:"search"`

	// Upload settings
	Upload UploadConfig `yaml:"upload" json:"upload"`

	// Destination backend
	Destination DestinationConfig `yaml:"destination" json:"destination"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Retry policy for provider calls
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Result count cache
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Notification preferences
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Control API server
	Server ServerConfig `yaml:"server" json:"server"`

	// Prometheus metrics
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// PexelsConfig holds provider access settings
type PexelsConfig struct {
	APIKey  string        `yaml:"api_key" json:"-"`
	KeyFile string        `yaml:"key_file" json:"key_file"`
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// SearchConfig holds the defaults for a search request
type SearchConfig struct {
	ImageSize      string   `yaml:"image_size" json:"image_size"`
	Count          int      `yaml:"count" json:"count"`
	Offset         int      `yaml:"offset" json:"offset"`
	OptionalFields []string `yaml:"optional_fields" json:"optional_fields"`
}

// UploadConfig holds batch upload settings
type UploadConfig struct {
	Method          string        `yaml:"method" json:"method"`
	BatchSize       int           `yaml:"batch_size" json:"batch_size"`
	Workers         int           `yaml:"workers" json:"workers"`
	WorkDir         string        `yaml:"work_dir" json:"work_dir"`
	MinFileSize     int64         `yaml:"min_file_size" json:"min_file_size"`
	DownloadTimeout time.Duration `yaml:"download_timeout" json:"download_timeout"`
}

// DestinationConfig selects and configures the destination backend
type DestinationConfig struct {
	Backend     string `yaml:"backend" json:"backend"`
	SQLitePath  string `yaml:"sqlite_path" json:"sqlite_path"`
	BlobDir     string `yaml:"blob_dir" json:"blob_dir"`
	RemoteURL   string `yaml:"remote_url" json:"remote_url"`
	RemoteToken string `yaml:"remote_token" json:"-"`
	WorkspaceID int64  `yaml:"workspace_id" json:"workspace_id"`
	ProjectID   int64  `yaml:"project_id" json:"project_id"`
	DatasetID   int64  `yaml:"dataset_id" json:"dataset_id"`
	ProjectName string `yaml:"project_name" json:"project_name"`
	DatasetName string `yaml:"dataset_name" json:"dataset_name"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Strategy    string        `yaml:"strategy" json:"strategy"`
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
	Window      time.Duration `yaml:"window" json:"window"`
}

// RetryConfig holds retry policy for provider calls
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// CacheConfig holds the result-count cache configuration
type CacheConfig struct {
	Size int           `yaml:"size" json:"size"`
	TTL  time.Duration `yaml:"ttl" json:"ttl"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	OnComplete       bool   `yaml:"on_complete" json:"on_complete"`
	OnError          bool   `yaml:"on_error" json:"on_error"`
	NotificationType string `yaml:"notification_type" json:"notification_type"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// ServerConfig holds control API settings
type ServerConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// MetricsConfig holds metrics export settings
type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	TextfilePath string `yaml:"textfile_path" json:"textfile_path"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Pexels: PexelsConfig{
			BaseURL: "https://api.pexels.com/v1",
			Timeout: 30 * time.Second,
		},
		Search: SearchConfig{
			ImageSize: "original",
			Count:     1,
			Offset:    0,
			OptionalFields: []string{
				"Photographer Pexels ID",
				"Photographer URL",
				"Image description",
			},
		},
		Upload: UploadConfig{
			Method:          "files",
			BatchSize:       DefaultBatchSize,
			Workers:         runtime.NumCPU(),
			MinFileSize:     DefaultMinFileSize,
			DownloadTimeout: 60 * time.Second,
		},
		Destination: DestinationConfig{
			Backend:    "sqlite",
			SQLitePath: filepath.Join(DataDir(), "catalog.db"),
			BlobDir:    filepath.Join(DataDir(), "blobs"),
		},
		RateLimit: RateLimitConfig{
			Strategy:    "sliding_window",
			MaxRequests: 200,
			Window:      time.Hour,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		Cache: CacheConfig{
			Size: 256,
			TTL:  10 * time.Minute,
		},
		Notifications: NotificationConfig{
			Enabled:          true,
			OnComplete:       true,
			OnError:          true,
			NotificationType: "terminal",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr:         ":8089",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// The bare provider variable is what pexels.env files carry
	if key := os.Getenv("PEXELS_API_KEY"); key != "" {
		c.Pexels.APIKey = key
	}
	if key := os.Getenv("PEXELSYNC_API_KEY"); key != "" {
		c.Pexels.APIKey = key
	}
	if keyFile := os.Getenv("PEXELSYNC_KEY_FILE"); keyFile != "" {
		c.Pexels.KeyFile = keyFile
	}
	if baseURL := os.Getenv("PEXELSYNC_BASE_URL"); baseURL != "" {
		c.Pexels.BaseURL = baseURL
	}

	if size := os.Getenv("PEXELSYNC_IMAGE_SIZE"); size != "" {
		c.Search.ImageSize = size
	}
	if method := os.Getenv("PEXELSYNC_UPLOAD_METHOD"); method != "" {
		c.Upload.Method = method
	}
	if batch := os.Getenv("PEXELSYNC_BATCH_SIZE"); batch != "" {
		var val int
		fmt.Sscanf(batch, "%d", &val)
		if val > 0 {
			c.Upload.BatchSize = val
		}
	}
	if workers := os.Getenv("PEXELSYNC_WORKERS"); workers != "" {
		var val int
		fmt.Sscanf(workers, "%d", &val)
		if val > 0 {
			c.Upload.Workers = val
		}
	}
	if workDir := os.Getenv("PEXELSYNC_WORK_DIR"); workDir != "" {
		c.Upload.WorkDir = workDir
	}

	// Destination
	if backend := os.Getenv("PEXELSYNC_BACKEND"); backend != "" {
		c.Destination.Backend = backend
	}
	if path := os.Getenv("PEXELSYNC_SQLITE_PATH"); path != "" {
		c.Destination.SQLitePath = path
	}
	if remote := os.Getenv("PEXELSYNC_REMOTE_URL"); remote != "" {
		c.Destination.RemoteURL = remote
	}
	if token := os.Getenv("PEXELSYNC_REMOTE_TOKEN"); token != "" {
		c.Destination.RemoteToken = token
	}
	if ws := os.Getenv("PEXELSYNC_WORKSPACE_ID"); ws != "" {
		var val int64
		fmt.Sscanf(ws, "%d", &val)
		if val > 0 {
			c.Destination.WorkspaceID = val
		}
	}

	// Rate limiting
	if rpw := os.Getenv("PEXELSYNC_MAX_REQUESTS"); rpw != "" {
		var val int
		fmt.Sscanf(rpw, "%d", &val)
		if val > 0 {
			c.RateLimit.MaxRequests = val
		}
	}

	// Notifications
	if notifEnabled := os.Getenv("PEXELSYNC_NOTIFICATIONS_ENABLED"); notifEnabled != "" {
		c.Notifications.Enabled = strings.ToLower(notifEnabled) == "true"
	}

	if logLevel := os.Getenv("PEXELSYNC_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if addr := os.Getenv("PEXELSYNC_SERVER_ADDR"); addr != "" {
		c.Server.Addr = addr
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".pexelsync.yaml",
		".pexelsync.yml",
		filepath.Join(home, ".config", "pexelsync", "config.yaml"),
		filepath.Join(home, ".config", "pexelsync", "config.yml"),
		filepath.Join(home, ".pexelsync.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// DefaultPath is where Save writes when no explicit path is given
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "pexelsync", "config.yaml")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Pexels.BaseURL == "" {
		errs = append(errs, errors.New("pexels base URL is required"))
	}
	if c.Pexels.Timeout <= 0 {
		errs = append(errs, errors.New("pexels timeout must be positive"))
	}

	validSizes := map[string]bool{
		"original": true, "large2x": true, "large": true,
		"medium": true, "small": true, "tiny": true,
	}
	if !validSizes[c.Search.ImageSize] {
		errs = append(errs, fmt.Errorf("invalid image size %q", c.Search.ImageSize))
	}
	if c.Search.Count < 1 {
		errs = append(errs, errors.New("image count must be at least 1"))
	}
	if c.Search.Offset < 0 {
		errs = append(errs, errors.New("search offset cannot be negative"))
	}

	if c.Upload.Method != "files" && c.Upload.Method != "links" {
		errs = append(errs, fmt.Errorf("invalid upload method %q", c.Upload.Method))
	}
	if c.Upload.BatchSize < 1 {
		errs = append(errs, errors.New("batch size must be positive"))
	}
	if c.Upload.Workers < 1 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.Upload.MinFileSize < 0 {
		errs = append(errs, errors.New("min file size cannot be negative"))
	}

	switch c.Destination.Backend {
	case "sqlite":
		if c.Destination.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite path is required for the sqlite backend"))
		}
	case "remote":
		if c.Destination.RemoteURL == "" {
			errs = append(errs, errors.New("remote URL is required for the remote backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("invalid destination backend %q", c.Destination.Backend))
	}

	if c.RateLimit.Strategy != "token_bucket" && c.RateLimit.Strategy != "sliding_window" {
		errs = append(errs, fmt.Errorf("invalid rate limit strategy %q", c.RateLimit.Strategy))
	}
	if c.RateLimit.MaxRequests <= 0 {
		errs = append(errs, errors.New("max requests must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit window must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry attempts must be at least 1"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	if c.Logging.Format != "" && c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Logging.Format))
	}

	validNotifTypes := map[string]bool{
		"terminal": true, "desktop": true, "none": true,
	}
	if !validNotifTypes[strings.ToLower(c.Notifications.NotificationType)] {
		errs = append(errs, errors.New("invalid notification type"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only keys present in the map are applied.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if key, ok := flags["api-key"].(string); ok && key != "" {
		c.Pexels.APIKey = key
	}
	if keyFile, ok := flags["key-file"].(string); ok && keyFile != "" {
		c.Pexels.KeyFile = keyFile
	}
	if size, ok := flags["size"].(string); ok && size != "" {
		c.Search.ImageSize = size
	}
	if count, ok := flags["count"].(int); ok && count > 0 {
		c.Search.Count = count
	}
	if offset, ok := flags["offset"].(int); ok && offset >= 0 {
		c.Search.Offset = offset
	}
	if fields, ok := flags["fields"].([]string); ok {
		c.Search.OptionalFields = fields
	}
	if method, ok := flags["method"].(string); ok && method != "" {
		c.Upload.Method = method
	}
	if batch, ok := flags["batch-size"].(int); ok && batch > 0 {
		c.Upload.BatchSize = batch
	}
	if workers, ok := flags["workers"].(int); ok && workers > 0 {
		c.Upload.Workers = workers
	}
	if backend, ok := flags["backend"].(string); ok && backend != "" {
		c.Destination.Backend = backend
	}
	if project, ok := flags["project-id"].(int64); ok && project > 0 {
		c.Destination.ProjectID = project
	}
	if dataset, ok := flags["dataset-id"].(int64); ok && dataset > 0 {
		c.Destination.DatasetID = dataset
	}
	if name, ok := flags["project-name"].(string); ok && name != "" {
		c.Destination.ProjectName = name
	}
	if name, ok := flags["dataset-name"].(string); ok && name != "" {
		c.Destination.DatasetName = name
	}
	if enabled, ok := flags["notifications"].(bool); ok {
		c.Notifications.Enabled = enabled
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if addr, ok := flags["addr"].(string); ok && addr != "" {
		c.Server.Addr = addr
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".pexelsync.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// dataHome returns the XDG data directory, falling back to ~/.local/share
func dataHome() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// DataDir is where pexelsync keeps its catalog, blobs and checkpoints
func DataDir() string {
	return filepath.Join(dataHome(), "pexelsync")
}
