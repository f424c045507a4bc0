// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Sandbox() SandboxConfig
	Collector() CollectorConfig
	Browser() BrowserConfig
	Engine() EngineConfig
	Cache() CacheConfig
	Database() DatabaseConfig
	Metrics() MetricsConfig
	Scan() ScanConfig
	SetScanConfig(sc ScanConfig)

	// Engine Setters
	SetEngineWorkerConcurrency(int)

	// Sandbox Setters
	SetSandboxExecutionTimeout(d time.Duration)

	// Cache Setters
	SetCacheEnabled(bool)
}

// Config holds the entire application configuration.
// It uses private fields to enforce access through the Interface's getter methods.
type Config struct {
	logger    LoggerConfig
	sandbox   SandboxConfig
	collector CollectorConfig
	browser   BrowserConfig
	engine    EngineConfig
	cache     CacheConfig
	database  DatabaseConfig
	metrics   MetricsConfig
	// scan gets its marching orders from CLI flags, not the config file.
	scan ScanConfig
}

// fileConfig is the exported mirror of Config that viper unmarshals into.
type fileConfig struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox" yaml:"sandbox"`
	Collector CollectorConfig `mapstructure:"collector" yaml:"collector"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

func (f fileConfig) toConfig() *Config {
	return &Config{
		logger:    f.Logger,
		sandbox:   f.Sandbox,
		collector: f.Collector,
		browser:   f.Browser,
		engine:    f.Engine,
		cache:     f.Cache,
		database:  f.Database,
		metrics:   f.Metrics,
	}
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.logger }
func (c *Config) Sandbox() SandboxConfig     { return c.sandbox }
func (c *Config) Collector() CollectorConfig { return c.collector }
func (c *Config) Browser() BrowserConfig     { return c.browser }
func (c *Config) Engine() EngineConfig       { return c.engine }
func (c *Config) Cache() CacheConfig         { return c.cache }
func (c *Config) Database() DatabaseConfig   { return c.database }
func (c *Config) Metrics() MetricsConfig     { return c.metrics }
func (c *Config) Scan() ScanConfig           { return c.scan }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetScanConfig(sc ScanConfig) { c.scan = sc }

// Engine Setters
func (c *Config) SetEngineWorkerConcurrency(w int) { c.engine.WorkerConcurrency = w }

// Sandbox Setters
func (c *Config) SetSandboxExecutionTimeout(d time.Duration) { c.sandbox.ExecutionTimeout = d }

// Cache Setters
func (c *Config) SetCacheEnabled(b bool) { c.cache.Enabled = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// SandboxConfig bounds execution of untrusted script blocks.
type SandboxConfig struct {
	ExecutionTimeout  time.Duration `mapstructure:"execution_timeout" yaml:"execution_timeout"`
	MaxRecursionDepth int           `mapstructure:"max_recursion_depth" yaml:"max_recursion_depth"`
	MaxCallStackSize  int           `mapstructure:"max_call_stack_size" yaml:"max_call_stack_size"`

	// Triage thresholds.
	MaxCodeSize           int `mapstructure:"max_code_size" yaml:"max_code_size"`
	LibraryScanWindow     int `mapstructure:"library_scan_window" yaml:"library_scan_window"`
	MaxEvalCalls          int `mapstructure:"max_eval_calls" yaml:"max_eval_calls"`
	MaxProxyConstructions int `mapstructure:"max_proxy_constructions" yaml:"max_proxy_constructions"`
	MaxNestingDepth       int `mapstructure:"max_nesting_depth" yaml:"max_nesting_depth"`
	MaxFunctionKeywords   int `mapstructure:"max_function_keywords" yaml:"max_function_keywords"`
	MaxArrayLiterals      int `mapstructure:"max_array_literals" yaml:"max_array_literals"`

	MemoryCeilingMB    int `mapstructure:"memory_ceiling_mb" yaml:"memory_ceiling_mb"`
	MemoryGrowthWarnMB int `mapstructure:"memory_growth_warn_mb" yaml:"memory_growth_warn_mb"`

	MaxPendingJobs    int `mapstructure:"max_pending_jobs" yaml:"max_pending_jobs"`
	CallLimit         int `mapstructure:"call_limit" yaml:"call_limit"`
	ReentrancyCeiling int `mapstructure:"reentrancy_ceiling" yaml:"reentrancy_ceiling"`
	MaxBlocksPerFile  int `mapstructure:"max_blocks_per_file" yaml:"max_blocks_per_file"`
	RescanMaxLength   int `mapstructure:"rescan_max_length" yaml:"rescan_max_length"`

	ConsoleRateLimit float64 `mapstructure:"console_rate_limit" yaml:"console_rate_limit"`
	ConsoleBurst     int     `mapstructure:"console_burst" yaml:"console_burst"`
	RandomSeed       int64   `mapstructure:"random_seed" yaml:"random_seed"`
}

// CollectorConfig controls which files are picked up for analysis.
type CollectorConfig struct {
	MaxFileSize    int64    `mapstructure:"max_file_size" yaml:"max_file_size"`
	SkipPatterns   []string `mapstructure:"skip_patterns" yaml:"skip_patterns"`
	Extensions     []string `mapstructure:"extensions" yaml:"extensions"`
	FollowSymlinks bool     `mapstructure:"follow_symlinks" yaml:"follow_symlinks"`
}

// BrowserConfig is the static fingerprint exposed to scripts through
// navigator, screen, window and location.
type BrowserConfig struct {
	UserAgent           string   `mapstructure:"user_agent" yaml:"user_agent"`
	AppVersion          string   `mapstructure:"app_version" yaml:"app_version"`
	Platform            string   `mapstructure:"platform" yaml:"platform"`
	Vendor              string   `mapstructure:"vendor" yaml:"vendor"`
	Language            string   `mapstructure:"language" yaml:"language"`
	Languages           []string `mapstructure:"languages" yaml:"languages"`
	HardwareConcurrency int      `mapstructure:"hardware_concurrency" yaml:"hardware_concurrency"`
	DeviceMemory        int      `mapstructure:"device_memory" yaml:"device_memory"`
	ScreenWidth         int      `mapstructure:"screen_width" yaml:"screen_width"`
	ScreenHeight        int      `mapstructure:"screen_height" yaml:"screen_height"`
	ColorDepth          int      `mapstructure:"color_depth" yaml:"color_depth"`
	InnerWidth          int      `mapstructure:"inner_width" yaml:"inner_width"`
	InnerHeight         int      `mapstructure:"inner_height" yaml:"inner_height"`
	Timezone            string   `mapstructure:"timezone" yaml:"timezone"`
	PageURL             string   `mapstructure:"page_url" yaml:"page_url"`
	Referrer            string   `mapstructure:"referrer" yaml:"referrer"`
	CookieEnabled       bool     `mapstructure:"cookie_enabled" yaml:"cookie_enabled"`
}

// EngineConfig configures the task processing engine.
type EngineConfig struct {
	QueueSize          int           `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency  int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout" yaml:"default_task_timeout"`
}

// CacheConfig configures the verdict cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Path     string        `mapstructure:"path" yaml:"path"`
	InMemory bool          `mapstructure:"in_memory" yaml:"in_memory"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// ScanConfig holds settings populated from CLI flags for a specific scan job.
type ScanConfig struct {
	Targets     []string
	Output      string
	Format      string
	Concurrency int
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return fc.toConfig()
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "jsbox")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Sandbox --
	v.SetDefault("sandbox.execution_timeout", "30s")
	v.SetDefault("sandbox.max_recursion_depth", 3)
	v.SetDefault("sandbox.max_call_stack_size", 2000)
	v.SetDefault("sandbox.max_code_size", 50*1024)
	v.SetDefault("sandbox.library_scan_window", 2000)
	v.SetDefault("sandbox.max_eval_calls", 20)
	v.SetDefault("sandbox.max_proxy_constructions", 5)
	v.SetDefault("sandbox.max_nesting_depth", 300)
	v.SetDefault("sandbox.max_function_keywords", 500)
	v.SetDefault("sandbox.max_array_literals", 1000)
	v.SetDefault("sandbox.memory_ceiling_mb", 100)
	v.SetDefault("sandbox.memory_growth_warn_mb", 30)
	v.SetDefault("sandbox.max_pending_jobs", 300)
	v.SetDefault("sandbox.call_limit", 1000)
	v.SetDefault("sandbox.reentrancy_ceiling", 100)
	v.SetDefault("sandbox.max_blocks_per_file", 200)
	v.SetDefault("sandbox.rescan_max_length", 100000)
	v.SetDefault("sandbox.console_rate_limit", 20.0)
	v.SetDefault("sandbox.console_burst", 50)
	v.SetDefault("sandbox.random_seed", 1337)

	// -- Collector --
	v.SetDefault("collector.max_file_size", 30*1024)
	v.SetDefault("collector.skip_patterns", []string{"*webpack*", "*bundle*"})
	v.SetDefault("collector.extensions", []string{".js", ".mjs", ".cjs", ".html", ".htm", ".hta", ".xhtml", ".svg", ".txt", ".br"})
	v.SetDefault("collector.follow_symlinks", false)

	// -- Browser --
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("browser.app_version", "5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("browser.platform", "Win32")
	v.SetDefault("browser.vendor", "Google Inc.")
	v.SetDefault("browser.language", "en-US")
	v.SetDefault("browser.languages", []string{"en-US", "en"})
	v.SetDefault("browser.hardware_concurrency", 8)
	v.SetDefault("browser.device_memory", 8)
	v.SetDefault("browser.screen_width", 1920)
	v.SetDefault("browser.screen_height", 1080)
	v.SetDefault("browser.color_depth", 24)
	v.SetDefault("browser.inner_width", 1536)
	v.SetDefault("browser.inner_height", 730)
	v.SetDefault("browser.timezone", "America/New_York")
	v.SetDefault("browser.page_url", "https://victim.example/index.html")
	v.SetDefault("browser.referrer", "https://www.google.com/")
	v.SetDefault("browser.cookie_enabled", true)

	// -- Engine --
	v.SetDefault("engine.queue_size", 1000)
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.default_task_timeout", "5m")

	// -- Cache --
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.path", "~/.jsbox/cache")
	v.SetDefault("cache.in_memory", false)
	v.SetDefault("cache.ttl", "168h")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9464")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var fc fileConfig

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "JSBOX_DATABASE_URL")

	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if fc.Cache.Path != "" {
		expanded, err := homedir.Expand(fc.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("error expanding cache.path: %w", err)
		}
		fc.Cache.Path = expanded
	}

	cfg := fc.toConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if err := c.sandbox.Validate(); err != nil {
		return fmt.Errorf("sandbox configuration invalid: %w", err)
	}
	if err := c.collector.Validate(); err != nil {
		return fmt.Errorf("collector configuration invalid: %w", err)
	}
	if err := c.cache.Validate(); err != nil {
		return fmt.Errorf("cache configuration invalid: %w", err)
	}
	if c.metrics.Enabled && c.metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}
	return nil
}

// Validate checks the sandbox ceilings.
func (s *SandboxConfig) Validate() error {
	if s.ExecutionTimeout <= 0 {
		return fmt.Errorf("execution_timeout must be a positive duration")
	}
	if s.MaxRecursionDepth <= 0 {
		return fmt.Errorf("max_recursion_depth must be greater than 0")
	}
	if s.MaxCodeSize <= 0 {
		return fmt.Errorf("max_code_size must be greater than 0")
	}
	if s.CallLimit <= 0 {
		return fmt.Errorf("call_limit must be greater than 0")
	}
	if s.MaxPendingJobs < 0 {
		return fmt.Errorf("max_pending_jobs must not be negative")
	}
	if s.ReentrancyCeiling <= 0 {
		return fmt.Errorf("reentrancy_ceiling must be greater than 0")
	}
	return nil
}

// Validate checks the collector settings.
func (c *CollectorConfig) Validate() error {
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be greater than 0")
	}
	return nil
}

// Validate checks the cache settings.
func (c *CacheConfig) Validate() error {
	if !c.Enabled || c.InMemory {
		return nil
	}
	if c.Path == "" {
		return fmt.Errorf("path is required for an on-disk cache")
	}
	return nil
}
