// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	LLM() LLMConfig
	Bridge() BridgeConfig
	Portal() PortalConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Run() RunConfig
	SetRunConfig(rc RunConfig)

	// Section Setters
	SetLLMConfig(LLMConfig)
	SetPortalConfig(PortalConfig)
	SetNetworkConfig(NetworkConfig)

	// Browser Setters
	SetBrowserHeadless(bool)

	// Bridge Setters
	SetBridgeEnabled(bool)
	SetBridgeConfig(BridgeConfig)
}

// Config holds the entire application configuration.
// It uses private fields to enforce access through the Interface's getter methods.
type Config struct {
	logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	llm     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	bridge  BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
	portal  PortalConfig  `mapstructure:"portal" yaml:"portal"`
	browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	network NetworkConfig `mapstructure:"network" yaml:"network"`
	// run gets its marching orders from CLI flags, not the config file.
	run RunConfig `mapstructure:"-" yaml:"-"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.logger }
func (c *Config) LLM() LLMConfig         { return c.llm }
func (c *Config) Bridge() BridgeConfig   { return c.bridge }
func (c *Config) Portal() PortalConfig   { return c.portal }
func (c *Config) Browser() BrowserConfig { return c.browser }
func (c *Config) Network() NetworkConfig { return c.network }
func (c *Config) Run() RunConfig         { return c.run }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetRunConfig(rc RunConfig)       { c.run = rc }
func (c *Config) SetLLMConfig(lc LLMConfig)       { c.llm = lc }
func (c *Config) SetPortalConfig(pc PortalConfig) { c.portal = pc }
func (c *Config) SetNetworkConfig(nc NetworkConfig) { c.network = nc }
func (c *Config) SetBrowserHeadless(b bool)       { c.browser.Headless = b }
func (c *Config) SetBridgeEnabled(b bool)         { c.bridge.Enabled = b }
func (c *Config) SetBridgeConfig(bc BridgeConfig) { c.bridge = bc }

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

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMConfig configures the plan generation models.
type LLMConfig struct {
	Provider LLMProvider `mapstructure:"provider" yaml:"provider"`
	// Models are tried in order until one yields a valid plan.
	Models      []string      `mapstructure:"models" yaml:"models"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// BridgeConfig configures the MCP stdio bridge used for page context reads.
type BridgeConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Command and Args launch the MCP server child process. An empty command
	// means the bridge spawns this binary's own serve-mcp subcommand.
	Command        string        `mapstructure:"command" yaml:"command"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
	CallTimeout    time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// PortalConfig identifies the target data portal.
type PortalConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// BrowseURL is the fallback results page used when the executed plan
	// leaves the session somewhere without result links.
	BrowseURL  string `mapstructure:"browse_url" yaml:"browse_url"`
	MaxResults int    `mapstructure:"max_results" yaml:"max_results"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless     bool     `mapstructure:"headless" yaml:"headless"`
	DisableCache bool     `mapstructure:"disable_cache" yaml:"disable_cache"`
	Debug        bool     `mapstructure:"debug" yaml:"debug"`
	Args         []string `mapstructure:"args" yaml:"args"`
	// TypingDelay is the per-character pause when filling inputs.
	TypingDelay time.Duration `mapstructure:"typing_delay" yaml:"typing_delay"`
}

// NetworkConfig tunes navigation and settle behavior.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SettleWait        time.Duration `mapstructure:"settle_wait" yaml:"settle_wait"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// RunConfig holds settings populated from CLI flags for a single goal run.
type RunConfig struct {
	Goal      string
	Debug     bool
	Reread    bool
	PlanDir   string
	OutputFmt string
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := cfg.loadSections(v); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// loadSections decodes each configuration section. The sections are decoded
// one by one because the top-level fields are private; the section structs
// themselves are exported and decode normally.
func (c *Config) loadSections(v *viper.Viper) error {
	sections := map[string]any{
		"logger":  &c.logger,
		"llm":     &c.llm,
		"bridge":  &c.bridge,
		"portal":  &c.portal,
		"browser": &c.browser,
		"network": &c.network,
	}
	for key, target := range sections {
		if err := v.UnmarshalKey(key, target); err != nil {
			return fmt.Errorf("error unmarshaling %q section: %w", key, err)
		}
	}
	return nil
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pagepilot")
	v.SetDefault("logger.log_file", "pagepilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- LLM --
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.models", []string{
		"gemini-2.5-flash",
		"gemini-2.5-flash-lite",
		"gemini-2.5-pro",
	})
	v.SetDefault("llm.endpoint", "https://generativelanguage.googleapis.com/v1beta/models")
	v.SetDefault("llm.api_timeout", "45s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)

	// -- Bridge --
	v.SetDefault("bridge.enabled", true)
	v.SetDefault("bridge.command", "")
	v.SetDefault("bridge.startup_timeout", "20s")
	v.SetDefault("bridge.call_timeout", "30s")

	// -- Portal --
	v.SetDefault("portal.base_url", "https://data.lacity.org/")
	v.SetDefault("portal.browse_url", "https://data.lacity.org/browse")
	v.SetDefault("portal.max_results", 10)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.typing_delay", "30ms")

	// -- Network --
	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.settle_wait", "5s")
	v.SetDefault("network.action_timeout", "10s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("llm.api_key", "PAGEPILOT_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")

	if err := cfg.loadSections(v); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the key if Unmarshal didn't pick it up
	if cfg.llm.APIKey == "" {
		for _, name := range []string{"PAGEPILOT_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"} {
			if val := os.Getenv(name); val != "" {
				cfg.llm.APIKey = val
				break
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if len(c.llm.Models) == 0 {
		return fmt.Errorf("llm.models must name at least one model")
	}
	if c.portal.BaseURL == "" {
		return fmt.Errorf("portal.base_url is a required configuration field")
	}
	if c.portal.MaxResults <= 0 {
		return fmt.Errorf("portal.max_results must be a positive integer")
	}
	if c.network.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	return nil
}
