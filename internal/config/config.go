// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/cartprobe/internal/locator"
	"github.com/xkilldash9x/cartprobe/internal/reconcile"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Wait() WaitConfig
	Interact() InteractConfig
	Reconcile() ReconcileConfig
	Report() ReportConfig
	Cart() CartConfig
	Screenshots() ScreenshotConfig

	// CLI overrides
	SetBrowserHeadless(bool)
	SetCartURL(string)
	SetReportDir(string)
	SetReportFormats([]string)

	Validate() error
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg      LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg    DatabaseConfig   `mapstructure:"database" yaml:"database"`
	BrowserCfg     BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	WaitCfg        WaitConfig       `mapstructure:"wait" yaml:"wait"`
	InteractCfg    InteractConfig   `mapstructure:"interact" yaml:"interact"`
	ReconcileCfg   ReconcileConfig  `mapstructure:"reconcile" yaml:"reconcile"`
	ReportCfg      ReportConfig     `mapstructure:"report" yaml:"report"`
	CartCfg        CartConfig       `mapstructure:"cart" yaml:"cart"`
	ScreenshotsCfg ScreenshotConfig `mapstructure:"screenshots" yaml:"screenshots"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig          { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig      { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig        { return c.BrowserCfg }
func (c *Config) Wait() WaitConfig              { return c.WaitCfg }
func (c *Config) Interact() InteractConfig      { return c.InteractCfg }
func (c *Config) Reconcile() ReconcileConfig    { return c.ReconcileCfg }
func (c *Config) Report() ReportConfig          { return c.ReportCfg }
func (c *Config) Cart() CartConfig              { return c.CartCfg }
func (c *Config) Screenshots() ScreenshotConfig { return c.ScreenshotsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)    { c.BrowserCfg.Headless = b }
func (c *Config) SetCartURL(u string)          { c.CartCfg.URL = u }
func (c *Config) SetReportDir(d string)        { c.ReportCfg.Dir = d }
func (c *Config) SetReportFormats(fs []string) { c.ReportCfg.Formats = fs }

// LoggerConfig configures the global zap logger.
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

// DatabaseConfig enables run history in PostgreSQL. An empty URL disables it.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" yaml:"url"`
	EnsureSchema bool   `mapstructure:"ensure_schema" yaml:"ensure_schema"`
}

// BrowserConfig controls the Chrome instance the audit command launches.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
}

// WaitConfig holds the polling budgets shared by every wait in a session.
type WaitConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	LongTimeout    time.Duration `mapstructure:"long_timeout" yaml:"long_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// InteractConfig tunes the interaction executor.
type InteractConfig struct {
	SecondaryTimeout time.Duration `mapstructure:"secondary_timeout" yaml:"secondary_timeout"`
	ObscuredGrace    time.Duration `mapstructure:"obscured_grace" yaml:"obscured_grace"`
}

// ReconcileConfig holds the validator settings.
type ReconcileConfig struct {
	Tolerance      float64 `mapstructure:"tolerance" yaml:"tolerance"`
	SubtotalPolicy string  `mapstructure:"subtotal_policy" yaml:"subtotal_policy"`
}

// Policy returns the parsed subtotal policy. Validate guarantees it parses.
func (r ReconcileConfig) Policy() reconcile.Policy {
	p, err := reconcile.ParsePolicy(r.SubtotalPolicy)
	if err != nil {
		return reconcile.PolicyPriceTimesQuantity
	}
	return p
}

// ReportConfig selects where and how runs are reported.
type ReportConfig struct {
	Dir     string   `mapstructure:"dir" yaml:"dir"`
	Name    string   `mapstructure:"name" yaml:"name"`
	Formats []string `mapstructure:"formats" yaml:"formats"`
	// AuditLog is the JSON-lines file used by the jsonl format.
	AuditLog string `mapstructure:"audit_log" yaml:"audit_log"`
}

// CartConfig locates the cart page and its data. Locators use the "strategy:value"
// form accepted by locator.Parse.
type CartConfig struct {
	URL         string `mapstructure:"url" yaml:"url"`
	Item        string `mapstructure:"item" yaml:"item"`
	Name        string `mapstructure:"name" yaml:"name"`
	Price       string `mapstructure:"price" yaml:"price"`
	Quantity    string `mapstructure:"quantity" yaml:"quantity"`
	Total       string `mapstructure:"total" yaml:"total"`
	EmptyMarker string `mapstructure:"empty_marker" yaml:"empty_marker"`
	// OpenLink, when set, is clicked after navigation to reveal the cart.
	OpenLink string `mapstructure:"open_link" yaml:"open_link"`
}

// ScreenshotConfig controls failure evidence.
type ScreenshotConfig struct {
	Dir       string `mapstructure:"dir" yaml:"dir"`
	OnFailure bool   `mapstructure:"on_failure" yaml:"on_failure"`
}

// NewDefaultConfig returns the configuration produced by SetDefaults alone.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "cartprobe")
	v.SetDefault("logger.log_file", "cartprobe.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.ensure_schema", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.debug", false)

	// -- Wait --
	v.SetDefault("wait.default_timeout", "10s")
	v.SetDefault("wait.long_timeout", "30s")
	v.SetDefault("wait.poll_interval", "250ms")

	// -- Interact --
	v.SetDefault("interact.secondary_timeout", "5s")
	v.SetDefault("interact.obscured_grace", "1s")

	// -- Reconcile --
	v.SetDefault("reconcile.tolerance", reconcile.DefaultTolerance)
	v.SetDefault("reconcile.subtotal_policy", string(reconcile.PolicyPriceTimesQuantity))

	// -- Report --
	v.SetDefault("report.dir", "test-reports")
	v.SetDefault("report.name", "CartPriceValidation")
	v.SetDefault("report.formats", []string{"xlsx"})
	v.SetDefault("report.audit_log", "test-reports/audit.jsonl")

	// -- Cart --
	v.SetDefault("cart.item", "css:.product-cart-wrapper.row")
	v.SetDefault("cart.price", "css:.pricing > p:nth-child(2)")
	v.SetDefault("cart.quantity", "css:.quantity__counter-value")
	v.SetDefault("cart.total", "css:.cart-total__value.cart-total--grand.estimated-total")

	// -- Screenshots --
	v.SetDefault("screenshots.dir", "screenshots")
	v.SetDefault("screenshots.on_failure", true)
}

// NewConfigFromViper unmarshals, expands and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "CARTPROBE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every path setting.
func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.LoggerCfg.LogFile,
		&c.BrowserCfg.ExecPath,
		&c.BrowserCfg.UserDataDir,
		&c.ReportCfg.Dir,
		&c.ReportCfg.AuditLog,
		&c.ScreenshotsCfg.Dir,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	var errs []error
	if c.WaitCfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("wait.poll_interval must be positive"))
	}
	if c.WaitCfg.DefaultTimeout <= c.WaitCfg.PollInterval {
		errs = append(errs, fmt.Errorf("wait.default_timeout must exceed wait.poll_interval"))
	}
	if c.WaitCfg.LongTimeout < c.WaitCfg.DefaultTimeout {
		errs = append(errs, fmt.Errorf("wait.long_timeout must be at least wait.default_timeout"))
	}
	if c.InteractCfg.SecondaryTimeout < 0 || c.InteractCfg.ObscuredGrace < 0 {
		errs = append(errs, fmt.Errorf("interact timeouts must not be negative"))
	}
	if c.ReconcileCfg.Tolerance < 0 {
		errs = append(errs, fmt.Errorf("reconcile.tolerance must not be negative"))
	}
	if _, err := reconcile.ParsePolicy(c.ReconcileCfg.SubtotalPolicy); err != nil {
		errs = append(errs, fmt.Errorf("reconcile.subtotal_policy: %w", err))
	}
	if err := c.ReportCfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.CartCfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks the report formats.
func (r *ReportConfig) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("report.name is required")
	}
	for _, f := range r.Formats {
		switch f {
		case "xlsx":
			if r.Dir == "" {
				return fmt.Errorf("report.dir is required for xlsx reports")
			}
		case "jsonl":
			if r.AuditLog == "" {
				return fmt.Errorf("report.audit_log is required for jsonl reports")
			}
		default:
			return fmt.Errorf("report.formats: unsupported format %q", f)
		}
	}
	return nil
}

// Validate checks that every configured locator parses and the required ones are set.
func (c *CartConfig) Validate() error {
	for _, f := range []struct {
		key      string
		value    string
		required bool
	}{
		{"cart.item", c.Item, true},
		{"cart.price", c.Price, true},
		{"cart.total", c.Total, true},
		{"cart.name", c.Name, false},
		{"cart.quantity", c.Quantity, false},
		{"cart.empty_marker", c.EmptyMarker, false},
		{"cart.open_link", c.OpenLink, false},
	} {
		if strings.TrimSpace(f.value) == "" {
			if f.required {
				return fmt.Errorf("%s is required", f.key)
			}
			continue
		}
		if _, err := locator.Parse(f.value); err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
	}
	return nil
}
