// Package config handles configuration loading for issueforge.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/issueforge/internal/decompose"
	"github.com/ShayCichocki/issueforge/internal/dispatch"
	"github.com/ShayCichocki/issueforge/internal/orchestrator"
	"github.com/ShayCichocki/issueforge/internal/pool"
)

const (
	appName           = "issueforge"
	projectConfigName = ".issueforge.yaml"
	envPrefix         = "ISSUEFORGE"
)

// Config holds all configuration for issueforge.
type Config struct {
	Pool      pool.Config     `mapstructure:"pool" yaml:"pool"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch" yaml:"dispatch"`
	Quality   QualityConfig   `mapstructure:"quality" yaml:"quality"`
	Workspace WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
	Anthropic AnthropicConfig `mapstructure:"anthropic" yaml:"anthropic"`
	State     StateConfig     `mapstructure:"state" yaml:"state"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// DispatchConfig holds external dispatch settings.
type DispatchConfig struct {
	RateLimit     int           `mapstructure:"rate_limit" yaml:"rate_limit"`
	ResetInterval time.Duration `mapstructure:"reset_interval" yaml:"reset_interval"`
	// Target is the external job definition, e.g. a workflow file name.
	Target string `mapstructure:"target" yaml:"target"`
	// Command is the CLI used to trigger jobs.
	Command string `mapstructure:"command" yaml:"command"`
	// QueueDir is watched for work item files.
	QueueDir string `mapstructure:"queue_dir" yaml:"queue_dir"`
}

// QualityConfig drives the QualityCheck decision.
type QualityConfig struct {
	// RetryBelow is the success rate (percent) under which a batch is retried.
	RetryBelow float64 `mapstructure:"retry_below" yaml:"retry_below"`
	// SkipReviewAt is the success rate (percent) at or above which PR creation is skipped.
	SkipReviewAt float64 `mapstructure:"skip_review_at" yaml:"skip_review_at"`
	MaxRetries   int     `mapstructure:"max_retries" yaml:"max_retries"`
	AllowSkip    bool    `mapstructure:"allow_skip" yaml:"allow_skip"`
}

// WorkspaceConfig selects how workspaces are created.
type WorkspaceConfig struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// Mode is "git" for worktrees or "dir" for plain directories.
	Mode string `mapstructure:"mode" yaml:"mode"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	Model      string `mapstructure:"model" yaml:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock" yaml:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region" yaml:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile"`
}

// StateConfig locates the run history database.
type StateConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// Workspace modes.
const (
	WorkspaceModeGit = "git"
	WorkspaceModeDir = "dir"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, ISSUEFORGE_POOL_MAX_CONCURRENCY, ...)
// 2. Project config (.issueforge.yaml in current directory or parent)
// 3. User config (~/.config/issueforge/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a single file on top of the defaults.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY", envPrefix+"_ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.aws_region", "AWS_REGION", envPrefix+"_ANTHROPIC_AWS_REGION")
	v.BindEnv("anthropic.aws_profile", "AWS_PROFILE", envPrefix+"_ANTHROPIC_AWS_PROFILE")
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	cfg.Workspace.BaseDir = expandPath(cfg.Workspace.BaseDir)
	cfg.Dispatch.QueueDir = expandPath(cfg.Dispatch.QueueDir)
	cfg.State.DBPath = expandPath(cfg.State.DBPath)

	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("pool.max_concurrency", d.Pool.MaxConcurrency)
	v.SetDefault("pool.timeout", d.Pool.Timeout.String())
	v.SetDefault("pool.fail_fast", d.Pool.FailFast)
	v.SetDefault("pool.auto_cleanup", d.Pool.AutoCleanup)

	v.SetDefault("dispatch.rate_limit", d.Dispatch.RateLimit)
	v.SetDefault("dispatch.reset_interval", d.Dispatch.ResetInterval.String())
	v.SetDefault("dispatch.target", d.Dispatch.Target)
	v.SetDefault("dispatch.command", d.Dispatch.Command)
	v.SetDefault("dispatch.queue_dir", d.Dispatch.QueueDir)

	v.SetDefault("quality.retry_below", d.Quality.RetryBelow)
	v.SetDefault("quality.skip_review_at", d.Quality.SkipReviewAt)
	v.SetDefault("quality.max_retries", d.Quality.MaxRetries)
	v.SetDefault("quality.allow_skip", d.Quality.AllowSkip)

	v.SetDefault("workspace.base_dir", d.Workspace.BaseDir)
	v.SetDefault("workspace.mode", d.Workspace.Mode)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("state.db_path", d.State.DBPath)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Pool: pool.DefaultConfig(),
		Dispatch: DispatchConfig{
			RateLimit:     5,
			ResetInterval: time.Hour,
			Target:        "issueforge.yml",
			Command:       "gh",
			QueueDir:      filepath.Join(".issueforge", "queue"),
		},
		Quality: QualityConfig{
			RetryBelow:   50,
			SkipReviewAt: 100,
			MaxRetries:   2,
			AllowSkip:    false,
		},
		Workspace: WorkspaceConfig{
			BaseDir: filepath.Join(getCacheDir(), "worktrees"),
			Mode:    WorkspaceModeGit,
		},
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-5-20250929",
		},
		State: StateConfig{
			DBPath: filepath.Join(".issueforge", "state.db"),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9464",
		},
	}
}

// PoolConfig returns the workspace pool settings.
func (c *Config) PoolConfig() pool.Config {
	return c.Pool
}

// DispatcherConfig returns the dispatcher settings.
func (c *Config) DispatcherConfig() dispatch.Config {
	return dispatch.Config{
		RateLimit:     c.Dispatch.RateLimit,
		ResetInterval: c.Dispatch.ResetInterval,
		Target:        c.Dispatch.Target,
	}
}

// QualityPolicy returns the QualityCheck thresholds.
func (c *Config) QualityPolicy() orchestrator.QualityPolicy {
	return orchestrator.QualityPolicy{
		RetryBelow:   c.Quality.RetryBelow,
		SkipReviewAt: c.Quality.SkipReviewAt,
		MaxRetries:   c.Quality.MaxRetries,
		AllowSkip:    c.Quality.AllowSkip,
	}
}

// ClientConfig returns the Claude client settings with the API key resolved.
func (c *Config) ClientConfig() decompose.ClientConfig {
	key, _ := resolveAPIKey(c)
	return decompose.ClientConfig{
		Model:      c.Anthropic.Model,
		APIKey:     key,
		UseBedrock: c.Anthropic.UseBedrock,
		AWSRegion:  c.Anthropic.AWSRegion,
		AWSProfile: c.Anthropic.AWSProfile,
	}
}

// Validate checks cross-field constraints that unmarshaling cannot express.
func (c *Config) Validate() error {
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("%w: pool: %w", ErrInvalid, err)
	}
	if c.Dispatch.RateLimit < 1 {
		return fmt.Errorf("%w: dispatch.rate_limit must be >= 1", ErrInvalid)
	}
	if c.Quality.RetryBelow < 0 || c.Quality.RetryBelow > 100 {
		return fmt.Errorf("%w: quality.retry_below must be within [0, 100]", ErrInvalid)
	}
	if c.Quality.SkipReviewAt < 0 || c.Quality.SkipReviewAt > 100 {
		return fmt.Errorf("%w: quality.skip_review_at must be within [0, 100]", ErrInvalid)
	}
	if c.Quality.MaxRetries < 0 {
		return fmt.Errorf("%w: quality.max_retries must not be negative", ErrInvalid)
	}
	switch c.Workspace.Mode {
	case WorkspaceModeGit, WorkspaceModeDir:
	default:
		return fmt.Errorf("%w: workspace.mode must be %q or %q, got %q", ErrInvalid, WorkspaceModeGit, WorkspaceModeDir, c.Workspace.Mode)
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// getUserConfigDir returns the XDG config directory for issueforge.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", appName)
	}
	return filepath.Join(home, ".config", appName)
}

// getCacheDir returns the XDG cache directory for issueforge.
func getCacheDir() string {
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName)
	}
	return filepath.Join(home, ".cache", appName)
}

// findProjectConfig searches for .issueforge.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, projectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandPath expands env references and a leading "~/".
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
