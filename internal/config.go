package internal

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/deckpack/internal/connect"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// SourceDateEpochEnv pins the package mod time for reproducible builds.
const SourceDateEpochEnv = "SOURCE_DATE_EPOCH"

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app" toml:"app"`
	Workspace WorkspaceConfig   `yaml:"workspace" toml:"workspace"`
	Build     BuildConfig       `yaml:"build" toml:"build"`
	Connect   ConnectConfig     `yaml:"connect" toml:"connect"`
	SQLite    SQLiteConfig      `yaml:"sqlite" toml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth" toml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Workspace.Validate(); err != nil {
		return err
	}
	if err := c.Build.Validate(); err != nil {
		return err
	}
	if err := c.Connect.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level"`
	HTTP     HTTPConfig `yaml:"http" toml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// WorkspaceConfig holds the workspace directories. They are created on start.
type WorkspaceConfig struct {
	Definitions string `yaml:"definitions" toml:"definitions"`
	Media       string `yaml:"media" toml:"media"`
	Output      string `yaml:"output" toml:"output"`
}

// Validate validates the workspace configuration.
func (c *WorkspaceConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Definitions, validation.Required),
		validation.Field(&c.Media, validation.Required),
		validation.Field(&c.Output, validation.Required),
	); err != nil {
		return err
	}
	if c.Definitions == c.Output {
		return fmt.Errorf("workspace: definitions and output must be different directories")
	}
	return nil
}

// BuildConfig holds package builder settings.
type BuildConfig struct {
	// ModTime is the Unix time stamped on every row and archive entry.
	// Zero means the epoch unless SOURCE_DATE_EPOCH is set.
	ModTime int64 `yaml:"mod_time" toml:"mod_time"`
	// TempDir holds per-build scratch directories; empty uses the system default.
	TempDir string `yaml:"temp_dir" toml:"temp_dir"`
}

// Validate validates the build configuration.
func (c *BuildConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ModTime, validation.Min(int64(0))),
	)
}

// ModTimeValue resolves the configured mod time, letting SOURCE_DATE_EPOCH
// fill in when none is configured.
func (c *BuildConfig) ModTimeValue() (time.Time, error) {
	if c.ModTime != 0 {
		return time.Unix(c.ModTime, 0).UTC(), nil
	}
	return ModTimeFromEnv()
}

// ModTimeFromEnv reads SOURCE_DATE_EPOCH. An unset variable yields the epoch.
func ModTimeFromEnv() (time.Time, error) {
	v := os.Getenv(SourceDateEpochEnv)
	if v == "" {
		return time.Unix(0, 0).UTC(), nil
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil || sec < 0 {
		return time.Time{}, fmt.Errorf("%s: invalid value %q", SourceDateEpochEnv, v)
	}
	return time.Unix(sec, 0).UTC(), nil
}

// Duration is a time.Duration read from a string such as "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ConnectConfig holds the AnkiConnect settings used by live import.
type ConnectConfig struct {
	Enabled bool     `yaml:"enabled" toml:"enabled"`
	URL     string   `yaml:"url" toml:"url"`
	APIKey  string   `yaml:"api_key" toml:"api_key"`
	Timeout Duration `yaml:"timeout" toml:"timeout"`
	// AllowDuplicate lets AnkiConnect add notes whose first field already exists.
	AllowDuplicate bool `yaml:"allow_duplicate" toml:"allow_duplicate"`
}

// Validate validates the connect configuration.
func (c *ConnectConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required),
		validation.Field(&c.Timeout, validation.Min(Duration(0))),
	)
}

// ClientConfig converts to the client settings.
func (c *ConnectConfig) ClientConfig() connect.Config {
	return connect.Config{URL: c.URL, APIKey: c.APIKey, Timeout: time.Duration(c.Timeout)}
}

// SQLiteConfig holds the note search index database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" toml:"mode"`
	Token string `yaml:"token" toml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Workspace: WorkspaceConfig{
			Definitions: "./decks",
			Media:       "./media",
			Output:      "./dist",
		},
		Connect: ConnectConfig{
			URL:     connect.DefaultURL,
			Timeout: Duration(connect.DefaultTimeout),
		},
		SQLite: SQLiteConfig{
			Path: "./deckpack.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
