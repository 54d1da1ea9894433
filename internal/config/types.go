// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// LogLevelDebug logs everything, including suppressed update-check failures.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs warnings and errors.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs errors only.
	LogLevelError LogLevel = "error"

	defaultOwner    = "dirvine"
	defaultRepo     = "saorsa-cli"
	defaultCacheTTL = "1h"
)

var (
	// ErrInvalidLogLevel is returned for an unrecognized LogLevel.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidCacheTTL is returned when update.cache_ttl is not a positive duration.
	ErrInvalidCacheTTL = errors.New("invalid cache ttl")
	// ErrInvalidPath is returned for a configured path that is whitespace-only.
	ErrInvalidPath = errors.New("invalid path")
	// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel names a logging threshold.
	LogLevel string

	// InvalidLogLevelError wraps ErrInvalidLogLevel.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// InvalidCacheTTLError wraps ErrInvalidCacheTTL.
	InvalidCacheTTLError struct {
		Value string
		Err   error
	}

	// InvalidPathError wraps ErrInvalidPath.
	InvalidPathError struct {
		Field string
		Value string
	}

	// InvalidConfigError collects every field error found by Validate.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		GitHub     GitHubConfig     `json:"github" mapstructure:"github"`
		Update     UpdateConfig     `json:"update" mapstructure:"update"`
		Behavior   BehaviorConfig   `json:"behavior" mapstructure:"behavior"`
		Extensions ExtensionsConfig `json:"extensions" mapstructure:"extensions"`
		Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
		Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
	}

	// GitHubConfig names the repository releases are fetched from.
	GitHubConfig struct {
		Owner string `json:"owner" mapstructure:"owner"`
		Repo  string `json:"repo" mapstructure:"repo"`
	}

	// UpdateConfig controls the startup update check.
	UpdateConfig struct {
		// AutoCheck runs the background check on startup (default: true).
		AutoCheck bool `json:"auto_check" mapstructure:"auto_check"`
		// CacheTTL is a Go duration string (default: "1h").
		CacheTTL string `json:"cache_ttl" mapstructure:"cache_ttl"`
	}

	// BehaviorConfig controls companion tool resolution.
	BehaviorConfig struct {
		// UseSystemBinaries prefers tools already on PATH.
		UseSystemBinaries bool `json:"use_system_binaries" mapstructure:"use_system_binaries"`
		// ForceDownload always fetches tools from the latest release.
		ForceDownload bool `json:"force_download" mapstructure:"force_download"`
	}

	// ExtensionsConfig adjusts where extensions are discovered.
	ExtensionsConfig struct {
		// SearchPaths replaces the default search paths when non-empty.
		SearchPaths []string `json:"search_paths" mapstructure:"search_paths"`
		// ExtraPaths are appended after the search paths.
		ExtraPaths []string `json:"extra_paths" mapstructure:"extra_paths"`
	}

	// CacheConfig locates downloaded artifacts and version state.
	CacheConfig struct {
		// Directory overrides <user cache dir>/saorsa-cli.
		Directory string `json:"directory" mapstructure:"directory"`
	}

	// LoggingConfig configures the logger.
	LoggingConfig struct {
		Level LogLevel `json:"level" mapstructure:"level"`
		// File, when set, sends logs to a rotating file instead of stderr.
		File string `json:"file" mapstructure:"file"`
	}

	// Flags are the command-line overrides applied on top of the loaded config.
	Flags struct {
		NoUpdateCheck bool
		PreferSystem  bool
		ForceDownload bool
		Verbose       bool
	}
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		GitHub: GitHubConfig{Owner: defaultOwner, Repo: defaultRepo},
		Update: UpdateConfig{AutoCheck: true, CacheTTL: defaultCacheTTL},
		Extensions: ExtensionsConfig{
			SearchPaths: []string{},
			ExtraPaths:  []string{},
		},
		Logging: LoggingConfig{Level: LogLevelInfo},
	}
}

// ApplyFlags overrides cfg with flags that were set. Flags only ever
// enable behaviour, so an unset flag leaves the file value in place.
func (c *Config) ApplyFlags(f Flags) {
	if f.NoUpdateCheck {
		c.Update.AutoCheck = false
	}
	if f.PreferSystem {
		c.Behavior.UseSystemBinaries = true
	}
	if f.ForceDownload {
		c.Behavior.ForceDownload = true
	}
	if f.Verbose {
		c.Logging.Level = LogLevelDebug
	}
}

// CacheTTL returns the parsed update.cache_ttl. An invalid value, which
// Validate reports, falls back to one hour.
func (c *Config) CacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Update.CacheTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// Validate checks the constraints the CUE schema leaves to Go.
func (c *Config) Validate() error {
	var errs []error

	if valid, fieldErrs := c.Logging.Level.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if d, err := time.ParseDuration(c.Update.CacheTTL); err != nil {
		errs = append(errs, &InvalidCacheTTLError{Value: c.Update.CacheTTL, Err: err})
	} else if d <= 0 {
		errs = append(errs, &InvalidCacheTTLError{Value: c.Update.CacheTTL})
	}

	for i, p := range c.Extensions.SearchPaths {
		errs = appendPathError(errs, fmt.Sprintf("extensions.search_paths[%d]", i), p, false)
	}
	for i, p := range c.Extensions.ExtraPaths {
		errs = appendPathError(errs, fmt.Sprintf("extensions.extra_paths[%d]", i), p, false)
	}
	errs = appendPathError(errs, "cache.directory", c.Cache.Directory, true)
	errs = appendPathError(errs, "logging.file", c.Logging.File, true)

	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

func appendPathError(errs []error, field, value string, emptyOK bool) []error {
	if value == "" && emptyOK {
		return errs
	}
	if strings.TrimSpace(value) == "" {
		return append(errs, &InvalidPathError{Field: field, Value: value})
	}
	return errs
}

// IsValid reports whether l is a known level.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

// String returns the level name.
func (l LogLevel) String() string { return string(l) }

func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

func (e *InvalidCacheTTLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid update.cache_ttl %q: %v", e.Value, e.Err)
	}
	return fmt.Sprintf("invalid update.cache_ttl %q: must be positive", e.Value)
}

// Unwrap returns ErrInvalidCacheTTL.
func (e *InvalidCacheTTLError) Unwrap() error { return ErrInvalidCacheTTL }

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("%s: invalid path %q", e.Field, e.Value)
}

// Unwrap returns ErrInvalidPath.
func (e *InvalidPathError) Unwrap() error { return ErrInvalidPath }

func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, fe := range e.FieldErrors {
		msgs[i] = fe.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidConfig and the field errors.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
