// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dirvine/saorsa-cli/internal/issue"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"
)

const (
	// AppName is the directory name used under the config and cache roots.
	AppName = "saorsa-cli"
	// ConfigFileName is the config file name without extension.
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// HistoryFileName is the extension run history file in the config dir.
	HistoryFileName = "plugin_history.json"

	envPrefix = "SAORSA"
)

//go:embed config_schema.cue
var configSchema string

// LoadOptions selects where configuration is read from.
type LoadOptions struct {
	// ConfigFilePath forces a specific file (the --config flag). It must exist.
	ConfigFilePath string
	// ConfigDirPath replaces ConfigDir when set.
	ConfigDirPath string
}

// ConfigDir returns the saorsa-cli configuration directory.
//
//nolint:revive // ConfigDir reads better than Dir at call sites.
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppName), nil
}

// DefaultConfigPath returns <config dir>/config.cue.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

// HistoryPath returns the extension run history file.
func HistoryPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, HistoryFileName), nil
}

// CacheDir returns cache.directory, or <user cache dir>/saorsa-cli.
func (c *Config) CacheDir() (string, error) {
	if c.Cache.Directory != "" {
		return c.Cache.Directory, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locating cache dir: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// Load resolves, validates and decodes the configuration. It returns the
// path of the file that was read, or "" when only defaults and environment
// applied.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := newViper()

	path := opts.ConfigFilePath
	if path != "" {
		if !fileExists(path) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Verify the path passed to --config").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %w", fs.ErrNotExist)).
				BuildError()
		}
	} else {
		dir := opts.ConfigDirPath
		if dir == "" {
			var err error
			if dir, err = ConfigDir(); err != nil {
				return nil, "", err
			}
		}
		path = filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
		if !fileExists(path) {
			path = ""
		}
	}

	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}
	return &cfg, path, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()

	v.SetDefault("github.owner", d.GitHub.Owner)
	v.SetDefault("github.repo", d.GitHub.Repo)
	v.SetDefault("update.auto_check", d.Update.AutoCheck)
	v.SetDefault("update.cache_ttl", d.Update.CacheTTL)
	v.SetDefault("behavior.use_system_binaries", d.Behavior.UseSystemBinaries)
	v.SetDefault("behavior.force_download", d.Behavior.ForceDownload)
	v.SetDefault("extensions.search_paths", d.Extensions.SearchPaths)
	v.SetDefault("extensions.extra_paths", d.Extensions.ExtraPaths)
	v.SetDefault("cache.directory", d.Cache.Directory)
	v.SetDefault("logging.level", string(d.Logging.Level))
	v.SetDefault("logging.file", d.Logging.File)

	// SAORSA_UPDATE_AUTO_CHECK=false overrides update.auto_check, and so on.
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// loadCUEIntoViper validates the file at path against #Config and merges
// it into v. Fields are optional, so validation is non-concrete.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := checkFileSize(data, maxConfigFileSize, path); err != nil {
		return err
	}

	cctx := cuecontext.New()
	schema := cctx.CompileString(configSchema)
	if schema.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schema.Err())
	}

	user := cctx.CompileBytes(data, cue.Filename(path))
	if user.Err() != nil {
		return formatCUEError(user.Err(), path)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(user)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return formatCUEError(err, path)
	}

	var m map[string]any
	if err := unified.Decode(&m); err != nil {
		return formatCUEError(err, path)
	}
	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default configuration to path unless a
// file is already there. It reports whether a file was written.
func CreateDefaultConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("checking %s: %w", path, err)
	}
	if err := Save(DefaultConfig(), path); err != nil {
		return false, err
	}
	return true, nil
}

// Save writes cfg to path as CUE, creating the directory when needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE renders cfg in the config.cue format. Empty optional strings
// are omitted so the file validates against the schema.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// saorsa-cli configuration\n")
	sb.WriteString("// See https://github.com/dirvine/saorsa-cli for documentation.\n\n")

	fmt.Fprintf(&sb, "github: {\n\towner: %q\n\trepo:  %q\n}\n", cfg.GitHub.Owner, cfg.GitHub.Repo)

	sb.WriteString("\nupdate: {\n")
	fmt.Fprintf(&sb, "\tauto_check: %v\n", cfg.Update.AutoCheck)
	fmt.Fprintf(&sb, "\tcache_ttl:  %q\n", cfg.Update.CacheTTL)
	sb.WriteString("}\n")

	sb.WriteString("\nbehavior: {\n")
	fmt.Fprintf(&sb, "\tuse_system_binaries: %v\n", cfg.Behavior.UseSystemBinaries)
	fmt.Fprintf(&sb, "\tforce_download:      %v\n", cfg.Behavior.ForceDownload)
	sb.WriteString("}\n")

	sb.WriteString("\nextensions: {\n")
	writeList(&sb, "search_paths", cfg.Extensions.SearchPaths)
	writeList(&sb, "extra_paths", cfg.Extensions.ExtraPaths)
	sb.WriteString("}\n")

	if cfg.Cache.Directory != "" {
		fmt.Fprintf(&sb, "\ncache: {\n\tdirectory: %q\n}\n", cfg.Cache.Directory)
	}

	sb.WriteString("\nlogging: {\n")
	fmt.Fprintf(&sb, "\tlevel: %q\n", cfg.Logging.Level)
	if cfg.Logging.File != "" {
		fmt.Fprintf(&sb, "\tfile:  %q\n", cfg.Logging.File)
	}
	sb.WriteString("}\n")

	return sb.String()
}

func writeList(sb *strings.Builder, key string, items []string) {
	if len(items) == 0 {
		fmt.Fprintf(sb, "\t%s: []\n", key)
		return
	}
	fmt.Fprintf(sb, "\t%s: [\n", key)
	for _, it := range items {
		fmt.Fprintf(sb, "\t\t%q,\n", it)
	}
	sb.WriteString("\t]\n")
}
