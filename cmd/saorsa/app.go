// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dirvine/saorsa-cli/internal/config"
	"github.com/dirvine/saorsa-cli/internal/extension"
	"github.com/dirvine/saorsa-cli/internal/logging"
	"github.com/dirvine/saorsa-cli/internal/selfupdate"
	"github.com/dirvine/saorsa-cli/internal/updatecheck"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"
)

const (
	// noNoticeAnnotation marks commands that never start the background
	// update check.
	noNoticeAnnotation = "saorsa.no-update-notice"

	// noConfigAnnotation marks commands that must work without a loadable
	// configuration.
	noConfigAnnotation = "saorsa.no-config"

	// noticeGrace is how long a finished command waits for the background
	// check before giving up on the notice.
	noticeGrace = 250 * time.Millisecond
)

type (
	// rootFlags are the persistent flags shared by every command.
	rootFlags struct {
		verbose       bool
		configPath    string
		noUpdateCheck bool
		preferSystem  bool
		forceDownload bool
	}

	// App holds the per-invocation state built by the root command's
	// PersistentPreRunE. Fields with a zero value fall back to the real
	// environment; tests set them to stay hermetic.
	App struct {
		stdin  io.Reader
		stdout io.Writer
		stderr io.Writer

		flags rootFlags

		version    string
		configDir  string
		cacheDir   string
		execPath   string
		clientOpts []selfupdate.ClientOption
		restarter  selfupdate.Restarter
		args       []string // command line without the program name; os.Args[1:] when nil
		native     extension.NativeLoader

		cfg        *config.Config
		cfgPath    string
		logger     *log.Logger
		logCloser  io.Closer
		state      *updatecheck.Store
		checker    *updatecheck.Checker
		background *updatecheck.Background

		loaderOnce sync.Once
		loader     *extension.Loader
	}
)

// NewApp creates an App bound to the given streams.
func NewApp(stdin io.Reader, stdout, stderr io.Writer) *App {
	return &App{
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		version:   Version,
		restarter: selfupdate.DefaultRestarter(),
	}
}

// processArgs returns the command line the process was invoked with.
func (a *App) processArgs() []string {
	if a.args != nil {
		return slices.Clone(a.args)
	}
	return selfupdate.OriginalArgs()
}

// bootstrap loads configuration, creates the logger and version state, and
// starts the background update check unless cmd opts out.
func (a *App) bootstrap(cmd *cobra.Command) error {
	if cmd.Annotations[noConfigAnnotation] == "true" {
		return nil
	}
	if err := a.loadConfig(cmd.Context()); err != nil {
		return err
	}

	cacheDir, err := a.resolveCacheDir()
	if err != nil {
		return err
	}
	a.state = updatecheck.Load(filepath.Join(cacheDir, updatecheck.StateFileName), a.logger.WithPrefix("updatecheck"))

	a.checker = updatecheck.NewChecker(a.client(), a.state, a.version,
		updatecheck.WithTTL(a.cfg.CacheTTL()),
		updatecheck.WithLogger(a.logger.WithPrefix("updatecheck")),
		updatecheck.WithDisabled(!a.cfg.Update.AutoCheck || !isReleaseVersion(a.version)),
	)
	if cmd.Annotations[noNoticeAnnotation] != "true" {
		a.background = updatecheck.NewBackground(a.checker)
		a.background.Start(cmd.Context())
	}
	return nil
}

// interactiveChecker is a Checker for explicit user requests, which ignore
// update.auto_check.
func (a *App) interactiveChecker() *updatecheck.Checker {
	return updatecheck.NewChecker(a.client(), a.state, a.version,
		updatecheck.WithTTL(a.cfg.CacheTTL()),
		updatecheck.WithLogger(a.logger.WithPrefix("updatecheck")),
	)
}

// loadConfig reads configuration and builds the logger. It is idempotent.
func (a *App) loadConfig(ctx context.Context) error {
	if a.cfg != nil {
		return nil
	}

	cfg, path, err := config.Load(ctx, config.LoadOptions{
		ConfigFilePath: a.flags.configPath,
		ConfigDirPath:  a.configDir,
	})
	if err != nil {
		return err
	}
	cfg.ApplyFlags(config.Flags{
		NoUpdateCheck: a.flags.noUpdateCheck,
		PreferSystem:  a.flags.preferSystem,
		ForceDownload: a.flags.forceDownload,
		Verbose:       a.flags.verbose,
	})

	logger, closer, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level.String(),
		File:    cfg.Logging.File,
		Verbose: a.flags.verbose,
		Output:  a.stderr,
	})
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}

	a.cfg, a.cfgPath = cfg, path
	a.logger, a.logCloser = logger, closer
	return nil
}

// printUpdateNotice shows the background check result, if one arrived in
// time, on stderr.
func (a *App) printUpdateNotice(ctx context.Context) {
	if a.background == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, noticeGrace)
	defer cancel()

	res, ok := a.background.Wait(ctx)
	if !ok || !res.UpdateAvailable {
		return
	}
	fmt.Fprintln(a.stderr, noticeStyle.Render(WarningStyle.Render(res.Message)))
}

// client builds the release client for the configured repository.
func (a *App) client() *selfupdate.GitHubClient {
	opts := []selfupdate.ClientOption{
		selfupdate.WithUserAgent("saorsa/" + a.version),
	}
	if a.cfg != nil {
		opts = append(opts, selfupdate.WithRepo(a.cfg.GitHub.Owner, a.cfg.GitHub.Repo))
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		opts = append(opts, selfupdate.WithToken(token))
	}
	return selfupdate.NewGitHubClient(append(opts, a.clientOpts...)...)
}

func (a *App) updater(opts ...selfupdate.UpdaterOption) *selfupdate.Updater {
	opts = append([]selfupdate.UpdaterOption{
		selfupdate.WithGitHubClient(a.client()),
		selfupdate.WithLogger(a.logger.WithPrefix("selfupdate")),
	}, opts...)
	if a.execPath != "" {
		opts = append(opts, selfupdate.WithExecutablePath(a.execPath))
	}
	return selfupdate.NewUpdater(a.version, opts...)
}

func (a *App) resolveCacheDir() (string, error) {
	if a.cacheDir != "" {
		return a.cacheDir, nil
	}
	return a.cfg.CacheDir()
}

// searchPaths applies the extensions configuration to the default search paths.
func (a *App) searchPaths() []string {
	paths := extension.DefaultSearchPaths()
	if len(a.cfg.Extensions.SearchPaths) > 0 {
		paths = a.cfg.Extensions.SearchPaths
	}
	return append(append([]string(nil), paths...), a.cfg.Extensions.ExtraPaths...)
}

// extensionLoader returns the lazily created loader with discovery already run.
func (a *App) extensionLoader() *extension.Loader {
	a.loaderOnce.Do(func() {
		logger := a.logger.WithPrefix("extension")

		opts := []extension.LoaderOption{
			extension.WithSearchPaths(a.searchPaths()),
			extension.WithLogger(logger),
		}
		if a.native != nil {
			opts = append(opts, extension.WithNativeLoader(a.native))
		}
		if history := a.history(logger); history != nil {
			opts = append(opts, extension.WithHistory(history))
		}
		if resolver, err := a.toolResolver(); err == nil {
			opts = append(opts, extension.WithBuiltins(resolver.Builtins(a.version)...))
		} else {
			logger.Debug("built-in extensions disabled", "err", err)
		}

		a.loader = extension.NewLoader(opts...)
		a.loader.Discover()
	})
	return a.loader
}

// history opens the persistent run history. A corrupt or unreadable file
// falls back to an in-memory store.
func (a *App) history(logger *log.Logger) *extension.HistoryStore {
	path, err := a.historyPath()
	if err != nil {
		logger.Warn("run history disabled", "err", err)
		return extension.NewHistoryStore("")
	}
	h, err := extension.LoadHistory(path)
	if err != nil {
		logger.Warn("ignoring unreadable run history", "path", path, "err", err)
		return extension.NewHistoryStore("")
	}
	return h
}

func (a *App) historyPath() (string, error) {
	if a.configDir != "" {
		return filepath.Join(a.configDir, config.HistoryFileName), nil
	}
	return config.HistoryPath()
}

// Close releases loaded extensions and the log file.
func (a *App) Close() error {
	var errs []error
	if a.loader != nil {
		errs = append(errs, a.loader.Close())
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	return errors.Join(errs...)
}

// isReleaseVersion reports whether v is a comparable release version, as
// opposed to "dev" or a commit hash.
func isReleaseVersion(v string) bool {
	if len(v) > 0 && v[0] != 'v' {
		v = "v" + v
	}
	return semver.IsValid(v)
}
