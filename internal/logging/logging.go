// SPDX-License-Identifier: MPL-2.0

// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// Prefix tags every line written by the root logger.
	Prefix = "saorsa"

	maxLogSizeMB  = 10
	maxLogBackups = 3
	maxLogAgeDays = 28
)

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn or error. It defaults to info.
	Level string
	// File, when set, redirects output to a size-rotated log file.
	File string
	// Verbose forces debug level.
	Verbose bool
	// Output replaces stderr when File is empty.
	Output io.Writer
}

// New returns a logger for opts together with a closer for its file sink.
// The closer is a no-op when logging to a stream.
func New(opts Options) (*log.Logger, io.Closer, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	if opts.Verbose {
		level = log.DebugLevel
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if opts.Output != nil {
		out = opts.Output
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxLogSizeMB,
			MaxBackups: maxLogBackups,
			MaxAge:     maxLogAgeDays,
		}
		out, closer = rotating, rotating
	}

	logger := log.NewWithOptions(out, log.Options{
		Prefix:          Prefix,
		Level:           level,
		ReportTimestamp: opts.File != "",
		TimeFormat:      time.RFC3339,
	})
	if opts.File != "" {
		// Files are read by tools, not terminals.
		logger.SetFormatter(log.LogfmtFormatter)
	}
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
