package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes how the kernel's process-wide logger should behave:
// where it writes, at what level, and whether a separate rotating
// activation-trail file is kept alongside the normal log.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Activation  ActivationLogConfig
}

// ActivationLogConfig controls the rotating activation-trail file behind
// ActivationTrail. The plugin manager logs its loads, unloads, reloads and
// faults through Named("plugin"), so those lines go to the main log stream,
// not to this file.
type ActivationLogConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	root            *slog.Logger
	activationTrail *slog.Logger
	setupOnce       sync.Once
	openFiles       []io.Closer
	setupErr        error
)

// Init configures the global root logger and, if enabled, the activation
// trail. Safe to call once at process startup; later calls are no-ops.
func Init(cfg Config) error {
	setupOnce.Do(func() {
		opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}

		handler, err := buildHandler(cfg.Format, cfg.OutputPaths, opts)
		if err != nil {
			setupErr = err
			return
		}
		root = slog.New(handler)

		activationTrail = root
		if cfg.Activation.Enabled {
			trail, err := buildActivationTrail(cfg.Activation)
			if err != nil {
				setupErr = err
				return
			}
			activationTrail = trail
		}
	})
	if setupErr != nil {
		return setupErr
	}
	if root == nil {
		return errors.New("logger already initialised")
	}
	return nil
}

func buildHandler(format string, outputs []string, opts *slog.HandlerOptions) (slog.Handler, error) {
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		w, closer, err := openWriter(out)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			openFiles = append(openFiles, closer)
		}
		writers = append(writers, w)
	}

	var dest io.Writer = writers[0]
	if len(writers) > 1 {
		dest = io.MultiWriter(writers...)
	}

	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(dest, opts), nil
	}
	return slog.NewJSONHandler(dest, opts), nil
}

func buildActivationTrail(cfg ActivationLogConfig) (*slog.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("activation log path cannot be empty when enabled")
	}
	cfg = withActivationDefaults(cfg)

	writer, err := newRotatingWriter(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	if err != nil {
		return nil, err
	}
	openFiles = append(openFiles, writer)
	return slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})), nil
}

func withActivationDefaults(cfg ActivationLogConfig) ActivationLogConfig {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 7
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 30
	}
	return cfg
}

func openWriter(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		return file, file, nil
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the root structured logger, initializing it with defaults if
// Init was never called.
func L() *slog.Logger {
	if root == nil {
		_ = Init(Config{})
	}
	return root
}

// Named returns a child logger scoped to component, the form every
// subsystem (bridge, plugin, control, router) uses for its own log lines.
func Named(component string) *slog.Logger {
	return L().WithGroup(component)
}

// ForPlugin returns a child logger scoped to a single plugin's activity,
// so a host-function call or a delivery failure is attributable to a
// PluginId without every call site repeating the attribute by hand.
func ForPlugin(pluginID string) *slog.Logger {
	return L().With("plugin_id", pluginID)
}

// ActivationTrail returns the activation-trail logger. It is the root
// logger unless a dedicated activation trail file was configured. No
// kernel code path writes to it.
func ActivationTrail() *slog.Logger {
	if activationTrail == nil {
		return L()
	}
	return activationTrail
}

// Flush closes every file the logger opened, flushing buffered writes.
func Flush() error {
	var err error
	for _, f := range openFiles {
		err = errors.Join(err, f.Close())
	}
	openFiles = nil
	return err
}
