package Logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"AcesFuel/Config"

	"github.com/rs/zerolog"
)

// New builds the service logger. Empty settings mean JSON at info level on stdout.
func New(cfg Config.LoggingConfig, app Config.AppConfig) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	}

	output := io.Writer(os.Stdout)
	var closer io.Closer

	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stderr":
		output = os.Stderr
	case "file":
		if cfg.FilePath == "" {
			return zerolog.Nop(), nil, fmt.Errorf("logging.output=file requires logging.file_path")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		output = file
		closer = file
	}

	if strings.ToLower(strings.TrimSpace(cfg.Format)) == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("app", app.Name).
		Str("env", app.Environment).
		Str("version", app.Version).
		Logger()

	return logger, closer, nil
}
