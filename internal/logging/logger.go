package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions enables a rotating JSON log file next to the console output.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

func New(environment, level string) (zerolog.Logger, error) {
	return NewWithFile(environment, level, FileOptions{})
}

func NewWithFile(environment, level string, file FileOptions) (zerolog.Logger, error) {
	parsedLevel, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse LOG_LEVEL=%q: %w", level, err)
	}

	var console io.Writer = os.Stderr
	if strings.EqualFold(strings.TrimSpace(environment), "local") {
		console = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}

	writer := console
	if path := strings.TrimSpace(file.Path); path != "" {
		rotating := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    max(file.MaxSizeMB, 1),
			MaxBackups: max(file.MaxBackups, 0),
			Compress:   true,
		}
		writer = zerolog.MultiLevelWriter(console, rotating)
	}

	logger := zerolog.New(writer).
		Level(parsedLevel).
		With().
		Timestamp().
		Str("service", "newsradar").
		Logger()

	return logger, nil
}
