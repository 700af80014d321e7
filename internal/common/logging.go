package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

// NewLogger builds an arbor logger from the logging configuration.
// Outputs may contain "console" (or "stdout") and "file".
func NewLogger(cfg LoggingConfig) arbor.ILogger {
	logger := arbor.NewLogger()

	for _, output := range cfg.Outputs {
		switch output {
		case "console", "stdout":
			logger = logger.WithConsoleWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeConsole,
				TimeFormat: "15:04:05",
				TextOutput: true,
			})
		case "file":
			if cfg.FilePath == "" {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to create log directory: %v\n", err)
				continue
			}
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   cfg.FilePath,
				TimeFormat: "15:04:05",
				MaxSize:    100 * 1024 * 1024,
				MaxBackups: 3,
				TextOutput: true,
			})
		}
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	return logger.WithLevelFromString(level)
}

// NewSilentLogger creates a logger with no writers attached
func NewSilentLogger() arbor.ILogger {
	return arbor.NewLogger()
}
