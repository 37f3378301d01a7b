package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xelth-com/yatrasync/internal/config"
)

// New builds the process logger from config. Output goes to stderr and,
// when a file is configured, to a size-rotated log file as well.
func New(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()

	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.File != "" {
		_ = os.MkdirAll(filepath.Dir(cfg.File), 0755)
		logger.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}))
	}

	return logger
}

// Discard returns a logger that drops everything, for tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// LogError logs a failure with the module and operation it happened in
func LogError(logger logrus.FieldLogger, module, op string, err error) {
	logger.WithFields(logrus.Fields{
		"module": module,
		"op":     op,
	}).WithError(err).Error("❌ " + op + " failed")
}
