package logging

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/yatrasync/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("json format and level", func(t *testing.T) {
		logger := New(config.LogConfig{Level: "debug", Format: "json"})
		assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
		_, ok := logger.Formatter.(*logrus.JSONFormatter)
		assert.True(t, ok)
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		logger := New(config.LogConfig{Level: "chatty"})
		assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	})

	t.Run("file output is created", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "scanner.log")
		logger := New(config.LogConfig{Level: "info", File: path})
		logger.Info("hello")
		assert.FileExists(t, path)
	})
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	LogError(logger, "queue", "persist", errors.New("disk full"))

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"module":"queue"`)
	assert.Contains(t, out, `"error":"disk full"`)
}
