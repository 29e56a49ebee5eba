package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, InfoLevel, ParseLevel("INFO"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLevel("Error"))
	assert.Equal(t, InfoLevel, ParseLevel("bogus"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestZapAdapter_Output(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf})
	require.NoError(t, err)

	logger.Info("cache warmed", Int("entries", 3))
	out := buf.String()
	assert.Contains(t, out, "cache warmed")
	assert.Contains(t, out, "entries")

	buf.Reset()
	logger.Error("remote set failed", errors.New("connection refused"), String("key", "orgs:acme"))
	out = buf.String()
	assert.Contains(t, out, "remote set failed")
	assert.Contains(t, out, "connection refused")
	assert.Contains(t, out, "orgs:acme")
}

func TestZapAdapter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: WarnLevel, Output: &buf})
	require.NoError(t, err)

	logger.Debug("too quiet")
	logger.Info("still too quiet")
	assert.Empty(t, buf.String())

	logger.Warn("loud enough")
	assert.Contains(t, buf.String(), "loud enough")
}

func TestZapAdapter_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)

	child := logger.WithFields(String("component", "cache"))
	child.Info("tier populated")

	assert.Contains(t, buf.String(), "component")
	assert.Contains(t, buf.String(), "cache")
}

func TestGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)

	SetGlobalLogger(logger)
	GetGlobalLogger().Info("via global")

	assert.Contains(t, buf.String(), "via global")
}
