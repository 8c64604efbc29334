// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"

	"pagepilot/internal/config"
)

// syncBuffer adapts bytes.Buffer to zapcore.WriteSyncer.
type syncBuffer struct {
	bytes.Buffer
}

func (b *syncBuffer) Sync() error { return nil }

func TestInitializeConsoleLoggerWithColors(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	var buf syncBuffer
	cfg := config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "TestService",
		Colors:      config.ColorConfig{Info: "green"},
	}
	Initialize(cfg, zapcore.Lock(&buf))

	GetLogger().Info("bridge session opened")

	output := buf.String()
	assert.Contains(t, output, "INFO")
	assert.Contains(t, output, "bridge session opened")
	assert.Contains(t, output, "TestService.")
	assert.Contains(t, output, colorGreen)
	assert.Contains(t, output, colorReset)
}

func TestInitializeJSONLogger(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	var buf syncBuffer
	cfg := config.LoggerConfig{
		Level:       "info",
		Format:      "json",
		ServiceName: "TestService",
	}
	Initialize(cfg, zapcore.Lock(&buf))

	GetLogger().Info("plan executed")

	output := buf.String()
	assert.Contains(t, output, `"msg":"plan executed"`)
	assert.Contains(t, output, `"INFO"`)
	assert.NotContains(t, output, colorReset)
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	var buf syncBuffer
	Initialize(config.LoggerConfig{Level: "not-a-level", Format: "json"}, zapcore.Lock(&buf))

	logger := GetLogger()
	logger.Debug("suppressed")
	logger.Info("visible")

	output := buf.String()
	assert.NotContains(t, output, "suppressed")
	assert.Contains(t, output, "visible")
}

func TestGetLoggerBeforeInitReturnsFallback(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	logger := GetLogger()
	assert.NotNil(t, logger)
}

func TestInitializeIsIdempotent(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	var first, second syncBuffer
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.Lock(&first))
	Initialize(config.LoggerConfig{Level: "debug", Format: "console"}, zapcore.Lock(&second))

	GetLogger().Info("only once")

	assert.Contains(t, first.String(), "only once")
	assert.Empty(t, second.String())
}
