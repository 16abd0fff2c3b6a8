package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Feature: storefront-api, Property 50: Production logs are structured
func TestProperty_LogsAreStructured(t *testing.T) {
	config, err := buildConfig("production", "")
	require.NoError(t, err)

	properties := gopter.NewProperties(nil)

	properties.Property("production entries are JSON with level, timestamp and message", prop.ForAll(
		func(message string, productID string) bool {
			var buf bytes.Buffer
			core := zapcore.NewCore(
				zapcore.NewJSONEncoder(config.EncoderConfig),
				zapcore.AddSync(&buf),
				config.Level,
			)
			logger := zap.New(core)

			logger.Error("inconsistent state: "+message, zap.String("product_id", productID))

			var entry map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				return false
			}
			return entry["level"] == "error" &&
				entry["timestamp"] != nil &&
				entry["msg"] == "inconsistent state: "+message &&
				entry["product_id"] == productID
		},
		gen.AlphaString(),
		gen.Identifier(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestBuildConfig_Defaults(t *testing.T) {
	prod, err := buildConfig("production", "")
	require.NoError(t, err)
	assert.Equal(t, "json", prod.Encoding)
	assert.Equal(t, zapcore.InfoLevel, prod.Level.Level())
	assert.Equal(t, []string{"stdout"}, prod.OutputPaths)

	dev, err := buildConfig("development", "")
	require.NoError(t, err)
	assert.Equal(t, "console", dev.Encoding)
	assert.Equal(t, zapcore.DebugLevel, dev.Level.Level())
}

func TestBuildConfig_LevelOverride(t *testing.T) {
	config, err := buildConfig("production", "warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, config.Level.Level())

	_, err = buildConfig("production", "loud")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	logger, err := New("production", "")
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}
