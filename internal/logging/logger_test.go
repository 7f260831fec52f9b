package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogrusLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"DEBUG", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"info", logrus.InfoLevel},
		{"unknown", logrus.InfoLevel},
		{"", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLogrusLevel(tt.input))
		})
	}
}

func TestNewLogger_ProductionUsesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "production")

	LogStartup(logger, "sentio", "1.0.0", 8080)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Application startup", entry["msg"])
	assert.Equal(t, "sentio", entry["service"])
	assert.Equal(t, float64(8080), entry["port"])
}

func TestNewLogger_DevelopmentUsesText(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "development")

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	WithComponent(logger, "risk_manager").Debug("hello")
	assert.Contains(t, buf.String(), "component=risk_manager")
}

func TestLogBusinessEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "production")

	LogBusinessEvent(logger, "order_filled", map[string]interface{}{"symbol": "AAPL"})
	LogShutdown(logger, "sentio", "signal")

	assert.Contains(t, buf.String(), `"event_type":"order_filled"`)
	assert.Contains(t, buf.String(), `"symbol":"AAPL"`)
	assert.Contains(t, buf.String(), `"reason":"signal"`)
}

func TestNewDiscardLogger(t *testing.T) {
	logger := NewDiscardLogger()
	assert.NotPanics(t, func() { logger.Info("dropped") })
}
