package logging

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type exportedRecord struct {
	body     string
	severity otellog.Severity
	attrs    map[string]string
}

type memoryExporter struct {
	mu      sync.Mutex
	records []exportedRecord
}

func (e *memoryExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		attrs := map[string]string{}
		r.WalkAttributes(func(kv otellog.KeyValue) bool {
			attrs[kv.Key] = kv.Value.String()
			return true
		})
		e.records = append(e.records, exportedRecord{body: r.Body().AsString(), severity: r.Severity(), attrs: attrs})
	}
	return nil
}

func (e *memoryExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryExporter) ForceFlush(context.Context) error { return nil }

func TestOTelHook_ForwardsEntries(t *testing.T) {
	exporter := &memoryExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	logger := NewDiscardLogger()
	logger.SetLevel(logrus.DebugLevel)
	logger.AddHook(NewOTelHook(provider.Logger("test"), logrus.InfoLevel))

	logger.Debug("not forwarded")
	logger.WithFields(logrus.Fields{
		"symbol":   "AAPL",
		"quantity": 80,
		"error":    errors.New("broker offline"),
	}).Warn("Order rejected")

	exporter.mu.Lock()
	defer exporter.mu.Unlock()
	require.Len(t, exporter.records, 1)
	rec := exporter.records[0]
	assert.Equal(t, "Order rejected", rec.body)
	assert.Equal(t, otellog.SeverityWarn, rec.severity)
	assert.Equal(t, "AAPL", rec.attrs["symbol"])
	assert.Equal(t, "80", rec.attrs["quantity"])
	assert.Equal(t, "broker offline", rec.attrs["error"])
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, otellog.SeverityError, severityFor(logrus.ErrorLevel))
	assert.Equal(t, otellog.SeverityFatal, severityFor(logrus.PanicLevel))
	assert.Equal(t, otellog.SeverityDebug, severityFor(logrus.DebugLevel))
}
