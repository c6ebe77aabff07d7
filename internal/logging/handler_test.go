// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "not JSON: %s", buf.String())
	return entry
}

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("cinder", "1.0.0", "json", nil, &buf)

	logger.Info("test message")

	entry := decode(t, &buf)
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "cinder", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.NotContains(t, entry, "trace_id")
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("cinder", "1.0.0", "text", nil, &buf)

	logger.Info("test message")

	assert.Contains(t, buf.String(), "msg=\"test message\"")
	assert.Contains(t, buf.String(), "service=cinder")
}

func TestSetup_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("cinder", "1.0.0", "json", slog.LevelWarn, &buf)

	logger.Info("dropped")
	assert.Empty(t, buf.String())
	logger.Warn("kept")
	assert.Equal(t, "kept", decode(t, &buf)["msg"])
}

func TestHandler_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("cinder", "1.0.0", "json", nil, &buf)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	logger.With("plugin", "greeter").InfoContext(ctx, "traced message")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
	assert.Equal(t, "greeter", entry["plugin"])
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	logger := SetDefault("cinder", "2.0.0", "json", nil, &bytes.Buffer{})
	assert.Same(t, logger, slog.Default())
}

func TestDailyFile_SwitchesOnDateChange(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	now := time.Date(2026, 3, 9, 23, 59, 0, 0, time.Local)
	w := NewDailyFile(dir, "cinder", WithNow(func() time.Time { return now }))
	t.Cleanup(func() { _ = w.Close() })

	_, err := w.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, filepath.Join(dir, "cinder_2026-03-10.log"), w.Path())
	_, err = w.Write([]byte("third\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	day1, err := os.ReadFile(filepath.Join(dir, "cinder_2026-03-09.log"))
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(day1))

	day2, err := os.ReadFile(filepath.Join(dir, "cinder_2026-03-10.log"))
	require.NoError(t, err)
	assert.Equal(t, "third\n", string(day2))
}

func TestDailyFile_Appends(t *testing.T) {
	dir := t.TempDir()
	now := func() time.Time { return time.Date(2026, 1, 2, 12, 0, 0, 0, time.Local) }

	for _, line := range []string{"a\n", "b\n"} {
		w := NewDailyFile(dir, "cinder", WithNow(now))
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	data, err := os.ReadFile(filepath.Join(dir, "cinder_2026-01-02.log"))
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))
}
