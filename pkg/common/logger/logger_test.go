package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerWritesMetadataAndTraceID(t *testing.T) {
	var buf bytes.Buffer
	traceFn := func(context.Context) string { return "abc123" }

	log := NewWithMetadata(&buf, LevelInfo, "dastctl", traceFn, Events{}, map[string]string{
		"hostname": "runner-1",
		"empty":    "",
	})

	log.Debug(context.Background(), "hidden")
	log.With("scan_name", "nightly-1").Info(context.Background(), "visible", "status", "Running")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "visible", lines[0]["msg"])
	assert.Equal(t, "dastctl", lines[0]["service"])
	assert.Equal(t, "runner-1", lines[0]["hostname"])
	assert.Equal(t, "nightly-1", lines[0]["scan_name"])
	assert.Equal(t, "Running", lines[0]["status"])
	assert.Equal(t, "abc123", lines[0]["trace_id"])
	assert.NotContains(t, lines[0], "empty")
	assert.Contains(t, lines[0]["file"], "logger/logger_test.go")
}

func TestLoggerErrorEvents(t *testing.T) {
	var buf bytes.Buffer
	var got []Record

	log := NewWithEvents(&buf, LevelDebug, "dastctl", nil, Events{
		Error: func(_ context.Context, r Record) { got = append(got, r) },
	})

	log.Info(context.Background(), "fine")
	log.Error(context.Background(), "broken", "error", "boom")

	require.Len(t, got, 1)
	assert.Equal(t, "broken", got[0].Message)
	assert.Equal(t, LevelError, got[0].Level)
	assert.Equal(t, "boom", got[0].Attributes["error"])
}

func TestLoggerContextAccumulatesAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelDebug, "dastctl", nil)

	logr := NewLoggerContext(log)
	logr.Add("scan_id", "42")
	logr.Info(context.Background(), "first")
	logr.Add("status", "Complete")
	logr.Warn(context.Background(), "second", "extra", 1)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "42", lines[0]["scan_id"])
	assert.NotContains(t, lines[0], "status")
	assert.Equal(t, "42", lines[1]["scan_id"])
	assert.Equal(t, "Complete", lines[1]["status"])
	assert.EqualValues(t, 1, lines[1]["extra"])
}

func TestNoopDropsEverything(t *testing.T) {
	log := Noop()
	assert.False(t, log.Enabled(context.Background(), LevelError))
	assert.NotPanics(t, func() {
		log.With("k", "v").Error(context.Background(), "ignored")
		NewLoggerContext(log).Info(context.Background(), "ignored")
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "debug", want: LevelDebug},
		{in: "INFO", want: LevelInfo},
		{in: "", want: LevelInfo},
		{in: "warning", want: LevelWarn},
		{in: "error", want: LevelError},
		{in: "loud", want: LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
