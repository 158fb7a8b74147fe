package mqttng

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
		name  string
	}{
		{"debug", LogLevelDebug, "DEBUG"},
		{"INFO", LogLevelInfo, "INFO"},
		{"", LogLevelInfo, "INFO"},
		{"warning", LogLevelWarn, "WARN"},
		{"Error", LogLevelError, "ERROR"},
		{"off", LogLevelNone, "NONE"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.name, got.String())
		})
	}

	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestStdLogger(t *testing.T) {
	t.Run("filters by level", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewStdLogger(&buf, LogLevelWarn)

		l.Debug("hidden", nil)
		l.Info("hidden", nil)
		assert.Empty(t, buf.String())

		l.Warn("shown", nil)
		assert.Contains(t, buf.String(), "[WARN] shown")

		l.SetLevel(LogLevelDebug)
		assert.Equal(t, LogLevelDebug, l.Level())
		l.Debug("now shown", nil)
		assert.Contains(t, buf.String(), "[DEBUG] now shown")
	})

	t.Run("fields sorted", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewStdLogger(&buf, LogLevelInfo)

		l.Info("publish queued", LogFields{LogFieldTopic: "a/b", LogFieldPacketID: 7})
		assert.Contains(t, buf.String(), "[INFO] publish queued packet_id=7 topic=a/b")
	})

	t.Run("with fields", func(t *testing.T) {
		var buf bytes.Buffer
		base := NewStdLogger(&buf, LogLevelInfo)
		l := base.WithFields(LogFields{LogFieldClientID: "edge-1"})

		l.Error("connection lost", LogFields{LogFieldState: "connected"})
		assert.Contains(t, buf.String(), "[ERROR] connection lost client_id=edge-1 state=connected")

		buf.Reset()
		base.Info("plain", nil)
		assert.NotContains(t, buf.String(), "client_id")
	})

	t.Run("none disables", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewStdLogger(&buf, LogLevelNone)
		l.Error("hidden", nil)
		assert.Empty(t, buf.String())
	})
}

func TestNoOpLogger(t *testing.T) {
	l := NewNoOpLogger()
	assert.NotPanics(t, func() {
		l.Debug("x", nil)
		l.Info("x", LogFields{"k": "v"})
		l.Warn("x", nil)
		l.Error("x", nil)
	})
	assert.Same(t, l, l.WithFields(LogFields{"k": "v"}))

	l.SetLevel(LogLevelError)
	assert.Equal(t, LogLevelError, l.Level())
}

func TestMergeFields(t *testing.T) {
	base := LogFields{"a": 1, "b": 2}
	merged := mergeFields(base, LogFields{"b": 3, "c": 4})

	assert.Equal(t, LogFields{"a": 1, "b": 3, "c": 4}, merged)
	assert.Equal(t, LogFields{"a": 1, "b": 2}, base, "base is not modified")

	extra := LogFields{"x": 1}
	assert.Equal(t, extra, mergeFields(nil, extra))
}
