package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pexelsync/pkg/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{"info", config.LoggingConfig{Level: "info"}, false},
		{"debug json", config.LoggingConfig{Level: "debug", Format: "json"}, false},
		{"invalid level", config.LoggingConfig{Level: "loud"}, true},
		{"with file", config.LoggingConfig{Level: "info", File: filepath.Join(t.TempDir(), "logs", "run.log")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
	}
	for in, want := range cases {
		got, err := parseLogLevel(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseLogLevel("verbose")
	assert.Error(t, err)
}

func TestFieldsAreCarried(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	child := l.WithField("query", "cats").WithFields(map[string]interface{}{
		"offset": 10,
		"took":   2 * time.Second,
	})
	child.WithError(errors.New("boom")).Warn("page failed")
	l.Info("parent untouched")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "page failed", entries[0]["message"])
	assert.Equal(t, "cats", entries[0]["query"])
	assert.Equal(t, float64(10), entries[0]["offset"])
	assert.Equal(t, "boom", entries[0]["error"])
	assert.Equal(t, "pexelsync", entries[0]["app"])

	assert.NotContains(t, entries[1], "query")
}

func TestWithFieldsVariants(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	var buf bytes.Buffer
	l := NewWithWriter(&buf).WithField("component", "uploader")

	l.InfoWithFields("batch", map[string]interface{}{"size": 500, "names": []string{"a", "b"}})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "uploader", entries[0]["component"])
	assert.Equal(t, float64(500), entries[0]["size"])
	assert.Equal(t, []interface{}{"a", "b"}, entries[0]["names"])
}

func TestWithNilError(t *testing.T) {
	l := NewWithWriter(&bytes.Buffer{})
	assert.Same(t, l, l.WithError(nil))
}

func TestTestLoggerSharesStore(t *testing.T) {
	tl := NewTestLogger()
	tl.WithField("dataset_id", int64(3)).Info("Batch uploaded")
	tl.Warn("quota low")

	assert.Len(t, tl.GetMessages(), 2)
	assert.True(t, tl.HasMessage("INFO", "Batch"))
	assert.False(t, tl.HasMessage("ERROR", "Batch"))
	assert.Equal(t, int64(3), tl.GetMessagesByLevel("INFO")[0].Fields["dataset_id"])
	assert.Contains(t, tl.String(), "[WARN] quota low")

	tl.Clear()
	assert.Empty(t, tl.GetMessages())
}

func TestHelpers(t *testing.T) {
	tl := NewTestLogger()
	LogRequest(tl, "GET", "/v1/search", 503, 12.5)
	LogRequest(tl, "GET", "/v1/search", 404, 3)
	LogBatch(tl, 7, 1, 250, 1000)

	assert.True(t, tl.HasMessage("ERROR", "server error"))
	assert.True(t, tl.HasMessage("WARN", "client error"))
	batch := tl.GetMessagesByLevel("INFO")
	require.Len(t, batch, 1)
	assert.Equal(t, "25.0%", batch[0].Fields["percentage"])
}
