package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pv "github.com/goliatone/go-pvscan"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  log.Level
		err   bool
	}{
		{"debug", log.DebugLevel, false},
		{"INFO", log.InfoLevel, false},
		{"", log.InfoLevel, false},
		{"warning", log.WarnLevel, false},
		{"error", log.ErrorLevel, false},
		{"trace", log.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if tt.err {
			assert.ErrorIs(t, err, ErrInvalidLevel)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(nil, Config{Level: "loud"})
	assert.ErrorIs(t, err, ErrInvalidLevel)
	_, err = New(nil, Config{Format: "xml"})
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record), line)
		out = append(out, record)
	}
	return out
}

func TestLogLevelsByEvent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Config{Level: "debug", Format: "json", Prefix: "pvscan"})
	require.NoError(t, err)

	logger.Log(pv.LogEvent{Op: "write", Namespace: "pxm1:TomoScan:", Name: "RotationEnd", Value: 180.0})
	logger.Log(pv.LogEvent{Op: "snapshot", Value: 12, Duration: time.Millisecond})
	logger.Log(pv.LogEvent{Op: "recompute", Name: "NumOfAngles", Err: &pv.ComputationError{Output: "NumOfAngles", Err: errors.New("division by zero")}})
	logger.Log(pv.LogEvent{Op: "restore", Name: "RotationSpeed", Err: &pv.UnknownParameterError{Name: "RotationSpeed"}})

	records := decodeLines(t, &buf)
	require.Len(t, records, 4)

	assert.Equal(t, "debug", records[0]["level"])
	assert.Equal(t, "write", records[0]["msg"])
	assert.Equal(t, "RotationEnd", records[0]["name"])
	assert.Equal(t, "pvscan", records[0]["prefix"])

	assert.Equal(t, "info", records[1]["level"])
	assert.Equal(t, "1ms", records[1]["duration"])

	assert.Equal(t, "warn", records[2]["level"])
	assert.Contains(t, records[2]["err"], "NumOfAngles")

	assert.Equal(t, "error", records[3]["level"])
	assert.Contains(t, records[3]["err"], "RotationSpeed")
}

func TestLogRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Config{Level: "info", Format: "logfmt"})
	require.NoError(t, err)

	logger.Log(pv.LogEvent{Op: "write", Name: "Testing"})
	assert.Empty(t, buf.String())

	logger.Log(pv.LogEvent{Op: "save", Name: "pxm1.TomoScan/default"})
	assert.Contains(t, buf.String(), "msg=save")
	assert.Contains(t, buf.String(), "name=pxm1.TomoScan/default")
}

func TestStoreUsesLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Config{Level: "debug", Format: "json"})
	require.NoError(t, err)

	store := pv.NewStore(pv.WithLogger(logger))
	require.NoError(t, store.Declare(pv.Definition{Name: "PostScanStep", Kind: pv.KindFloat, Precision: 3}))
	require.NoError(t, store.Write("PostScanStep", 2.5))

	assert.Contains(t, buf.String(), `"name":"PostScanStep"`)
	assert.NotNil(t, logger.Charm())
}
