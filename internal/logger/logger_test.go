package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetWriter(&buf)
	t.Cleanup(func() {
		_ = SetOutput("stdout")
		SetLevel("INFO")
		SetFormat("text")
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := captureLogs(t)
	SetLevel("WARN")

	Debug("debug line")
	Info("info line")
	Warn("warn line")
	Error("error line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "[WARN] warn line")
	assert.Contains(t, out, "[ERROR] error line")
}

func TestSetLevel_UnknownKeepsCurrent(t *testing.T) {
	captureLogs(t)
	SetLevel("debug")
	SetLevel("verbose")
	assert.Equal(t, LevelDebug, GetLevel())
}

func TestJSONFormat(t *testing.T) {
	buf := captureLogs(t)
	SetFormat("json")

	Info("owner=%s shards=%d", "abc", 2)

	var line jsonLine
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "INFO", line.Level)
	assert.Equal(t, "owner=abc shards=2", line.Message)
	assert.NotEmpty(t, line.Time)
}

func TestSetOutput_File(t *testing.T) {
	captureLogs(t)
	path := filepath.Join(t.TempDir(), "vault.log")

	require.NoError(t, SetOutput(path))
	Info("written to file")
	require.NoError(t, SetOutput("stdout"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "written to file"))
}
