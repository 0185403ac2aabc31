package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	l, err := New(Config{Level: "warn", Format: "json", OutputFile: path})
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("kept", zap.String("tx", "t1"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"msg":"kept"`)
	assert.Contains(t, lines[0], `"service":"helioscommit"`)
	assert.Contains(t, lines[0], `"level":"WARN"`)
}

func TestNew_BadOutputFile(t *testing.T) {
	_, err := New(Config{OutputFile: filepath.Join(t.TempDir(), "missing", "node.log")})
	assert.Error(t, err)
}

func TestHCLog_ForwardsToZap(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := NewHCLog(zap.New(core))
	assert.True(t, h.IsDebug())

	h.Named("raft").With("node", "n1").Info("entering leader state", "term", 2, "dangling")
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "entering leader state", entry.Message)
	assert.Equal(t, "raft", entry.LoggerName)
	ctx := entry.ContextMap()
	assert.Equal(t, "n1", ctx["node"])
	assert.EqualValues(t, 2, ctx["term"])
	assert.Equal(t, "(missing)", ctx["dangling"])

	h.SetLevel(hclog.Error)
	h.Warn("ignored")
	assert.Equal(t, 1, logs.Len())
	assert.Equal(t, hclog.Error, h.GetLevel())

	h.Log(hclog.Error, "failed")
	assert.Equal(t, 2, logs.Len())
}
