// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/cartprobe/internal/config"
)

// syncBuffer is a goroutine-safe WriteSyncer over a bytes.Buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func initForTest(t *testing.T, cfg config.LoggerConfig) *syncBuffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	out := &syncBuffer{}
	Initialize(cfg, out)
	return out
}

func TestInitialize_Console(t *testing.T) {
	out := initForTest(t, config.LoggerConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "cartprobe",
		Colors:      config.ColorConfig{Info: "green", Warn: "not-a-color"},
	})

	logger := GetLogger().Named("cart")
	logger.Info("Cart read.", zap.Int("items", 3))
	logger.Warn("Cart total mismatch.")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	assert.Contains(t, lines[0], ansi["green"]+"INFO"+colorReset)
	assert.Contains(t, lines[0], "cartprobe.cart.")
	assert.Contains(t, lines[0], "Cart read.")
	assert.Contains(t, lines[0], `"items": 3`)

	assert.Contains(t, lines[1], "WARN", "unknown colors fall back to plain levels")
	assert.NotContains(t, lines[1], "\x1b[")
}

func TestInitialize_JSON(t *testing.T) {
	out := initForTest(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "cartprobe"})

	GetLogger().Debug("Filtered out.")
	GetLogger().Warn("Failed to persist run.", zap.String("run_id", "abc"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out.String())), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "cartprobe", entry["logger"])
	assert.Equal(t, "Failed to persist run.", entry["msg"])
	assert.Equal(t, "abc", entry["run_id"])
}

func TestInitialize_InvalidLevelDefaultsToInfo(t *testing.T) {
	out := initForTest(t, config.LoggerConfig{Level: "chatty", Format: "json"})

	GetLogger().Debug("hidden")
	GetLogger().Info("shown")
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
}

func TestInitialize_LogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cartprobe.log")
	initForTest(t, config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1})

	GetLogger().Error("This should go to the file.")
	Sync()

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(content), &entry), "file output is always JSON")
	assert.Equal(t, "This should go to the file.", entry["msg"])
}

func TestInitialize_OnlyOnce(t *testing.T) {
	out := initForTest(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "First"})
	first := GetLogger()

	Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))
	second := GetLogger()

	assert.Same(t, first, second)
	second.Info("test")
	assert.Contains(t, out.String(), "First")
	assert.NotContains(t, out.String(), "Second")
}

func TestGetLogger_Fallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	assert.Nil(t, globalLogger.Load(), "the fallback is not stored")
}

func TestBenignSyncError(t *testing.T) {
	assert.True(t, benignSyncError(os.ErrInvalid))
	assert.True(t, benignSyncError(&os.PathError{Op: "sync", Path: "/dev/stdout", Err: os.ErrInvalid}))
	assert.False(t, benignSyncError(os.ErrPermission))
}
