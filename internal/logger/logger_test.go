package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// captureOutput redirects logger output to a buffer for testing.
// Returns the buffer and a cleanup function to restore original output.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false // Disable colors for easier testing
	mu.Unlock()

	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}

	return buf, cleanup
}

// ============================================================================
// Level Filtering Tests
// ============================================================================

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.Contains(t, out, "debug message")
		assert.Contains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})

	t.Run("WarnLevelHidesDebugAndInfo", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("WARN")

		Debug("debug message")
		Info("info message")
		Warn("warn message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
	})

	t.Run("InvalidLevelIsIgnored", func(t *testing.T) {
		SetLevel("INFO")
		SetLevel("NOT-A-LEVEL")
		assert.Equal(t, LevelInfo, Level(currentLevel.Load()))
	})
}

// ============================================================================
// Format Tests
// ============================================================================

func TestFormatSwitching(t *testing.T) {
	t.Run("JSONFormatProducesValidJSON", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetFormat("json")
		SetLevel("INFO")
		Info("structured message", "sha1", "abc123", "size", 42)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "structured message", decoded["msg"])
		assert.Equal(t, "abc123", decoded["sha1"])
	})

	t.Run("TextFormatIsHumanReadable", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetFormat("text")
		SetLevel("INFO")
		Info("plain message", "oid", 12345)

		out := buf.String()
		assert.Contains(t, out, "plain message")
		assert.Contains(t, out, "oid=12345")
	})

	t.Run("InvalidFormatIsIgnored", func(t *testing.T) {
		SetFormat("text")
		SetFormat("xml")
		v, _ := currentFormat.Load().(string)
		assert.Equal(t, "text", v)
	})
}

// ============================================================================
// Context Propagation Tests
// ============================================================================

func TestLogContextInjectsFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("json")
	SetLevel("DEBUG")

	lc := NewLogContext("receiver", 3).WithRow("8bacf78793c3a2ee791fb05bd8ba9b67aa4ae862", 198485882)
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "fetched blob")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "receiver", decoded[KeyComponent])
	assert.EqualValues(t, 3, decoded[KeyWorker])
	assert.Equal(t, "8bacf78793c3a2ee791fb05bd8ba9b67aa4ae862", decoded[KeySha1])
}

func TestContextWithoutLogContextHandled(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("text")
	SetLevel("INFO")

	// Should work fine with a context carrying no LogContext.
	InfoCtx(context.Background(), "no context fields here")
	assert.Contains(t, buf.String(), "no context fields here")
}

func TestLogContextClone(t *testing.T) {
	lc := NewLogContext("storer", 0).WithRow("sha1value", 7)
	clone := lc.Clone()

	assert.Equal(t, lc.Component, clone.Component)
	assert.Equal(t, lc.Sha1, clone.Sha1)

	clone.Sha1 = "different"
	assert.NotEqual(t, lc.Sha1, clone.Sha1)
}

func TestLogContextCloneNilSafe(t *testing.T) {
	var lc *LogContext
	assert.Nil(t, lc.Clone())
	assert.Equal(t, float64(0), lc.DurationMs())
}

func TestLogContextDurationMsIsPositive(t *testing.T) {
	lc := NewLogContext("committer", 1)
	assert.GreaterOrEqual(t, lc.DurationMs(), float64(0))
}

// ============================================================================
// Field Constructor Tests
// ============================================================================

func TestFieldConstructors(t *testing.T) {
	assert.Equal(t, KeySha1, Sha1("x").Key)
	assert.Equal(t, KeySha2, Sha2("y").Key)
	assert.Equal(t, KeyOid, Oid(5).Key)
	assert.Equal(t, KeyComponent, Component("observer").Key)
}

// ============================================================================
// Filter String Parsing Tests
// ============================================================================

func TestParseFilterEmpty(t *testing.T) {
	def, overrides := ParseFilter("")
	assert.Equal(t, 0, int(def)) // slog.LevelInfo == 0
	assert.Empty(t, overrides)
}

func TestParseFilterDefaultOnly(t *testing.T) {
	def, overrides := ParseFilter("debug")
	assert.Equal(t, -4, int(def)) // slog.LevelDebug == -4
	assert.Empty(t, overrides)
}

func TestParseFilterWithComponentOverrides(t *testing.T) {
	def, overrides := ParseFilter("warn,receiver=debug,storer=debug")
	assert.Equal(t, 4, int(def)) // slog.LevelWarn == 4
	require.Contains(t, overrides, "receiver")
	require.Contains(t, overrides, "storer")
}

func TestParseFilterIgnoresGarbage(t *testing.T) {
	def, overrides := ParseFilter("banana,receiver=also-garbage")
	assert.Equal(t, 0, int(def))
	assert.Empty(t, overrides)
}

func TestSetComponentFilterRestrictsPerComponent(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("text")
	SetComponentFilter("warn,receiver=debug")
	defer SetComponentFilter("") // restore default info level, no overrides

	receiverLog := With(KeyComponent, "receiver")
	receiverLog.Debug("receiver debug line")

	committerLog := With(KeyComponent, "committer")
	committerLog.Debug("committer debug line")

	out := buf.String()
	assert.Contains(t, out, "receiver debug line")
	assert.NotContains(t, out, "committer debug line")
}

// ============================================================================
// Printf-style Compatibility Tests
// ============================================================================

func TestPrintfStyleHelpers(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("text")
	SetLevel("DEBUG")

	Infof("migrated %d rows in %s", 5, "10s")
	assert.True(t, strings.Contains(buf.String(), "migrated 5 rows in 10s"))
}

// ============================================================================
// Duration Helper Test
// ============================================================================

func TestDurationHelper(t *testing.T) {
	start := time.Now()
	d := Duration(start)
	assert.GreaterOrEqual(t, d, float64(0))
}
