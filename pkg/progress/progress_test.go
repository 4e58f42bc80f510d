package progress

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/trafficlight/pkg/status"
)

func newTestLogger(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	cfg.NoColor = true
	l, err := NewLogger(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	var buf bytes.Buffer
	l.stdout = &buf
	return l, &buf
}

func TestNewLogger(t *testing.T) {
	t.Run("stdout only", func(t *testing.T) {
		l, _ := newTestLogger(t, Config{})
		assert.Empty(t, l.Path())
	})

	t.Run("with log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "run.log")
		l, _ := newTestLogger(t, Config{LogFile: path})
		assert.Equal(t, path, l.Path())

		content, err := os.ReadFile(path) //nolint:gosec // test temp dir
		require.NoError(t, err)
		assert.Contains(t, string(content), "# trafficlight log")
		assert.Contains(t, string(content), "Started: ")
	})

	t.Run("unwritable log dir", func(t *testing.T) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

		_, err := NewLogger(Config{LogFile: filepath.Join(blocker, "run.log"), NoColor: true})
		require.Error(t, err)
	})
}

func TestLogger_Print(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	l, buf := newTestLogger(t, Config{LogFile: path})

	l.Print("test message %d", 42)

	content, err := os.ReadFile(path) //nolint:gosec // test temp dir
	require.NoError(t, err)
	assert.Contains(t, string(content), "] test message 42")
	assert.Contains(t, buf.String(), "test message 42")
	assert.True(t, strings.HasPrefix(buf.String(), "["), "stdout line starts with timestamp")
}

func TestLogger_PrintPhase(t *testing.T) {
	l, buf := newTestLogger(t, Config{})

	l.PrintPhase(status.PhaseGreen, "signal-1: %s -> %s", status.PhaseRed, status.PhaseGreen)
	l.PrintPhase(status.Phase(9), "unknown phase still printed")

	assert.Contains(t, buf.String(), "signal-1: red -> green")
	assert.Contains(t, buf.String(), "unknown phase still printed")
}

func TestLogger_WarnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	l, buf := newTestLogger(t, Config{LogFile: path})

	l.Warn("careful %s", "now")
	l.Error("broken %d", 1)

	assert.Contains(t, buf.String(), "WARN: careful now")
	assert.Contains(t, buf.String(), "ERROR: broken 1")

	content, err := os.ReadFile(path) //nolint:gosec // test temp dir
	require.NoError(t, err)
	assert.Contains(t, string(content), "WARN: careful now")
	assert.Contains(t, string(content), "ERROR: broken 1")
}

func TestLogger_Debug(t *testing.T) {
	l, buf := newTestLogger(t, Config{})
	l.Debug("hidden")
	assert.Empty(t, buf.String())

	dl, dbuf := newTestLogger(t, Config{Debug: true})
	dl.Debug("shown %d", 1)
	assert.Contains(t, dbuf.String(), "DEBUG: shown 1")
}

func TestLogger_Close(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	l, err := NewLogger(Config{LogFile: path, NoColor: true})
	require.NoError(t, err)

	require.NoError(t, l.Close())
	require.NoError(t, l.Close(), "second close is a no-op")

	content, err := os.ReadFile(path) //nolint:gosec // test temp dir
	require.NoError(t, err)
	assert.Contains(t, string(content), "Completed: ")
}

func TestLogger_Elapsed(t *testing.T) {
	l, _ := newTestLogger(t, Config{})
	assert.NotEmpty(t, l.Elapsed())
}

func TestLogger_ConcurrentPrint(t *testing.T) {
	l, buf := newTestLogger(t, Config{})

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Go(func() {
			for j := range 50 {
				l.PrintPhase(status.PhaseRed, "worker %d line %d", i, j)
			}
		})
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 500)
	for _, line := range lines {
		assert.Contains(t, line, "worker ", "lines must not interleave")
	}
}

func TestNoColorDisablesColor(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()

	_, err := NewLogger(Config{NoColor: true})
	require.NoError(t, err)
	assert.True(t, color.NoColor)
}
