package logger_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/gdl/internal/logger"
)

func TestSetOutputCapturesLevels(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.Close() })

	logger.Debugf("debug %d", 1)
	logger.Infof("info %s", "two")
	logger.Warnf("warn")
	logger.Errorf("error %v", true)

	out := buf.String()
	assert.Contains(t, out, `"message":"debug 1"`)
	assert.Contains(t, out, `"message":"info two"`)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"message":"error true"`)
}

func TestComponentTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.Close() })

	l := logger.Component("scheduler")
	l.Info().Msg("tick")

	assert.Contains(t, buf.String(), `"component":"scheduler"`)
}

func TestInitLoggingWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gdl.log")

	require.NoError(t, logger.InitLogging(false, path))
	logger.Debugf("hidden")
	logger.Infof("visible")
	require.NoError(t, logger.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "visible"))
	assert.False(t, strings.Contains(string(b), "hidden"))
}

func TestCloseWithoutInit(t *testing.T) {
	assert.NoError(t, logger.Close())
	logger.Infof("dropped")
}
