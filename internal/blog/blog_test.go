package blog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger(buf *bytes.Buffer, opts Options) *slog.Logger {
	return slog.New(NewHandler(buf, opts))
}

func TestPlainLine(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, Options{})
	logger.Info("discovered bond")

	assert.Equal(t, "INFO: discovered bond\n", buf.String())
}

func TestSyslogTagPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, Options{Tag: true})
	logger.Error("send failed")

	assert.Equal(t, "<3>ERROR: send failed\n", buf.String())
}

func TestDebugAddsFileLine(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, Options{Debug: true})
	logger.Debug("drained batch")

	line := buf.String()
	assert.True(t, strings.Contains(line, "blog_test.go:"), "expected file:line annotation, got %q", line)
	assert.True(t, strings.HasSuffix(line, "DEBUG: drained batch\n"))
}

func TestDebugLevelSuppressedByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, Options{})
	logger.Debug("should not appear")

	assert.Equal(t, "", buf.String())
}

func TestCustomLevelsFatalAndAbort(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, Options{Tag: true})

	logger.Log(nil, LevelFatal, "fatal condition")
	require.Equal(t, "<2>FATAL: fatal condition\n", buf.String())

	buf.Reset()
	logger.Log(nil, LevelAbort, "invariant violated")
	require.Equal(t, "<1>ABORT: invariant violated\n", buf.String())
}

func TestWithAttrsAppendsKeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, Options{}).With(slog.String("ifname", "bond0"))
	logger.Info("sent garp")

	assert.Equal(t, "INFO: sent garp ifname=bond0\n", buf.String())
}
