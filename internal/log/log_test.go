package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"", logrus.InfoLevel},
		{"info", logrus.InfoLevel},
		{"DEBUG", logrus.DebugLevel},
		{"warning", logrus.WarnLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"critical", logrus.ErrorLevel},
		{" trace ", logrus.TraceLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestVerbosityLevel(t *testing.T) {
	assert.Equal(t, "error", VerbosityLevel(0))
	assert.Equal(t, "warn", VerbosityLevel(1))
	assert.Equal(t, "info", VerbosityLevel(2))
	assert.Equal(t, "debug", VerbosityLevel(3))
	assert.Equal(t, "debug", VerbosityLevel(7))
}

func TestNewForWriter_Pattern(t *testing.T) {
	var buf bytes.Buffer
	l := NewForWriter(&buf, "debug")

	l.Component("capture").WithField("interface", "eth0").Debug("socket bound")

	out := buf.String()
	assert.Contains(t, out, "[DEBUG]")
	assert.Contains(t, out, "{component=capture,interface=eth0}")
	assert.Contains(t, out, "socket bound")
}

func TestNewForWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewForWriter(&buf, "warn")

	l.Info("hidden")
	l.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.False(t, l.IsInfoEnabled())
}

func TestNew_InvalidFormat(t *testing.T) {
	_, err := New(Config{Format: "xml"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported log format")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNew_FileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netprobe.log")
	l, err := New(Config{Level: "info", Format: "json", File: FileAppenderOpt{Filename: path, MaxSize: 1}})
	require.NoError(t, err)

	l.WithField("protocol", "dhcp").Error("reader is not ready")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"protocol":"dhcp"`)
	assert.Contains(t, string(data), "reader is not ready")
}

func TestMultiWriter(t *testing.T) {
	var a, b bytes.Buffer
	m := NewMultiWriter().Add(&a).Add(&b)

	n, err := m.Write([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "x", a.String())
	assert.Equal(t, "x", b.String())
	assert.NoError(t, m.Close())
}

func TestDiscard(t *testing.T) {
	l := Discard()
	assert.NotPanics(t, func() { l.Error("dropped") })
	assert.False(t, l.IsDebugEnabled())
}

func TestFileAppenderDefaults(t *testing.T) {
	o := FileAppenderOpt{Filename: "netprobe.log"}.withDefaults()
	assert.Equal(t, defaultMaxSize, o.MaxSize)
	assert.Equal(t, defaultMaxBackups, o.MaxBackups)
	assert.Equal(t, defaultMaxAge, o.MaxAge)

	o = FileAppenderOpt{MaxSize: 1, MaxBackups: 7, MaxAge: 2}.withDefaults()
	assert.Equal(t, FileAppenderOpt{MaxSize: 1, MaxBackups: 7, MaxAge: 2}, o)
}
