package logger

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]log.Level{
		"debug":  log.DebugLevel,
		"INFO":   log.InfoLevel,
		" warn ": log.WarnLevel,
		"error":  log.ErrorLevel,
		"":       log.InfoLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, "level %q", in)
		assert.Equal(t, want, got, "level %q", in)
	}
}

func TestParseLevel_RejectsUnknown(t *testing.T) {
	for _, in := range []string{"bogus", "verbose", "trace"} {
		_, err := ParseLevel(in)
		assert.ErrorIs(t, err, log.ErrInvalidLevel, "level %q", in)
	}
}

func TestNewHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn")

	l.Info("hidden")
	l.Warn("shown", "snapshot", "s3-dump-snap-x")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "s3-dump-snap-x")
}
