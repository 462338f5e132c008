package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })
	var buf bytes.Buffer

	log := newLogger(&buf, "warn", "json")
	log.Info().Msg("dropped")
	log.Warn().Str("trace_id", "abc").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "abc", line["trace_id"])
	assert.Equal(t, "gozcu", line["service"])
	assert.Equal(t, "warn", line["level"])
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })
	var buf bytes.Buffer

	_ = newLogger(&buf, "loud", "console")

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
