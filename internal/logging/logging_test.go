package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{" WARN ", zerolog.WarnLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"trace", zerolog.TraceLevel, false},
		{"loud", zerolog.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(Config{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Debug().Msg("hidden")
	log.Info().Str("trigger", "Group1.Trigger1").Msg("jobstore: acquired")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), "exactly one JSON line expected: %s", buf.String())
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "Group1.Trigger1", line["trigger"])
	assert.Equal(t, "jobstore: acquired", line["message"])
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(Config{Level: "debug"}, &buf)
	require.NoError(t, err)

	log.Debug().Str("job", "Group1.Job1").Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "Group1.Job1")
}

func TestNewWithWriter_Rejects(t *testing.T) {
	_, err := NewWithWriter(Config{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewWithWriter(Config{Level: "chatty"}, &bytes.Buffer{})
	assert.Error(t, err)
}
