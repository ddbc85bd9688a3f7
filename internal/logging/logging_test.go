package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreLogger(t *testing.T) {
	t.Helper()
	prevLogger := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
}

func TestSetup_Levels(t *testing.T) {
	restoreLogger(t)

	testCases := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{" warn ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			closer, err := Setup(tc.input, "")
			require.NoError(t, err)
			defer closer.Close()
			assert.Equal(t, tc.want, zerolog.GlobalLevel())
		})
	}
}

func TestSetup_InvalidLevel(t *testing.T) {
	restoreLogger(t)

	_, err := Setup("verbose", "")
	assert.Error(t, err)
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	restoreLogger(t)

	path := filepath.Join(t.TempDir(), "classifier.log")
	closer, err := Setup("info", path)
	require.NoError(t, err)

	log.Info().Str("component", "test").Msg("hello")
	log.Debug().Msg("filtered out")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry, "time")
}
