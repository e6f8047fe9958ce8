package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerRenamesKeysAndMasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Info("claimed", slog.String("account", "pyn1abc"), slog.String("token", "eyJhbGciOi"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "claimed", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, "pyn1abc", line["account"])
	require.Equal(t, RedactedValue, line["token"])
}

func TestHandlerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, ParseLevel("warn")))
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("password", "hunter2").Value.String())
	require.Equal(t, "reason text", MaskField("reason", "reason text").Value.String())
	require.Equal(t, "", MaskField("password", "").Value.String())
	require.Equal(t, RedactedValue, MaskValue("x"))
}
