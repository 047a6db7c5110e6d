package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	require.Equal(t, log.LevelDebug, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, log.LevelInfo, lvl)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestJSONHandlerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, log.LevelWarn, FormatJSON)
	require.NoError(t, err)

	logger := log.NewLogger(h).With("component", "quote")
	logger.Info("probe ok")
	logger.Warn("probe failed", "fee", 500)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "probe failed", line["msg"])
	require.Equal(t, "quote", line["component"])
}

func TestUnknownFormat(t *testing.T) {
	_, err := NewHandler(&bytes.Buffer{}, log.LevelInfo, "xml")
	require.Error(t, err)
}
