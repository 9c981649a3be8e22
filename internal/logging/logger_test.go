package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: DebugLevel, Format: "json", Writer: &buf, Component: "test"})
	require.NoError(t, err)

	logger.Info("session installed",
		"accessJwt", "eyJ.access.sig",
		"refreshJwt", "eyJ.refresh.sig",
		"password", "hunter2",
		"Authorization", "Bearer abc",
		"did", "did:plc:abc123")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "[REDACTED]", record["accessJwt"])
	assert.Equal(t, "[REDACTED]", record["refreshJwt"])
	assert.Equal(t, "[REDACTED]", record["password"])
	assert.Equal(t, "[REDACTED]", record["Authorization"])
	assert.Equal(t, "did:plc:abc123", record["did"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: WarnLevel, Format: "text", Writer: &buf})
	require.NoError(t, err)

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("visible warn")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible warn")
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: DebugLevel, Format: "text", Writer: &buf})
	require.NoError(t, err)

	logger.WithComponent("auth").LogRefresh("did:plc:xyz", "a1b2c3d4e5f6", 3, 10*time.Millisecond, nil)
	logger.WithComponent("auth").LogRefresh("did:plc:xyz", "a1b2c3d4e5f6", 1, time.Millisecond, errors.New("upstream down"))

	out := buf.String()
	assert.Contains(t, out, "component=auth")
	assert.Contains(t, out, "Session refreshed")
	assert.Contains(t, out, "waiters=3")
	assert.Contains(t, out, "upstream down")
	assert.Equal(t, 2, strings.Count(out, "did:plc:xyz"))
	assert.Equal(t, 2, strings.Count(out, "refresh_fp=a1b2c3d4e5f6"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, InfoLevel, ParseLevel("chatty"))
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	require.NotNil(t, logger)
	logger.Error("nothing to see")
}
