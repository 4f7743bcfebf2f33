package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO")

	Debug("hidden", "k", 1)
	Info("visible", "k", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "k=2")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "ERROR")

	Warn("dropped")
	SetLevel("DEBUG")
	Debug("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestInitRejectsUnknownValues(t *testing.T) {
	require.Error(t, Init(Config{Level: "LOUD"}))
	require.Error(t, Init(Config{Format: "xml"}))
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO")
	require.NoError(t, Init(Config{Format: "json"}))

	Info("structured", "endpoint", "db1:21212")
	assert.Contains(t, buf.String(), `"msg":"structured"`)
	assert.Contains(t, buf.String(), `"endpoint":"db1:21212"`)
}
