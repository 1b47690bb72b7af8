package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

func TestLookupExactAndFamilyPrefix(t *testing.T) {
	v, err := Lookup("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude", v.Name)
	assert.True(t, v.ClaudeFamily)
	assert.False(t, v.GLMFamily)

	v, err = Lookup("glm-4.7")
	require.NoError(t, err)
	assert.Equal(t, "glm", v.Name)
	assert.True(t, v.GLMFamily)
	assert.Equal(t, "claude", v.Binary)

	v, err = Lookup("  Codex  ")
	require.NoError(t, err)
	assert.Equal(t, "codex", v.Name)
	assert.Equal(t, DeliveryFile, v.PromptDelivery)
}

func TestLookupUnknownTool(t *testing.T) {
	_, err := Lookup("vim")
	require.Error(t, err)
	var derr *core.DomainError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, core.CodeUnknownCLITool, derr.Code)
	assert.Equal(t, core.ErrCatSemantic, derr.Category)
}

func TestLaunchCommand(t *testing.T) {
	v, err := Lookup("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude --model opus", v.LaunchCommand("opus", ""))
	assert.Equal(t, "claude", v.LaunchCommand("", "/tmp/p.txt"))

	v, err = Lookup("codex")
	require.NoError(t, err)
	assert.Equal(t, `codex --model o3 --prompt-file "/tmp/p.txt"`, v.LaunchCommand("o3", "/tmp/p.txt"))
}

func TestFormatMessageCollapsesNewlines(t *testing.T) {
	v, err := Lookup("gemini")
	require.NoError(t, err)
	assert.Equal(t, "line one line two", v.FormatMessage("line one\r\nline two\n"))
}

func TestStuckAndHealthDetection(t *testing.T) {
	v, err := Lookup("claude")
	require.NoError(t, err)
	assert.True(t, v.LooksStuck("Error: rate limit exceeded, retry later"))
	assert.False(t, v.LooksStuck("working on the task"))
	assert.True(t, v.LooksHealthy("Welcome to Claude"))
	assert.False(t, v.LooksHealthy("$ "))
}
