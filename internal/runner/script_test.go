// File: internal/runner/script_test.go
package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonqa/pilot-cli/api/schemas"
)

const sampleScript = `
version: "1"
steps:
  - prompt: log in and check the dashboard
    commands:
      - command: hover-text
        description: the Login button
      - command: type
        text: ${OUTPUT.username}
      - command: assert
        expect: the dashboard is visible
        redraw:
          enabled: false
  - commands:
      - command: exec
        language: sh
        code: uname -a
        output: kernel
`

func TestParseScript(t *testing.T) {
	script, err := ParseScript([]byte(sampleScript))
	require.NoError(t, err)

	assert.Equal(t, "1", script.Version)
	require.Len(t, script.Steps, 2)
	assert.Equal(t, "log in and check the dashboard", script.Steps[0].Prompt)
	require.Len(t, script.Steps[0].Commands, 3)

	first := script.Steps[0].Commands[0]
	assert.Equal(t, schemas.CmdHoverText, first.Kind)
	assert.Equal(t, "the Login button", first.Params["description"])
	// The kind tag is removed from the parameter map.
	assert.NotContains(t, first.Params, "command")

	withRedraw := script.Steps[0].Commands[2]
	redrawObj, ok := withRedraw.Params["redraw"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, redrawObj["enabled"])

	exec := script.Steps[1].Commands[0]
	assert.Equal(t, schemas.CmdExec, exec.Kind)
	assert.Equal(t, "kernel", exec.Params["output"])
}

func TestParseScriptValidation(t *testing.T) {
	t.Run("invalid yaml", func(t *testing.T) {
		_, err := ParseScript([]byte("steps: [unclosed"))
		assert.Error(t, err)
	})

	t.Run("no steps", func(t *testing.T) {
		_, err := ParseScript([]byte(`version: "1"`))
		assert.ErrorContains(t, err, "no steps")
	})

	t.Run("step without commands", func(t *testing.T) {
		_, err := ParseScript([]byte("steps:\n  - prompt: empty step\n"))
		assert.ErrorContains(t, err, "no commands")
	})

	t.Run("command without kind", func(t *testing.T) {
		_, err := ParseScript([]byte("steps:\n  - commands:\n      - text: hi\n"))
		assert.ErrorContains(t, err, "command")
	})
}

func TestLoadScript(t *testing.T) {
	t.Run("reads from disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "script.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleScript), 0o644))

		script, err := LoadScript(path)
		require.NoError(t, err)
		assert.Len(t, script.Steps, 2)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadScript(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
