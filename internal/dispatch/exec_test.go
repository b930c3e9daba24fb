// File: internal/dispatch/exec_test.go
package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonqa/pilot-cli/api/schemas"
)

func TestExecShell(t *testing.T) {
	t.Run("returns trimmed stdout", func(t *testing.T) {
		h := newHarness(t)
		h.channel.handle(schemas.MsgRunCommand, `{"returncode":0,"stdout":"hello\n","stderr":""}`)

		out, err := h.dispatcher.Exec(context.Background(), ExecOpts{Language: "sh", Code: "echo hello"})
		require.NoError(t, err)
		assert.Equal(t, "hello", out)

		msgs := h.channel.sent()
		require.Len(t, msgs, 1)
		assert.Equal(t, schemas.MsgRunCommand, msgs[0].Type)
		assert.Equal(t, "sh", msgs[0].Fields["shell"])
		assert.Equal(t, "echo hello", msgs[0].Fields["command"])
	})

	t.Run("defaults to sh", func(t *testing.T) {
		h := newHarness(t)
		h.channel.handle(schemas.MsgRunCommand, `{"returncode":0,"stdout":"","stderr":""}`)

		_, err := h.dispatcher.Exec(context.Background(), ExecOpts{Code: "true"})
		require.NoError(t, err)
		assert.Equal(t, "sh", h.channel.sent()[0].Fields["shell"])
	})

	t.Run("nonzero exit surfaces stderr", func(t *testing.T) {
		h := newHarness(t)
		h.channel.handle(schemas.MsgRunCommand, `{"returncode":3,"stdout":"","stderr":"no such file\n"}`)

		_, err := h.dispatcher.Exec(context.Background(), ExecOpts{Language: "sh", Code: "cat missing"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "code 3")
		assert.Contains(t, err.Error(), "no such file")
	})

	t.Run("stores output under the requested name", func(t *testing.T) {
		h := newHarness(t)
		h.channel.handle(schemas.MsgRunCommand, `{"returncode":0,"stdout":"v1.2.3\n","stderr":""}`)

		_, err := h.dispatcher.Exec(context.Background(), ExecOpts{Language: "sh", Code: "app --version", Output: "version"})
		require.NoError(t, err)
		assert.Equal(t, "v1.2.3", h.outputs.Snapshot()["version"])
	})
}

func TestExecShellWindowsSubstitution(t *testing.T) {
	t.Run("sh becomes pwsh on a Windows sandbox", func(t *testing.T) {
		h := newHarness(t)
		h.channel.handle(schemas.MsgSystemInfo, `{"os":"Windows","arch":"amd64"}`)
		h.channel.handle(schemas.MsgRunCommand, `{"returncode":0,"stdout":"","stderr":""}`)

		_, err := h.dispatcher.Exec(context.Background(), ExecOpts{Language: "sh", Code: "ls"})
		require.NoError(t, err)

		var run schemas.Message
		for _, m := range h.channel.sent() {
			if m.Type == schemas.MsgRunCommand {
				run = m
			}
		}
		assert.Equal(t, "pwsh", run.Fields["shell"])
	})

	t.Run("explicit pwsh skips the OS probe", func(t *testing.T) {
		h := newHarness(t)
		h.channel.handle(schemas.MsgRunCommand, `{"returncode":0,"stdout":"","stderr":""}`)

		_, err := h.dispatcher.Exec(context.Background(), ExecOpts{Language: "pwsh", Code: "Get-Date"})
		require.NoError(t, err)
		assert.Zero(t, h.channel.countType(schemas.MsgSystemInfo))
	})

	t.Run("OS probe runs once per dispatcher", func(t *testing.T) {
		h := newHarness(t)
		h.channel.handle(schemas.MsgSystemInfo, `{"os":"linux","arch":"amd64"}`)
		h.channel.handle(schemas.MsgRunCommand, `{"returncode":0,"stdout":"","stderr":""}`)

		for i := 0; i < 3; i++ {
			_, err := h.dispatcher.Exec(context.Background(), ExecOpts{Language: "sh", Code: "true"})
			require.NoError(t, err)
		}
		assert.Equal(t, 1, h.channel.countType(schemas.MsgSystemInfo))
		// Linux sandbox keeps sh as-is.
		assert.Equal(t, "sh", h.channel.sent()[1].Fields["shell"])
	})
}

func TestExecScript(t *testing.T) {
	t.Run("evaluates against run outputs", func(t *testing.T) {
		h := newHarness(t)
		h.outputs.Set("name", "world")

		out, err := h.dispatcher.Exec(context.Background(), ExecOpts{Language: "expr", Code: `output.name + "!"`})
		require.NoError(t, err)
		assert.Equal(t, "world!", out)
		assert.Empty(t, h.channel.sent())
	})

	t.Run("compile failure is a configuration error", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.dispatcher.Exec(context.Background(), ExecOpts{Language: "expr", Code: `output.name +`})
		var cfgErr *ConfigError
		assert.ErrorAs(t, err, &cfgErr)
	})

	t.Run("environment is restricted to outputs", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.dispatcher.Exec(context.Background(), ExecOpts{Language: "expr", Code: `os.Getenv("HOME")`})
		assert.Error(t, err)
	})
}

func TestExecValidation(t *testing.T) {
	h := newHarness(t)
	var cfgErr *ConfigError

	_, err := h.dispatcher.Exec(context.Background(), ExecOpts{Language: "sh"})
	assert.ErrorAs(t, err, &cfgErr)

	_, err = h.dispatcher.Exec(context.Background(), ExecOpts{Language: "ruby", Code: "puts 1"})
	assert.ErrorAs(t, err, &cfgErr)
}
