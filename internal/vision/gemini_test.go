// File: internal/vision/gemini_test.go
package vision

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonqa/pilot-cli/api/schemas"
)

func TestParseResult(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		result, err := parseResult(`{"found": true, "coordinates": {"x": 10, "y": 20}}`)
		require.NoError(t, err)
		assert.True(t, result.Found)
		require.NotNil(t, result.Coordinates)
		assert.Equal(t, 10, result.Coordinates.X)
	})

	t.Run("fenced json", func(t *testing.T) {
		result, err := parseResult("```json\n{\"found\": false}\n```")
		require.NoError(t, err)
		assert.False(t, result.Found)
		assert.Nil(t, result.Coordinates)
	})

	t.Run("bare fence", func(t *testing.T) {
		result, err := parseResult("```\n{\"found\": true, \"data\": \"ok\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "ok", result.Data)
	})

	t.Run("prose instead of json", func(t *testing.T) {
		_, err := parseResult("I could not find the button.")
		assert.ErrorContains(t, err, "unparseable vision response")
	})
}

func TestPrompt(t *testing.T) {
	p := prompt(schemas.AIRequest{
		OperationPath: "hover/text",
		Target:        "the Save button",
		Params:        map[string]any{"action": "click"},
	})
	assert.Contains(t, p, "Operation: hover/text")
	assert.Contains(t, p, "Target: the Save button")
	assert.Contains(t, p, `"action":"click"`)
	assert.Contains(t, p, `"found": bool`)
}

func TestDecodeTransportImage(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	encoded := base64.StdEncoding.EncodeToString(raw)

	decoded, err := decodeTransportImage(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	decoded, err = decodeTransportImage("data:image/png;base64," + encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	_, err = decodeTransportImage("%%% not base64 %%%")
	assert.Error(t, err)
}

func TestBuildContents(t *testing.T) {
	t.Run("text plus inline image", func(t *testing.T) {
		shot := base64.StdEncoding.EncodeToString([]byte("pixels"))
		contents, err := buildContents(schemas.AIRequest{OperationPath: "assert", Target: "x", Screenshot: shot})
		require.NoError(t, err)
		require.Len(t, contents, 1)
		assert.Len(t, contents[0].Parts, 2)
	})

	t.Run("text only when no screenshot", func(t *testing.T) {
		contents, err := buildContents(schemas.AIRequest{OperationPath: "assert", Target: "x"})
		require.NoError(t, err)
		assert.Len(t, contents[0].Parts, 1)
	})

	t.Run("undecodable screenshot fails", func(t *testing.T) {
		_, err := buildContents(schemas.AIRequest{OperationPath: "assert", Target: "x", Screenshot: "!!!"})
		assert.Error(t, err)
	})
}
