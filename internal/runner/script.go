// File: internal/runner/script.go
package runner

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/halcyonqa/pilot-cli/api/schemas"
)

// LoadScript parses a YAML test script from disk.
func LoadScript(path string) (*schemas.Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return ParseScript(raw)
}

// ParseScript parses YAML script bytes and validates the basics: at least
// one step, and a command kind on every entry (enforced by Command's
// unmarshaller).
func ParseScript(raw []byte) (*schemas.Script, error) {
	var script schemas.Script
	if err := yaml.Unmarshal(raw, &script); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if len(script.Steps) == 0 {
		return nil, fmt.Errorf("script has no steps")
	}
	for i, step := range script.Steps {
		if len(step.Commands) == 0 {
			return nil, fmt.Errorf("step %d has no commands", i+1)
		}
	}
	return &script, nil
}
