package schemas

import "fmt"

// -- Scripted Commands --

// Command kinds the dispatcher understands. This vocabulary is the stable
// contract between the script format and the dispatcher.
const (
	CmdType             = "type"
	CmdPressKeys        = "press-keys"
	CmdScroll           = "scroll"
	CmdWait             = "wait"
	CmdClick            = "click"
	CmdHover            = "hover"
	CmdDrag             = "drag"
	CmdHoverText        = "hover-text"
	CmdHoverImage       = "hover-image"
	CmdMatchImage       = "match-image"
	CmdWaitForImage     = "wait-for-image"
	CmdWaitForText      = "wait-for-text"
	CmdScrollUntilText  = "scroll-until-text"
	CmdScrollUntilImage = "scroll-until-image"
	CmdFocusApplication = "focus-application"
	CmdRemember         = "remember"
	CmdExtract          = "extract"
	CmdAssert           = "assert"
	CmdExec             = "exec"
)

// Command is one scripted operation: a kind tag plus kind-specific
// parameters. Immutable once materialized for an execution step; parameter
// values may still carry unresolved ${OUTPUT.name} references until the
// runner substitutes them.
type Command struct {
	Kind   string
	Params map[string]any
}

// UnmarshalYAML materializes a Command from a script mapping of the form
// {command: <kind>, <param>: <value>, ...}.
func (c *Command) UnmarshalYAML(unmarshal func(any) error) error {
	var raw map[string]any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	kind, ok := raw["command"].(string)
	if !ok || kind == "" {
		return fmt.Errorf("command entry is missing a 'command' key")
	}
	delete(raw, "command")
	c.Kind = kind
	c.Params = raw
	return nil
}

// Step groups commands under the prompt that generated them.
type Step struct {
	Prompt   string    `yaml:"prompt,omitempty"`
	Commands []Command `yaml:"commands"`
}

// Script is a parsed test script.
type Script struct {
	Version string `yaml:"version,omitempty"`
	Steps   []Step `yaml:"steps"`
}
