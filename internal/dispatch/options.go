// File: internal/dispatch/options.go

// Argument handling: every primitive has a typed options struct (the
// object-style call) and, where it matters, a positional convenience wrapper.
// Script maps are normalized into the structs here, extracting the redraw
// sub-object before command-specific parameters so redraw configuration
// composes orthogonally with every command.
package dispatch

import (
	"fmt"
	"strconv"
	"time"

	"github.com/halcyonqa/pilot-cli/internal/redraw"
)

// RedrawOverride is a per-command override of the detector defaults. Nil
// fields inherit the configured default.
type RedrawOverride struct {
	Enabled        *bool
	ScreenRedraw   *bool
	NetworkMonitor *bool
	DiffThreshold  *float64
}

// resolve applies the override on top of the defaults.
func (o RedrawOverride) resolve(def redraw.Options) redraw.Options {
	out := def
	if o.Enabled != nil {
		out.Enabled = *o.Enabled
	}
	if o.ScreenRedraw != nil {
		out.ScreenRedraw = *o.ScreenRedraw
	}
	if o.NetworkMonitor != nil {
		out.NetworkMonitor = *o.NetworkMonitor
	}
	if o.DiffThreshold != nil {
		out.DiffThresholdPercent = *o.DiffThreshold
	}
	return out
}

// splitRedraw extracts redraw configuration from a script parameter map,
// accepting either a nested "redraw" object or the flattened
// redrawEnabled/redrawScreenRedraw/redrawNetworkMonitor/redrawDiffThreshold
// keys. It returns the override and the remaining command parameters.
func splitRedraw(params map[string]any) (RedrawOverride, map[string]any) {
	rest := make(map[string]any, len(params))
	for k, v := range params {
		rest[k] = v
	}

	var o RedrawOverride
	if nested, ok := rest["redraw"].(map[string]any); ok {
		o.Enabled = lookupBool(nested, "enabled")
		o.ScreenRedraw = lookupBool(nested, "screenRedraw")
		o.NetworkMonitor = lookupBool(nested, "networkMonitor")
		o.DiffThreshold = lookupFloat(nested, "diffThreshold")
		delete(rest, "redraw")
		return o, rest
	}

	o.Enabled = lookupBool(rest, "redrawEnabled")
	o.ScreenRedraw = lookupBool(rest, "redrawScreenRedraw")
	o.NetworkMonitor = lookupBool(rest, "redrawNetworkMonitor")
	o.DiffThreshold = lookupFloat(rest, "redrawDiffThreshold")
	for _, k := range []string{"redrawEnabled", "redrawScreenRedraw", "redrawNetworkMonitor", "redrawDiffThreshold"} {
		delete(rest, k)
	}
	return o, rest
}

// -- Typed option structs --

// ClickOpts positions the cursor and performs a click action.
type ClickOpts struct {
	X, Y int
	// Action is one of left, right, middle, double. Defaults to left.
	Action string
	Redraw RedrawOverride
}

// HoverOpts positions the cursor without clicking.
type HoverOpts struct {
	X, Y   int
	Redraw RedrawOverride
}

// TypeOpts types literal text into the focused element.
type TypeOpts struct {
	Text   string
	Redraw RedrawOverride
}

// PressKeysOpts sends a key combination.
type PressKeysOpts struct {
	Keys   []string
	Redraw RedrawOverride
}

// ScrollOpts scrolls in a direction by an amount of pixels.
type ScrollOpts struct {
	// Direction is one of up, down, left, right. Defaults to down.
	Direction string
	Amount    int
	Redraw    RedrawOverride
}

// DragOpts presses at the start point, moves, and releases at the end point.
type DragOpts struct {
	FromX, FromY int
	ToX, ToY     int
	Redraw       RedrawOverride
}

// FocusOpts brings an application to the foreground.
type FocusOpts struct {
	Name   string
	Redraw RedrawOverride
}

// WaitOpts pauses for a duration.
type WaitOpts struct {
	Timeout time.Duration
}

// HoverTextOpts locates text on screen and hovers or clicks it.
type HoverTextOpts struct {
	// Description is the natural-language target text description.
	Description string
	// Action is "hover" or "click". Defaults to click.
	Action string
	Redraw RedrawOverride
}

// HoverImageOpts locates an on-screen element by visual description.
type HoverImageOpts struct {
	Description string
	Action      string
	Redraw      RedrawOverride
}

// MatchImageOpts checks whether a described element is visible.
type MatchImageOpts struct {
	Description string
}

// AssertOpts verifies a condition against the current screen. Assertion
// failures always throw.
type AssertOpts struct {
	Expect string
}

// WaitForOpts waits for text or an image description to appear. Invert flips
// the predicate, waiting for disappearance instead.
type WaitForOpts struct {
	Target  string
	Timeout time.Duration
	Invert  bool
}

// ScrollUntilOpts scrolls until text or an image description is visible.
type ScrollUntilOpts struct {
	Target string
	// Path is a reference-image file path; mutually exclusive with a
	// description target for scroll-until-image.
	Path        string
	Direction   string
	MaxDistance int
	Invert      bool
	Redraw      RedrawOverride
}

// RememberOpts extracts a value from the screen into a named output.
type RememberOpts struct {
	Description string
	Output      string
}

// ExecOpts runs a shell command on the sandbox or a script in-process.
type ExecOpts struct {
	// Language selects the substrate: "sh" or "pwsh" for remote shell,
	// "expr" for the embedded script engine.
	Language string
	Code     string
	// Output, when set, stores the result under ${OUTPUT.<name>}.
	Output  string
	Timeout time.Duration
}

// -- Script map coercion helpers --

func lookupBool(m map[string]any, key string) *bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return &b
		}
	}
	return nil
}

func lookupFloat(m map[string]any, key string) *float64 {
	if v, ok := m[key]; ok {
		if f, ok := toFloat(v); ok {
			return &f
		}
	}
	return nil
}

func getString(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

func getInt(m map[string]any, key string, def int) int {
	if v, ok := m[key]; ok {
		if f, ok := toFloat(v); ok {
			return int(f)
		}
	}
	return def
}

func getBool(m map[string]any, key string, def bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return def
}

func getDurationMs(m map[string]any, key string, def time.Duration) time.Duration {
	if v, ok := m[key]; ok {
		if f, ok := toFloat(v); ok {
			return time.Duration(f) * time.Millisecond
		}
	}
	return def
}

func getStringSlice(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
