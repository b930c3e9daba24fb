// File: internal/runner/outputs.go
package runner

import (
	"regexp"
	"sync"
)

// outputPattern matches ${OUTPUT.name} references in command parameters.
var outputPattern = regexp.MustCompile(`\$\{OUTPUT\.([A-Za-z0-9_\-]+)\}`)

// Outputs is the run-scoped variable store. One instance per run, carried on
// the run context rather than living as a process-wide singleton, so test
// runs can execute in parallel within one process.
type Outputs struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewOutputs creates an empty store.
func NewOutputs() *Outputs {
	return &Outputs{m: make(map[string]string)}
}

// Set stores a named value.
func (o *Outputs) Set(name, value string) {
	o.mu.Lock()
	o.m[name] = value
	o.mu.Unlock()
}

// Get reads a named value.
func (o *Outputs) Get(name string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.m[name]
	return v, ok
}

// Snapshot copies the current values, for handing to sandboxed evaluators.
func (o *Outputs) Snapshot() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]string, len(o.m))
	for k, v := range o.m {
		out[k] = v
	}
	return out
}

// Substitute resolves every ${OUTPUT.name} reference in s. Unknown names are
// left intact so failures point at the unresolved reference.
func (o *Outputs) Substitute(s string) string {
	return outputPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := outputPattern.FindStringSubmatch(match)[1]
		if v, ok := o.Get(name); ok {
			return v
		}
		return match
	})
}

// SubstituteParams resolves output references in every string parameter,
// recursing through nested maps and lists. The original map is not mutated:
// commands are immutable once materialized for an execution step.
func (o *Outputs) SubstituteParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = o.substituteValue(v)
	}
	return out
}

func (o *Outputs) substituteValue(v any) any {
	switch t := v.(type) {
	case string:
		return o.Substitute(t)
	case map[string]any:
		return o.SubstituteParams(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = o.substituteValue(e)
		}
		return out
	default:
		return v
	}
}
