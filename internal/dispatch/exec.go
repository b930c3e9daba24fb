// File: internal/dispatch/exec.go

// The exec command has two substrates: a remote shell on the sandbox, and an
// in-process expression engine with an allow-listed environment. General
// runtime eval stays out of the core; the embedded engine only sees the
// run's outputs and a few pure helpers.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"go.uber.org/zap"
)

// shell languages delegated to the sandbox.
const (
	langSh   = "sh"
	langPwsh = "pwsh"
	langExpr = "expr"
)

// Exec runs the code under the selected substrate and returns its output,
// storing it under opts.Output when set.
func (d *Dispatcher) Exec(ctx context.Context, opts ExecOpts) (string, error) {
	if opts.Code == "" {
		return "", configErrorf("exec requires code")
	}

	var out string
	var err error
	start := time.Now()
	switch opts.Language {
	case langSh, langPwsh, "":
		out, err = d.execShell(ctx, opts)
	case langExpr:
		out, err = d.execScript(ctx, opts)
	default:
		return "", configErrorf("unsupported exec language %q", opts.Language)
	}
	d.track(ctx, trackRecord(d.cfg.SessionID, "exec", opts.Language, map[string]any{"output": opts.Output}, start, err))
	if err != nil {
		return "", err
	}

	if opts.Output != "" {
		d.outputs.Set(opts.Output, out)
	}
	return out, nil
}

// execShell runs the code on the sandbox. When the requested shell does not
// exist on the remote OS, it is substituted rather than failed: a Windows
// sandbox silently runs sh scripts under pwsh, with a warning log.
func (d *Dispatcher) execShell(ctx context.Context, opts ExecOpts) (string, error) {
	shell := opts.Language
	if shell == "" {
		shell = langSh
	}
	if shell == langSh && d.remoteIsWindows(ctx) {
		d.log.Warn("Remote sandbox is Windows; substituting pwsh for sh")
		shell = langPwsh
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.cfg.ShellTimeout
	}
	result, err := d.ch.Run(ctx, shell, opts.Code, int(timeout.Milliseconds()))
	if err != nil {
		return "", fmt.Errorf("exec failed: %w", err)
	}
	if result.ReturnCode != 0 {
		return "", fmt.Errorf("exec exited with code %d: %s", result.ReturnCode, strings.TrimSpace(result.Stderr))
	}
	d.narratef("exec %s ok", shell)
	return strings.TrimRight(result.Stdout, "\n"), nil
}

// execScript evaluates the code in the embedded expression engine. The
// environment is the allow-list: the run's outputs plus nothing else.
func (d *Dispatcher) execScript(ctx context.Context, opts ExecOpts) (string, error) {
	env := map[string]any{
		"output": d.outputs.Snapshot(),
	}
	program, err := expr.Compile(opts.Code, expr.Env(env))
	if err != nil {
		return "", configErrorf("exec script does not compile: %v", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.cfg.ScriptTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type evalResult struct {
		value any
		err   error
	}
	resultCh := make(chan evalResult, 1)
	go func() {
		v, err := expr.Run(program, env)
		resultCh <- evalResult{value: v, err: err}
	}()

	select {
	case <-runCtx.Done():
		return "", fmt.Errorf("exec script timed out after %s", timeout)
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("exec script failed: %w", res.err)
		}
		d.narratef("exec expr ok")
		return fmt.Sprint(res.value), nil
	}
}

// remoteIsWindows lazily probes the sandbox OS once per dispatcher. Probe
// failures are logged and treated as non-Windows, skipping substitution.
func (d *Dispatcher) remoteIsWindows(ctx context.Context) bool {
	d.osOnce.Do(func() {
		info, err := d.ch.SystemInfo(ctx)
		if err != nil {
			d.log.Warn("Could not determine remote OS; assuming non-Windows", zap.Error(err))
			return
		}
		d.remoteOS = strings.ToLower(info.OS)
	})
	return d.remoteOS == "windows"
}
