// File: internal/dispatch/queries.go

// Query primitives: capture a screenshot, issue a cache-gated vision query,
// and interpret the structured response. A missing match raises a
// recoverable MatchFailure; only assert (and exhausted wait/scroll bounds)
// are fatal by default.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/halcyonqa/pilot-cli/api/schemas"
)

const (
	defaultWaitForTimeout    = 30 * time.Second
	defaultMaxScrollDistance = 10000

	opAssert     = "assert"
	opHoverText  = "hover/text"
	opHoverImage = "hover/image"
	opRemember   = "remember/extract"
)

// query captures the current screen and issues one vision request.
func (d *Dispatcher) query(ctx context.Context, path, target string, params map[string]any) (*schemas.AIResult, string, error) {
	shot, err := d.ch.Screenshot(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("screenshot for %s failed: %w", path, err)
	}
	result, err := d.ai.Query(ctx, schemas.AIRequest{
		OperationPath: path,
		Target:        target,
		Screenshot:    shot,
		Params:        params,
	})
	if err != nil {
		return nil, shot, fmt.Errorf("%s query failed: %w", path, err)
	}
	return result, shot, nil
}

// Assert verifies a condition against the current screen. Assertion failures
// always throw and attach the failing screenshot.
func (d *Dispatcher) Assert(ctx context.Context, opts AssertOpts) error {
	if opts.Expect == "" {
		return configErrorf("assert requires an expect condition")
	}
	start := time.Now()
	result, shot, err := d.query(ctx, opAssert, opts.Expect, nil)
	if err == nil && !result.Found {
		err = &MatchFailure{
			Description:      opts.Expect,
			Condition:        "assertion failed",
			Fatal:            true,
			AttachScreenshot: true,
			Screenshot:       shot,
		}
	}
	rec := trackRecord(d.cfg.SessionID, "assert", opts.Expect, nil, start, err)
	if result != nil {
		rec.CacheHit = result.CacheHit
	}
	d.track(ctx, rec)
	if err == nil {
		d.narratef("assert %q passed", opts.Expect)
	}
	return err
}

// HoverText locates the described text on screen and hovers or clicks it,
// returning the matched coordinates.
func (d *Dispatcher) HoverText(ctx context.Context, opts HoverTextOpts) (*schemas.Point, error) {
	return d.hoverTarget(ctx, "hover-text", opHoverText, opts.Description, opts.Action, opts.Redraw)
}

// HoverImage locates an element by visual description and hovers or clicks it.
func (d *Dispatcher) HoverImage(ctx context.Context, opts HoverImageOpts) (*schemas.Point, error) {
	return d.hoverTarget(ctx, "hover-image", opHoverImage, opts.Description, opts.Action, opts.Redraw)
}

func (d *Dispatcher) hoverTarget(ctx context.Context, kind, path, description, action string, ro RedrawOverride) (*schemas.Point, error) {
	if description == "" {
		return nil, configErrorf("%s requires a description", kind)
	}
	start := time.Now()
	result, shot, err := d.query(ctx, path, description, map[string]any{"action": action})
	if err != nil {
		d.track(ctx, trackRecord(d.cfg.SessionID, kind, description, nil, start, err))
		return nil, err
	}
	if !result.Found || result.Coordinates == nil {
		failure := &MatchFailure{
			Description:      description,
			Condition:        "not found",
			AttachScreenshot: true,
			Screenshot:       shot,
		}
		rec := trackRecord(d.cfg.SessionID, kind, description, nil, start, failure)
		rec.CacheHit = result.CacheHit
		d.track(ctx, rec)
		return nil, failure
	}

	point := result.Coordinates
	params := map[string]any{"description": description, "action": action}
	err = d.perform(ctx, kind, fmt.Sprintf("%q at (%d, %d)", description, point.X, point.Y), ro, params, func(ctx context.Context) error {
		if err := d.ch.MoveMouse(ctx, point.X, point.Y); err != nil {
			return err
		}
		if action == "hover" {
			return nil
		}
		if err := d.sleep(ctx, d.cfg.SettleDelay); err != nil {
			return err
		}
		clickAction := action
		if clickAction == "" || clickAction == "click" {
			clickAction = "left"
		}
		return d.ch.Click(ctx, clickAction)
	})
	if err != nil {
		return nil, err
	}
	return point, nil
}

// MatchImage checks whether a described element is currently visible.
func (d *Dispatcher) MatchImage(ctx context.Context, opts MatchImageOpts) error {
	if opts.Description == "" {
		return configErrorf("match-image requires a description")
	}
	start := time.Now()
	result, shot, err := d.query(ctx, opHoverImage, opts.Description, map[string]any{"action": "match"})
	if err == nil && !result.Found {
		err = &MatchFailure{
			Description:      opts.Description,
			Condition:        "image not matched",
			AttachScreenshot: true,
			Screenshot:       shot,
		}
	}
	rec := trackRecord(d.cfg.SessionID, "match-image", opts.Description, nil, start, err)
	if result != nil {
		rec.CacheHit = result.CacheHit
	}
	d.track(ctx, rec)
	return err
}

// WaitForText polls until the text appears (or, with Invert, disappears),
// throwing a fatal MatchFailure once the timeout is exhausted.
func (d *Dispatcher) WaitForText(ctx context.Context, opts WaitForOpts) error {
	if opts.Target == "" {
		return configErrorf("wait-for-text requires text")
	}
	return d.waitFor(ctx, "wait-for-text", opHoverText, opts)
}

// WaitForImage polls until the described element appears (or disappears).
func (d *Dispatcher) WaitForImage(ctx context.Context, opts WaitForOpts) error {
	if opts.Target == "" {
		return configErrorf("wait-for-image requires a description")
	}
	return d.waitFor(ctx, "wait-for-image", opHoverImage, opts)
}

func (d *Dispatcher) waitFor(ctx context.Context, kind, path string, opts WaitForOpts) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultWaitForTimeout
	}
	start := time.Now()
	deadline := start.Add(timeout)

	for {
		result, _, err := d.query(ctx, path, opts.Target, map[string]any{"action": "find"})
		if err != nil {
			d.track(ctx, trackRecord(d.cfg.SessionID, kind, opts.Target, nil, start, err))
			return err
		}
		if result.Found != opts.Invert {
			rec := trackRecord(d.cfg.SessionID, kind, opts.Target, nil, start, nil)
			rec.CacheHit = result.CacheHit
			d.track(ctx, rec)
			d.narratef("%s %q satisfied after %s", kind, opts.Target, time.Since(start).Round(time.Millisecond))
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		d.narratef("%s: still waiting for %q", kind, opts.Target)
		if err := d.sleep(ctx, d.cfg.QueryPollInterval); err != nil {
			return err
		}
	}

	failure := &MatchFailure{
		Description:      opts.Target,
		Condition:        fmt.Sprintf("timed out after %s", timeout),
		Fatal:            true,
		AttachScreenshot: true,
	}
	d.track(ctx, trackRecord(d.cfg.SessionID, kind, opts.Target, nil, start, failure))
	return failure
}

// ScrollUntilText scrolls in increments until the text becomes visible (or,
// with Invert, leaves the viewport), bounded by MaxDistance.
func (d *Dispatcher) ScrollUntilText(ctx context.Context, opts ScrollUntilOpts) error {
	if opts.Target == "" {
		return configErrorf("scroll-until-text requires text")
	}
	return d.scrollUntil(ctx, "scroll-until-text", opHoverText, opts)
}

// ScrollUntilImage scrolls until the described element is visible. A
// description and a reference-image path are mutually exclusive; the check
// happens before any remote call.
func (d *Dispatcher) ScrollUntilImage(ctx context.Context, opts ScrollUntilOpts) error {
	if opts.Target != "" && opts.Path != "" {
		return configErrorf("scroll-until-image accepts either a description or a path, not both")
	}
	if opts.Target == "" && opts.Path == "" {
		return configErrorf("scroll-until-image requires a description or a path")
	}
	if opts.Path != "" {
		return configErrorf("scroll-until-image by template path is not supported; use a description")
	}
	return d.scrollUntil(ctx, "scroll-until-image", opHoverImage, opts)
}

func (d *Dispatcher) scrollUntil(ctx context.Context, kind, path string, opts ScrollUntilOpts) error {
	maxDistance := opts.MaxDistance
	if maxDistance <= 0 {
		maxDistance = defaultMaxScrollDistance
	}
	dx, dy, err := scrollDeltas(opts.Direction, defaultScrollAmount)
	if err != nil {
		return err
	}

	start := time.Now()
	scrolled := 0
	for {
		result, _, err := d.query(ctx, path, opts.Target, map[string]any{"action": "find"})
		if err != nil {
			d.track(ctx, trackRecord(d.cfg.SessionID, kind, opts.Target, nil, start, err))
			return err
		}
		if result.Found != opts.Invert {
			rec := trackRecord(d.cfg.SessionID, kind, opts.Target, nil, start, nil)
			rec.CacheHit = result.CacheHit
			d.track(ctx, rec)
			d.narratef("%s found %q after %dpx", kind, opts.Target, scrolled)
			return nil
		}
		if scrolled >= maxDistance {
			break
		}
		if err := d.ch.Scroll(ctx, dx, dy); err != nil {
			return fmt.Errorf("%s scroll failed: %w", kind, err)
		}
		scrolled += defaultScrollAmount
		d.narratef("%s: scrolled %dpx of %dpx looking for %q", kind, scrolled, maxDistance, opts.Target)
		if err := d.sleep(ctx, d.cfg.QueryPollInterval); err != nil {
			return err
		}
	}

	failure := &MatchFailure{
		Description:      opts.Target,
		Condition:        fmt.Sprintf("scrolled %dpx without a match", scrolled),
		Fatal:            true,
		AttachScreenshot: true,
	}
	d.track(ctx, trackRecord(d.cfg.SessionID, kind, opts.Target, nil, start, failure))
	return failure
}

// Remember extracts a value from the screen and stores it under the named
// output for later ${OUTPUT.name} substitution.
func (d *Dispatcher) Remember(ctx context.Context, opts RememberOpts) (string, error) {
	if opts.Description == "" || opts.Output == "" {
		return "", configErrorf("remember requires a description and an output name")
	}
	start := time.Now()
	result, shot, err := d.query(ctx, opRemember, opts.Description, map[string]any{"output": opts.Output})
	if err == nil && !result.Found {
		err = &MatchFailure{
			Description:      opts.Description,
			Condition:        "not found",
			AttachScreenshot: true,
			Screenshot:       shot,
		}
	}
	rec := trackRecord(d.cfg.SessionID, "remember", opts.Description, map[string]any{"output": opts.Output}, start, err)
	if result != nil {
		rec.CacheHit = result.CacheHit
	}
	d.track(ctx, rec)
	if err != nil {
		return "", err
	}

	value := result.Data
	if value == "" {
		value = result.MatchText
	}
	d.outputs.Set(opts.Output, value)
	d.narratef("remember %q = %q", opts.Output, value)
	return value, nil
}
