// File: internal/dispatch/actions.go

// Side-effecting primitives. Each one runs under perform(): redraw session,
// action, narration, telemetry, settle wait.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultScrollAmount = 300

// Click moves the cursor to (X, Y), pauses for the settle delay so hover
// states register, then performs the click action.
func (d *Dispatcher) Click(ctx context.Context, opts ClickOpts) error {
	action := opts.Action
	if action == "" {
		action = "left"
	}
	target := fmt.Sprintf("%s click at (%d, %d)", action, opts.X, opts.Y)
	params := map[string]any{"x": opts.X, "y": opts.Y, "action": action}
	return d.perform(ctx, "click", target, opts.Redraw, params, func(ctx context.Context) error {
		if err := d.ch.MoveMouse(ctx, opts.X, opts.Y); err != nil {
			return err
		}
		if err := d.sleep(ctx, d.cfg.SettleDelay); err != nil {
			return err
		}
		return d.ch.Click(ctx, action)
	})
}

// ClickAt is the positional form of Click.
func (d *Dispatcher) ClickAt(ctx context.Context, x, y int, action string) error {
	return d.Click(ctx, ClickOpts{X: x, Y: y, Action: action})
}

// Hover moves the cursor without clicking.
func (d *Dispatcher) Hover(ctx context.Context, opts HoverOpts) error {
	target := fmt.Sprintf("hover at (%d, %d)", opts.X, opts.Y)
	params := map[string]any{"x": opts.X, "y": opts.Y}
	return d.perform(ctx, "hover", target, opts.Redraw, params, func(ctx context.Context) error {
		return d.ch.MoveMouse(ctx, opts.X, opts.Y)
	})
}

// HoverAt is the positional form of Hover.
func (d *Dispatcher) HoverAt(ctx context.Context, x, y int) error {
	return d.Hover(ctx, HoverOpts{X: x, Y: y})
}

// Type writes literal text into the focused element.
func (d *Dispatcher) Type(ctx context.Context, opts TypeOpts) error {
	if opts.Text == "" {
		return configErrorf("type requires non-empty text")
	}
	params := map[string]any{"text": opts.Text}
	return d.perform(ctx, "type", fmt.Sprintf("%q", opts.Text), opts.Redraw, params, func(ctx context.Context) error {
		return d.ch.Write(ctx, opts.Text)
	})
}

// PressKeys sends a key combination, e.g. ["ctrl", "s"].
func (d *Dispatcher) PressKeys(ctx context.Context, opts PressKeysOpts) error {
	if len(opts.Keys) == 0 {
		return configErrorf("press-keys requires at least one key")
	}
	target := strings.Join(opts.Keys, "+")
	params := map[string]any{"keys": opts.Keys}
	return d.perform(ctx, "press-keys", target, opts.Redraw, params, func(ctx context.Context) error {
		return d.ch.Press(ctx, opts.Keys)
	})
}

// Scroll scrolls by Amount pixels in Direction.
func (d *Dispatcher) Scroll(ctx context.Context, opts ScrollOpts) error {
	dx, dy, err := scrollDeltas(opts.Direction, opts.Amount)
	if err != nil {
		return err
	}
	target := fmt.Sprintf("%s by %dpx", opts.Direction, opts.Amount)
	params := map[string]any{"direction": opts.Direction, "amount": opts.Amount}
	return d.perform(ctx, "scroll", target, opts.Redraw, params, func(ctx context.Context) error {
		return d.ch.Scroll(ctx, dx, dy)
	})
}

// Drag presses at the start point, moves to the end point, and releases.
func (d *Dispatcher) Drag(ctx context.Context, opts DragOpts) error {
	target := fmt.Sprintf("from (%d, %d) to (%d, %d)", opts.FromX, opts.FromY, opts.ToX, opts.ToY)
	params := map[string]any{"x0": opts.FromX, "y0": opts.FromY, "x1": opts.ToX, "y1": opts.ToY}
	return d.perform(ctx, "drag", target, opts.Redraw, params, func(ctx context.Context) error {
		if err := d.ch.MoveMouse(ctx, opts.FromX, opts.FromY); err != nil {
			return err
		}
		if err := d.ch.MousePress(ctx); err != nil {
			return err
		}
		if err := d.sleep(ctx, d.cfg.SettleDelay); err != nil {
			return err
		}
		if err := d.ch.MoveMouse(ctx, opts.ToX, opts.ToY); err != nil {
			// Leaving the button held would poison every later action.
			_ = d.ch.MouseRelease(ctx)
			return err
		}
		return d.ch.MouseRelease(ctx)
	})
}

// FocusApplication brings the named application to the foreground.
func (d *Dispatcher) FocusApplication(ctx context.Context, opts FocusOpts) error {
	if opts.Name == "" {
		return configErrorf("focus-application requires a name")
	}
	params := map[string]any{"name": opts.Name}
	return d.perform(ctx, "focus-application", opts.Name, opts.Redraw, params, func(ctx context.Context) error {
		return d.ch.FocusApplication(ctx, opts.Name)
	})
}

// Wait pauses for the given duration. No redraw session: waiting is not a
// side effect.
func (d *Dispatcher) Wait(ctx context.Context, opts WaitOpts) error {
	d.narratef("wait %s", opts.Timeout)
	start := time.Now()
	err := d.sleep(ctx, opts.Timeout)
	d.track(ctx, trackRecord(d.cfg.SessionID, "wait", opts.Timeout.String(), nil, start, err))
	return err
}

func scrollDeltas(direction string, amount int) (int, int, error) {
	if amount <= 0 {
		amount = defaultScrollAmount
	}
	switch direction {
	case "down", "":
		return 0, amount, nil
	case "up":
		return 0, -amount, nil
	case "right":
		return amount, 0, nil
	case "left":
		return -amount, 0, nil
	}
	return 0, 0, configErrorf("unsupported scroll direction %q", direction)
}
