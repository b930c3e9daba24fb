// File: internal/channel/client.go
package channel

import (
	"context"
	"fmt"

	"github.com/halcyonqa/pilot-cli/api/schemas"
)

// Client wraps a raw schemas.Channel with typed helpers for each remote
// operation. It also satisfies the redraw package's ScreenSource and
// NetworkSource contracts.
type Client struct {
	ch schemas.Channel
}

// NewClient wraps an action channel.
func NewClient(ch schemas.Channel) *Client {
	return &Client{ch: ch}
}

// Send passes a raw message through, preserving the schemas.Channel contract.
func (c *Client) Send(ctx context.Context, msg schemas.Message) (*schemas.Response, error) {
	return c.ch.Send(ctx, msg)
}

// call sends a message and decodes its out payload into v (when non-nil).
func (c *Client) call(ctx context.Context, msgType string, fields map[string]any, v any) error {
	resp, err := c.ch.Send(ctx, schemas.Message{Type: msgType, Fields: fields})
	if err != nil {
		return fmt.Errorf("%s failed: %w", msgType, err)
	}
	if !resp.Success {
		return fmt.Errorf("%s rejected by sandbox: %s", msgType, resp.Error)
	}
	if v != nil && len(resp.Out) > 0 {
		if err := json.Unmarshal(resp.Out, v); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", msgType, err)
		}
	}
	return nil
}

// Screenshot captures the remote screen as a base64-encoded PNG.
func (c *Client) Screenshot(ctx context.Context) (string, error) {
	var out struct {
		Image string `json:"image"`
	}
	if err := c.call(ctx, schemas.MsgScreenshot, nil, &out); err != nil {
		return "", err
	}
	return out.Image, nil
}

// NetworkTotals reads the sandbox's cumulative rx/tx byte counters.
func (c *Client) NetworkTotals(ctx context.Context) (schemas.NetworkTotals, error) {
	var out schemas.NetworkTotals
	err := c.call(ctx, schemas.MsgNetwork, nil, &out)
	return out, err
}

// SystemInfo reports the remote OS and architecture.
func (c *Client) SystemInfo(ctx context.Context) (schemas.SystemInfo, error) {
	var out schemas.SystemInfo
	err := c.call(ctx, schemas.MsgSystemInfo, nil, &out)
	return out, err
}

// MoveMouse positions the cursor.
func (c *Client) MoveMouse(ctx context.Context, x, y int) error {
	return c.call(ctx, schemas.MsgMoveMouse, map[string]any{"x": x, "y": y}, nil)
}

// Click performs the named click action at the current cursor position.
// Supported actions: left, right, middle, double.
func (c *Client) Click(ctx context.Context, action string) error {
	msgType, ok := map[string]string{
		"left":   schemas.MsgLeftClick,
		"right":  schemas.MsgRightClick,
		"middle": schemas.MsgMiddleClick,
		"double": schemas.MsgDoubleClick,
	}[action]
	if !ok {
		return fmt.Errorf("unsupported click action %q", action)
	}
	return c.call(ctx, msgType, nil, nil)
}

// MousePress holds the left button down; MouseRelease lets it go. The pair
// brackets drag gestures.
func (c *Client) MousePress(ctx context.Context) error {
	return c.call(ctx, schemas.MsgMousePress, nil, nil)
}

func (c *Client) MouseRelease(ctx context.Context) error {
	return c.call(ctx, schemas.MsgMouseRelease, nil, nil)
}

// Write types literal text into the focused element.
func (c *Client) Write(ctx context.Context, text string) error {
	return c.call(ctx, schemas.MsgWrite, map[string]any{"text": text}, nil)
}

// Press sends a key combination (e.g. ["ctrl", "s"]).
func (c *Client) Press(ctx context.Context, keys []string) error {
	return c.call(ctx, schemas.MsgPress, map[string]any{"keys": keys}, nil)
}

// Scroll scrolls by the given deltas at the current cursor position.
func (c *Client) Scroll(ctx context.Context, dx, dy int) error {
	return c.call(ctx, schemas.MsgScroll, map[string]any{"dx": dx, "dy": dy}, nil)
}

// FocusApplication brings the named application to the foreground.
func (c *Client) FocusApplication(ctx context.Context, name string) error {
	return c.call(ctx, schemas.MsgFocusApplication, map[string]any{"name": name}, nil)
}

// Run executes a shell command on the sandbox, subject to the sandbox-side
// timeout in milliseconds.
func (c *Client) Run(ctx context.Context, shell, command string, timeoutMs int) (*schemas.CommandResult, error) {
	var out schemas.CommandResult
	err := c.call(ctx, schemas.MsgRunCommand, map[string]any{
		"shell":   shell,
		"command": command,
		"timeout": timeoutMs,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TrackInteraction forwards a telemetry record to the sandbox-side sink.
func (c *Client) TrackInteraction(ctx context.Context, rec schemas.InteractionRecord) error {
	return c.call(ctx, schemas.MsgTrackInteraction, map[string]any{"record": rec}, nil)
}
