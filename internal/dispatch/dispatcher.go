// File: internal/dispatch/dispatcher.go

// Package dispatch executes primitive commands against the sandbox. Each
// side-effecting primitive runs under a redraw session so the next command
// never begins against a still-animating screen; each query primitive runs
// through the perceptual-cache-backed vision client. The dispatcher raises
// typed, recoverable errors with enough context for a calling orchestrator
// to decide on retries; it never retries on its own.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/halcyonqa/pilot-cli/api/schemas"
	"github.com/halcyonqa/pilot-cli/internal/channel"
	"github.com/halcyonqa/pilot-cli/internal/redraw"
)

// OutputStore is the run-scoped variable store commands write into
// (remember, exec --output) and scripts read from via ${OUTPUT.name}.
type OutputStore interface {
	Set(name, value string)
	Snapshot() map[string]string
}

// Config carries the dispatcher's tunables, resolved from configuration.
type Config struct {
	// SessionID tags every telemetry record for this run.
	SessionID string
	// RedrawDefaults apply to every side-effecting command unless a
	// per-command override says otherwise.
	RedrawDefaults redraw.Options
	// RedrawTimeout bounds each post-action settle wait.
	RedrawTimeout time.Duration
	// SettleDelay is the fixed pause between positioning the cursor and
	// pressing a button.
	SettleDelay time.Duration
	// QueryPollInterval is the retry cadence of wait-for-* loops.
	QueryPollInterval time.Duration
	// ShellTimeout bounds remote shell commands; ScriptTimeout bounds
	// in-process script evaluation.
	ShellTimeout  time.Duration
	ScriptTimeout time.Duration
}

// Deps are the dispatcher's injected collaborators.
type Deps struct {
	Channel   *channel.Client
	AI        schemas.AIClient
	Narrator  schemas.Narrator
	Telemetry schemas.TelemetrySink
	Outputs   OutputStore
	Logger    *zap.Logger
	Config    Config
}

// Dispatcher executes one command at a time. Commands are strictly
// sequential: mouse and keyboard state on the sandbox is shared mutable
// state, so exactly one redraw session may be active at any moment.
type Dispatcher struct {
	ch        *channel.Client
	ai        schemas.AIClient
	narrator  schemas.Narrator
	telemetry schemas.TelemetrySink
	outputs   OutputStore
	log       *zap.Logger
	cfg       Config

	mu            sync.Mutex
	sessionActive bool

	osOnce   sync.Once
	remoteOS string
}

// New validates dependencies and builds a dispatcher.
func New(deps Deps) (*Dispatcher, error) {
	if deps.Channel == nil || deps.AI == nil || deps.Outputs == nil || deps.Logger == nil {
		return nil, fmt.Errorf("cannot initialize dispatcher with nil dependencies")
	}
	cfg := deps.Config
	if cfg.RedrawTimeout <= 0 {
		cfg.RedrawTimeout = 30 * time.Second
	}
	if cfg.QueryPollInterval <= 0 {
		cfg.QueryPollInterval = time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	return &Dispatcher{
		ch:        deps.Channel,
		ai:        deps.AI,
		narrator:  deps.Narrator,
		telemetry: deps.Telemetry,
		outputs:   deps.Outputs,
		log:       deps.Logger.Named("dispatch"),
		cfg:       cfg,
	}, nil
}

// Dispatch normalizes a scripted command's parameters and executes it. The
// outer loop per command is: substitute (done by the runner) -> dispatch ->
// success or typed failure; no retry happens at this level.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd schemas.Command) error {
	ro, params := splitRedraw(cmd.Params)

	switch cmd.Kind {
	case schemas.CmdClick:
		return d.Click(ctx, ClickOpts{
			X:      getInt(params, "x", 0),
			Y:      getInt(params, "y", 0),
			Action: getString(params, "action", "left"),
			Redraw: ro,
		})
	case schemas.CmdHover:
		return d.Hover(ctx, HoverOpts{
			X:      getInt(params, "x", 0),
			Y:      getInt(params, "y", 0),
			Redraw: ro,
		})
	case schemas.CmdType:
		return d.Type(ctx, TypeOpts{Text: getString(params, "text", ""), Redraw: ro})
	case schemas.CmdPressKeys:
		return d.PressKeys(ctx, PressKeysOpts{Keys: getStringSlice(params, "keys"), Redraw: ro})
	case schemas.CmdScroll:
		return d.Scroll(ctx, ScrollOpts{
			Direction: getString(params, "direction", "down"),
			Amount:    getInt(params, "amount", defaultScrollAmount),
			Redraw:    ro,
		})
	case schemas.CmdDrag:
		return d.Drag(ctx, DragOpts{
			FromX:  getInt(params, "x0", getInt(params, "fromX", 0)),
			FromY:  getInt(params, "y0", getInt(params, "fromY", 0)),
			ToX:    getInt(params, "x1", getInt(params, "toX", 0)),
			ToY:    getInt(params, "y1", getInt(params, "toY", 0)),
			Redraw: ro,
		})
	case schemas.CmdFocusApplication:
		return d.FocusApplication(ctx, FocusOpts{Name: getString(params, "name", ""), Redraw: ro})
	case schemas.CmdWait:
		return d.Wait(ctx, WaitOpts{Timeout: getDurationMs(params, "timeout", time.Second)})
	case schemas.CmdHoverText:
		_, err := d.HoverText(ctx, HoverTextOpts{
			Description: getString(params, "description", getString(params, "text", "")),
			Action:      getString(params, "action", "click"),
			Redraw:      ro,
		})
		return err
	case schemas.CmdHoverImage:
		_, err := d.HoverImage(ctx, HoverImageOpts{
			Description: getString(params, "description", ""),
			Action:      getString(params, "action", "click"),
			Redraw:      ro,
		})
		return err
	case schemas.CmdMatchImage:
		return d.MatchImage(ctx, MatchImageOpts{Description: getString(params, "description", "")})
	case schemas.CmdAssert:
		return d.Assert(ctx, AssertOpts{Expect: getString(params, "expect", "")})
	case schemas.CmdWaitForText:
		return d.WaitForText(ctx, WaitForOpts{
			Target:  getString(params, "text", ""),
			Timeout: getDurationMs(params, "timeout", defaultWaitForTimeout),
			Invert:  getBool(params, "invert", false),
		})
	case schemas.CmdWaitForImage:
		return d.WaitForImage(ctx, WaitForOpts{
			Target:  getString(params, "description", ""),
			Timeout: getDurationMs(params, "timeout", defaultWaitForTimeout),
			Invert:  getBool(params, "invert", false),
		})
	case schemas.CmdScrollUntilText:
		return d.ScrollUntilText(ctx, ScrollUntilOpts{
			Target:      getString(params, "text", ""),
			Direction:   getString(params, "direction", "down"),
			MaxDistance: getInt(params, "distance", defaultMaxScrollDistance),
			Invert:      getBool(params, "invert", false),
			Redraw:      ro,
		})
	case schemas.CmdScrollUntilImage:
		return d.ScrollUntilImage(ctx, ScrollUntilOpts{
			Target:      getString(params, "description", ""),
			Path:        getString(params, "path", ""),
			Direction:   getString(params, "direction", "down"),
			MaxDistance: getInt(params, "distance", defaultMaxScrollDistance),
			Invert:      getBool(params, "invert", false),
			Redraw:      ro,
		})
	case schemas.CmdRemember, schemas.CmdExtract:
		_, err := d.Remember(ctx, RememberOpts{
			Description: getString(params, "description", ""),
			Output:      getString(params, "output", ""),
		})
		return err
	case schemas.CmdExec:
		_, err := d.Exec(ctx, ExecOpts{
			Language: getString(params, "language", "sh"),
			Code:     getString(params, "code", getString(params, "command", "")),
			Output:   getString(params, "output", ""),
			Timeout:  getDurationMs(params, "timeout", 0),
		})
		return err
	default:
		return configErrorf("unsupported command %q", cmd.Kind)
	}
}

// beginSession starts a redraw session for a side-effecting action,
// enforcing the one-active-session invariant.
func (d *Dispatcher) beginSession(ctx context.Context, ro RedrawOverride) (*redraw.Session, error) {
	d.mu.Lock()
	if d.sessionActive {
		d.mu.Unlock()
		return nil, fmt.Errorf("redraw session already active; commands must not interleave")
	}
	d.sessionActive = true
	d.mu.Unlock()

	sess := redraw.NewSession(d.ch, d.ch, d.log)
	if err := sess.Start(ctx, ro.resolve(d.cfg.RedrawDefaults)); err != nil {
		d.releaseSession()
		return nil, err
	}
	return sess, nil
}

func (d *Dispatcher) releaseSession() {
	d.mu.Lock()
	d.sessionActive = false
	d.mu.Unlock()
}

// perform wraps a side-effecting action with the standard sequence: start a
// redraw session, act, narrate, record telemetry, then wait for the screen
// to settle before returning.
func (d *Dispatcher) perform(ctx context.Context, kind, target string, ro RedrawOverride, params map[string]any, act func(context.Context) error) error {
	sess, err := d.beginSession(ctx, ro)
	if err != nil {
		return err
	}
	defer func() {
		sess.Stop()
		d.releaseSession()
	}()

	start := time.Now()
	actErr := act(ctx)

	if actErr == nil {
		d.narratef("%s %s", kind, target)
	}
	d.track(ctx, schemas.InteractionRecord{
		Type:           kind,
		SessionID:      d.cfg.SessionID,
		PromptOrTarget: target,
		InputParams:    params,
		StartedAt:      start,
		DurationMs:     time.Since(start).Milliseconds(),
		Success:        actErr == nil,
		Error:          errString(actErr),
	})
	if actErr != nil {
		return fmt.Errorf("%s failed: %w", kind, actErr)
	}

	return sess.Wait(ctx, d.cfg.RedrawTimeout)
}

// track emits a telemetry record, best-effort.
func (d *Dispatcher) track(ctx context.Context, rec schemas.InteractionRecord) {
	if d.telemetry == nil {
		return
	}
	if err := d.telemetry.Track(ctx, rec); err != nil {
		d.log.Warn("Failed to deliver interaction record", zap.Error(err))
	}
}

func (d *Dispatcher) narratef(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if d.narrator != nil {
		d.narrator.Narrate(msg)
		return
	}
	d.log.Info(msg)
}

// sleep pauses without ignoring cancellation.
func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// trackRecord builds a telemetry record for a completed primitive.
func trackRecord(sessionID, kind, target string, params map[string]any, start time.Time, err error) schemas.InteractionRecord {
	return schemas.InteractionRecord{
		Type:           kind,
		SessionID:      sessionID,
		PromptOrTarget: target,
		InputParams:    params,
		StartedAt:      start,
		DurationMs:     time.Since(start).Milliseconds(),
		Success:        err == nil,
		Error:          errString(err),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
