// File: internal/runner/runner.go

// Package runner executes a parsed script: strictly sequential commands with
// variable substitution, timing aggregation, and fail-fast on fatal errors.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyonqa/pilot-cli/api/schemas"
	"github.com/halcyonqa/pilot-cli/internal/dispatch"
)

// RunContext is the explicit per-run state: a unique id plus the output
// store. Its lifetime is exactly one script execution.
type RunContext struct {
	RunID   string
	Outputs *Outputs
}

// NewRunContext mints a fresh run context.
func NewRunContext() *RunContext {
	return &RunContext{RunID: uuid.NewString(), Outputs: NewOutputs()}
}

// CommandTiming records how one command fared.
type CommandTiming struct {
	Step     int
	Kind     string
	Duration time.Duration
	Err      error
}

// Report aggregates a run's timing and outcomes.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Commands []CommandTiming
	Failed   int
}

// Runner drives a dispatcher through a script.
type Runner struct {
	dispatcher *dispatch.Dispatcher
	rc         *RunContext
	narrator   schemas.Narrator
	log        *zap.Logger
}

// New builds a runner around an existing dispatcher and run context.
func New(dispatcher *dispatch.Dispatcher, rc *RunContext, narrator schemas.Narrator, logger *zap.Logger) *Runner {
	return &Runner{
		dispatcher: dispatcher,
		rc:         rc,
		narrator:   narrator,
		log:        logger.Named("runner"),
	}
}

// Run executes every command in order. One command completes — including its
// redraw wait — before the next begins. Recoverable match failures are
// recorded and skipped; fatal errors abort the remaining sequence and are
// returned alongside the partial report.
func (r *Runner) Run(ctx context.Context, script *schemas.Script) (*Report, error) {
	report := &Report{RunID: r.rc.RunID, Started: time.Now()}
	defer func() { report.Duration = time.Since(report.Started) }()

	r.log.Info("Run started",
		zap.String("run_id", r.rc.RunID),
		zap.Int("steps", len(script.Steps)))

	for stepIdx, step := range script.Steps {
		if step.Prompt != "" && r.narrator != nil {
			r.narrator.Narrate(step.Prompt)
		}
		for _, cmd := range step.Commands {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			resolved := schemas.Command{
				Kind:   cmd.Kind,
				Params: r.rc.Outputs.SubstituteParams(cmd.Params),
			}

			start := time.Now()
			err := r.dispatcher.Dispatch(ctx, resolved)
			timing := CommandTiming{
				Step:     stepIdx + 1,
				Kind:     cmd.Kind,
				Duration: time.Since(start),
				Err:      err,
			}
			report.Commands = append(report.Commands, timing)

			if err == nil {
				continue
			}
			report.Failed++

			var match *dispatch.MatchFailure
			if errors.As(err, &match) && !match.Fatal {
				r.log.Warn("Command failed, continuing",
					zap.String("command", cmd.Kind),
					zap.String("target", match.Description),
					zap.String("condition", match.Condition))
				continue
			}
			r.log.Error("Run aborted",
				zap.String("command", cmd.Kind),
				zap.Int("step", stepIdx+1),
				zap.Error(err))
			return report, err
		}
	}

	r.log.Info("Run finished",
		zap.String("run_id", r.rc.RunID),
		zap.Int("commands", len(report.Commands)),
		zap.Int("failed", report.Failed))
	return report, nil
}

// LogNarrator is the default narration sink: progress messages go to the
// structured log at info level.
type LogNarrator struct {
	log *zap.Logger
}

var _ schemas.Narrator = (*LogNarrator)(nil)

// NewLogNarrator builds a narrator over the given logger.
func NewLogNarrator(logger *zap.Logger) *LogNarrator {
	return &LogNarrator{log: logger.Named("narration")}
}

// Narrate logs one progress message.
func (n *LogNarrator) Narrate(msg string) {
	n.log.Info(msg)
}
