// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/halcyonqa/pilot-cli/api/schemas"
	"github.com/halcyonqa/pilot-cli/internal/cache"
	"github.com/halcyonqa/pilot-cli/internal/channel"
	"github.com/halcyonqa/pilot-cli/internal/dispatch"
	"github.com/halcyonqa/pilot-cli/internal/observability"
	"github.com/halcyonqa/pilot-cli/internal/redraw"
	"github.com/halcyonqa/pilot-cli/internal/runner"
	"github.com/halcyonqa/pilot-cli/internal/telemetry"
	"github.com/halcyonqa/pilot-cli/internal/vision"
)

var (
	sandboxURL    string
	redrawEnabled bool
	cacheDir      string
)

var runCmd = &cobra.Command{
	Use:   "run <script.yaml>",
	Short: "Execute a test script against the sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runScript(ctx, args[0])
	},
}

func init() {
	runCmd.Flags().StringVar(&sandboxURL, "sandbox-url", "", "sandbox agent websocket URL (overrides config)")
	runCmd.Flags().BoolVar(&redrawEnabled, "redraw", true, "wait for the screen to settle after each action")
	runCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "perceptual cache directory (overrides config)")
	rootCmd.AddCommand(runCmd)
}

func runScript(ctx context.Context, scriptPath string) error {
	logger := observability.GetLogger()

	script, err := runner.LoadScript(scriptPath)
	if err != nil {
		return err
	}

	if sandboxURL != "" {
		cfg.Sandbox.URL = sandboxURL
	}
	if cacheDir != "" {
		cfg.Cache.Dir = cacheDir
	}
	if !redrawEnabled {
		cfg.Redraw.Enabled = false
	}

	ws, err := channel.Dial(ctx, cfg.Sandbox.URL, cfg.Sandbox.RequestTimeout, logger)
	if err != nil {
		return err
	}
	defer ws.Close()
	client := channel.NewClient(ws)

	ai, err := buildAIClient(ctx, logger)
	if err != nil {
		return err
	}

	sinks := []schemas.TelemetrySink{telemetry.NewLogSink(logger)}
	if cfg.Telemetry.Enabled {
		sinks = append(sinks, telemetry.NewChannelSink(client))
		if cfg.Telemetry.PostgresDSN != "" {
			pg, err := telemetry.Connect(ctx, cfg.Telemetry.PostgresDSN, logger)
			if err != nil {
				// Telemetry must never block a run.
				logger.Warn("Postgres telemetry sink unavailable", zap.Error(err))
			} else {
				defer pg.Close()
				sinks = append(sinks, pg)
			}
		}
	}

	rc := runner.NewRunContext()
	dispatcher, err := dispatch.New(dispatch.Deps{
		Channel:   client,
		AI:        ai,
		Narrator:  runner.NewLogNarrator(logger),
		Telemetry: telemetry.NewMultiSink(logger, sinks...),
		Outputs:   rc.Outputs,
		Logger:    logger,
		Config: dispatch.Config{
			SessionID: rc.RunID,
			RedrawDefaults: redraw.Options{
				Enabled:              cfg.Redraw.Enabled,
				ScreenRedraw:         cfg.Redraw.ScreenRedraw,
				NetworkMonitor:       cfg.Redraw.NetworkMonitor,
				DiffThresholdPercent: cfg.Redraw.DiffThresholdPercent,
			},
			RedrawTimeout: cfg.Redraw.Timeout,
			SettleDelay:   cfg.Sandbox.SettleDelay,
			ShellTimeout:  cfg.Exec.ShellTimeout,
			ScriptTimeout: cfg.Exec.ScriptTimeout,
		},
	})
	if err != nil {
		return err
	}

	r := runner.New(dispatcher, rc, runner.NewLogNarrator(logger), logger)
	report, runErr := r.Run(ctx, script)

	logger.Info("Run report",
		zap.String("run_id", report.RunID),
		zap.Duration("duration", report.Duration),
		zap.Int("commands", len(report.Commands)),
		zap.Int("failed", report.Failed))
	return runErr
}

// buildAIClient constructs the Gemini-backed vision client, wrapped with the
// perceptual cache when caching is enabled.
func buildAIClient(ctx context.Context, logger *zap.Logger) (schemas.AIClient, error) {
	if cfg.AI.APIKey == "" {
		return nil, fmt.Errorf("ai.api_key is required (set PILOT_AI_API_KEY)")
	}
	gemini, err := vision.NewGemini(ctx, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.RequestsPerSecond, logger)
	if err != nil {
		return nil, err
	}
	if !cfg.Cache.Enabled {
		return gemini, nil
	}
	store, err := cache.New(cfg.Cache.Dir, logger)
	if err != nil {
		return nil, err
	}
	return vision.NewCached(gemini, store, cfg.AI.SimilarityThreshold, logger), nil
}
