// File: internal/telemetry/telemetry.go

// Package telemetry delivers interaction records to their sinks. Delivery is
// fire-and-forget: a sink failure is logged and never fails the primitive
// action that produced the record.
package telemetry

import (
	"context"

	"go.uber.org/zap"

	"github.com/halcyonqa/pilot-cli/api/schemas"
)

// LogSink writes records to the structured log. Always safe; used as the
// baseline sink when nothing else is configured.
type LogSink struct {
	log *zap.Logger
}

var _ schemas.TelemetrySink = (*LogSink)(nil)

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{log: logger.Named("telemetry")}
}

// Track logs the record at debug level.
func (s *LogSink) Track(_ context.Context, rec schemas.InteractionRecord) error {
	s.log.Debug("interaction",
		zap.String("type", rec.Type),
		zap.String("session_id", rec.SessionID),
		zap.String("target", rec.PromptOrTarget),
		zap.Int64("duration_ms", rec.DurationMs),
		zap.Bool("success", rec.Success),
		zap.Bool("cache_hit", rec.CacheHit),
		zap.String("error", rec.Error))
	return nil
}

// MultiSink fans a record out to every child sink, best-effort. It never
// returns an error; per-sink failures are logged and swallowed.
type MultiSink struct {
	sinks []schemas.TelemetrySink
	log   *zap.Logger
}

var _ schemas.TelemetrySink = (*MultiSink)(nil)

// NewMultiSink combines sinks.
func NewMultiSink(logger *zap.Logger, sinks ...schemas.TelemetrySink) *MultiSink {
	return &MultiSink{sinks: sinks, log: logger.Named("telemetry")}
}

// Track delivers the record to each sink in turn.
func (m *MultiSink) Track(ctx context.Context, rec schemas.InteractionRecord) error {
	for _, s := range m.sinks {
		if err := s.Track(ctx, rec); err != nil {
			m.log.Warn("Telemetry sink failed; record dropped for that sink", zap.Error(err))
		}
	}
	return nil
}

// ChannelSink forwards records to the sandbox agent's trackInteraction
// endpoint, letting sandbox-side analytics correlate actions with captures.
type ChannelSink struct {
	ch interface {
		TrackInteraction(ctx context.Context, rec schemas.InteractionRecord) error
	}
}

var _ schemas.TelemetrySink = (*ChannelSink)(nil)

// NewChannelSink wraps a channel client.
func NewChannelSink(ch interface {
	TrackInteraction(ctx context.Context, rec schemas.InteractionRecord) error
}) *ChannelSink {
	return &ChannelSink{ch: ch}
}

// Track forwards the record over the action channel.
func (s *ChannelSink) Track(ctx context.Context, rec schemas.InteractionRecord) error {
	return s.ch.TrackInteraction(ctx, rec)
}
