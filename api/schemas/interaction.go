package schemas

import (
	"context"
	"time"
)

// -- Telemetry and Narration --

// InteractionRecord is an append-only telemetry event emitted once per
// primitive action, success or failure. Consumers own aggregation; records
// are never retried or deduplicated.
type InteractionRecord struct {
	Type           string         `json:"type"`
	SessionID      string         `json:"session_id"`
	PromptOrTarget string         `json:"prompt_or_target,omitempty"`
	InputParams    map[string]any `json:"input_parameters,omitempty"`
	StartedAt      time.Time      `json:"start_timestamp"`
	DurationMs     int64          `json:"duration_ms"`
	Success        bool           `json:"success"`
	Error          string         `json:"error,omitempty"`
	CacheHit       bool           `json:"cache_hit,omitempty"`
	SelectorUsed   string         `json:"selector_used,omitempty"`
}

// TelemetrySink receives interaction records. Delivery is best-effort: a
// sink failure must never fail the primitive action that produced the record.
type TelemetrySink interface {
	Track(ctx context.Context, rec InteractionRecord) error
}

// Narrator receives human-readable progress messages, distinct from
// structured telemetry.
type Narrator interface {
	Narrate(msg string)
}
