package schemas

import "context"

// -- AI Vision/Matching Backend --

// Point is a screen coordinate returned by the vision backend.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// AIRequest is a single query to the vision/matching backend: a screenshot
// plus a natural-language target, tagged with the operation it serves.
type AIRequest struct {
	// OperationPath identifies the query kind (e.g. "assert", "hover/text").
	// It doubles as the cache key prefix.
	OperationPath string `json:"path"`
	// Target is the literal description or assertion text from the script.
	Target string `json:"target"`
	// Screenshot is the current screen as a base64-encoded PNG. May be empty
	// for operations that match on prior context only.
	Screenshot string `json:"screenshot,omitempty"`
	// Params carries operation-specific extras (method hints, output names).
	Params map[string]any `json:"params,omitempty"`
}

// AIResult is the backend's answer. Exactly two shapes occur: a
// coordinate-bearing "found" response, or an absent-coordinates "not found".
type AIResult struct {
	Found       bool   `json:"found"`
	Coordinates *Point `json:"coordinates,omitempty"`
	MatchText   string `json:"matchText,omitempty"`
	// Data holds extracted/remembered values and assertion verdicts.
	Data string `json:"data,omitempty"`
	// CacheHit is set by caching decorators, never by the backend itself.
	CacheHit bool `json:"-"`
}

// StreamChunk is one increment of a streaming backend response. Only chunks
// with Type "data" contribute to the reconstructed full response.
type StreamChunk struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ChunkHandler consumes streaming increments as they arrive. It is also
// invoked on cache replay, preserving the streaming contract for hits.
type ChunkHandler func(StreamChunk)

// AIClient is the contract for the vision/matching backend.
type AIClient interface {
	// Query performs a unary request.
	Query(ctx context.Context, req AIRequest) (*AIResult, error)
	// QueryStream performs a streaming request, delivering increments to
	// onChunk before returning the assembled result.
	QueryStream(ctx context.Context, req AIRequest, onChunk ChunkHandler) (*AIResult, error)
}
