// File: internal/vision/cached.go
package vision

import (
	"context"

	"go.uber.org/zap"

	"github.com/halcyonqa/pilot-cli/api/schemas"
	"github.com/halcyonqa/pilot-cli/internal/cache"
)

// Cached decorates an AIClient with the perceptual response cache. Only
// operations on the cacheable allow-list are intercepted; everything else
// passes straight through. Cache failures degrade to a miss on read and a
// no-op on write.
type Cached struct {
	inner     schemas.AIClient
	store     *cache.Store
	threshold float64
	log       *zap.Logger
}

var _ schemas.AIClient = (*Cached)(nil)

// NewCached wraps inner with the given store. threshold is the minimum
// similarity between the cached reference screenshot and the current screen
// for a hit to be honored.
func NewCached(inner schemas.AIClient, store *cache.Store, threshold float64, logger *zap.Logger) *Cached {
	return &Cached{inner: inner, store: store, threshold: threshold, log: logger.Named("vision.cache")}
}

// Query serves cacheable operations from the store when the current screen
// is similar enough to the cached reference, falling back to the backend and
// persisting its response on a miss.
func (c *Cached) Query(ctx context.Context, req schemas.AIRequest) (*schemas.AIResult, error) {
	if !cache.Cacheable(req.OperationPath) {
		return c.inner.Query(ctx, req)
	}
	params := cacheParams(req)

	if entry := c.store.Get(req.OperationPath, params, c.threshold); entry != nil {
		var result schemas.AIResult
		if err := json.Unmarshal(entry.Response, &result); err == nil {
			result.CacheHit = true
			return &result, nil
		}
		c.log.Warn("Discarding undecodable cached response", zap.String("path", req.OperationPath))
	}

	result, err := c.inner.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(result); err == nil {
		c.store.Set(req.OperationPath, params, raw)
	}
	return result, nil
}

// QueryStream replays the cached chunk sequence to onChunk on a hit, keeping
// the streaming contract intact; on a miss it records the live chunks while
// forwarding them.
func (c *Cached) QueryStream(ctx context.Context, req schemas.AIRequest, onChunk schemas.ChunkHandler) (*schemas.AIResult, error) {
	if !cache.Cacheable(req.OperationPath) {
		return c.inner.QueryStream(ctx, req, onChunk)
	}
	params := cacheParams(req)

	if entry := c.store.Get(req.OperationPath, params, c.threshold); entry != nil && len(entry.Chunks) > 0 {
		c.store.Replay(entry, onChunk)
		result, err := parseResult(entry.Text)
		if err == nil {
			result.CacheHit = true
			return result, nil
		}
		c.log.Warn("Cached stream text unparseable; querying backend", zap.Error(err))
	}

	var recorded []schemas.StreamChunk
	result, err := c.inner.QueryStream(ctx, req, func(chunk schemas.StreamChunk) {
		recorded = append(recorded, chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	})
	if err != nil {
		return nil, err
	}
	c.store.SetStream(req.OperationPath, params, recorded)
	return result, nil
}

// cacheParams projects a request into the cache's parameter map. The
// screenshot rides along for the similarity gate; the hash itself strips it.
func cacheParams(req schemas.AIRequest) map[string]any {
	params := map[string]any{"target": req.Target}
	for k, v := range req.Params {
		params[k] = v
	}
	if req.Screenshot != "" {
		params["screenshot"] = req.Screenshot
	}
	return params
}
