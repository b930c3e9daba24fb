// File: internal/cache/cache.go

// Package cache implements the perceptual response cache: AI query responses
// keyed by a hash of their non-volatile parameters, with cache hits gated by
// pixel similarity between the cached reference screenshot and the current
// screen.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/halcyonqa/pilot-cli/api/schemas"
	"github.com/halcyonqa/pilot-cli/internal/imagediff"
)

// stableJSON sorts map keys so the request hash is stable under key ordering.
var stableJSON = jsoniter.Config{SortMapKeys: true, EscapeHTML: false}.Froze()

// volatileKeys name request fields whose values vary frame-to-frame without
// semantic significance. They are stripped before hashing and before the
// parameters are persisted.
var volatileKeys = []string{"image", "screenshot"}

// cacheablePaths is the allow-list of operation path substrings that may be
// served from the cache. Everything else bypasses the cache entirely.
var cacheablePaths = []string{
	"assert",
	"hover/text",
	"hover/image",
	"remember",
	"extract",
	"ai/stream",
}

const (
	metadataFile   = "metadata.json"
	screenshotFile = "screenshot.png"
	responseFile   = "response.json"
)

// Metadata describes a cache entry for independent inspection: a human can
// open the entry directory and see what was cached and why.
type Metadata struct {
	Path      string         `json:"path"`
	Params    map[string]any `json:"params"`
	Timestamp time.Time      `json:"timestamp"`
}

// Entry is a cached response body. Unary responses populate Response;
// streaming responses additionally carry the reconstructed Text and the raw
// chunk sequence so a hit can replay the stream.
type Entry struct {
	Response json.RawMessage       `json:"response,omitempty"`
	Text     string                `json:"text,omitempty"`
	Chunks   []schemas.StreamChunk `json:"chunks,omitempty"`
}

// Store is a directory-per-hash response cache. Concurrent writers to the
// same key are last-write-wins; commands never run in parallel so this is
// sufficient.
type Store struct {
	dir string
	log *zap.Logger
}

// New opens (creating if needed) a cache rooted at dir.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Store{dir: dir, log: logger.Named("cache")}, nil
}

// Cacheable reports whether responses for the given operation path may be
// cached. A pure predicate over the path.
func Cacheable(path string) bool {
	for _, p := range cacheablePaths {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// Hash fingerprints a request as sha256 of {path, data: params-minus-image}
// truncated to 16 hex characters. Stable under map key ordering, and by
// construction invariant to image/screenshot payloads.
func Hash(path string, params map[string]any) string {
	payload := struct {
		Path string         `json:"path"`
		Data map[string]any `json:"data"`
	}{Path: path, Data: stripVolatile(params)}

	raw, err := stableJSON.Marshal(payload)
	if err != nil {
		// Unreachable for map[string]any built from YAML/JSON; degrade to a
		// path-only key rather than failing the request.
		raw = []byte(path)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

// Get looks up a cached response. It returns nil (a miss) when no entry
// exists, when the entry is unreadable, or when the similarity gate fails.
// The gate only applies when the request carries a screenshot AND the entry
// has a readable reference image; an imageless request or an unreadable
// reference bypasses the gate and the cached response is returned as-is.
func (s *Store) Get(path string, params map[string]any, threshold float64) *Entry {
	h := Hash(path, params)
	entryDir := filepath.Join(s.dir, h)

	raw, err := os.ReadFile(filepath.Join(entryDir, responseFile))
	if err != nil {
		return nil
	}

	if current := requestScreenshot(params); current != "" {
		if ok := s.similarEnough(entryDir, current, threshold); !ok {
			s.log.Debug("Cache entry rejected by similarity gate", zap.String("hash", h))
			return nil
		}
	}

	var entry Entry
	if err := stableJSON.Unmarshal(raw, &entry); err != nil {
		s.log.Warn("Corrupt cache entry treated as miss", zap.String("hash", h), zap.Error(err))
		return nil
	}
	s.log.Debug("Cache hit", zap.String("path", path), zap.String("hash", h))
	return &entry
}

// Set persists a unary response for the request. Write errors are logged and
// swallowed: caching is an optimization, never a failure source.
func (s *Store) Set(path string, params map[string]any, response json.RawMessage) {
	s.write(path, params, Entry{Response: response})
}

// SetStream persists a streaming response: the reconstructed full text
// (concatenation of data-typed chunks) alongside the raw chunk sequence.
func (s *Store) SetStream(path string, params map[string]any, chunks []schemas.StreamChunk) {
	var b strings.Builder
	for _, c := range chunks {
		if c.Type == "data" {
			b.WriteString(c.Data)
		}
	}
	s.write(path, params, Entry{Text: b.String(), Chunks: chunks})
}

// Replay feeds a cached chunk sequence to the handler, preserving the
// streaming contract for cache hits.
func (s *Store) Replay(entry *Entry, onChunk schemas.ChunkHandler) {
	if entry == nil || onChunk == nil {
		return
	}
	for _, c := range entry.Chunks {
		onChunk(c)
	}
}

// List returns the metadata of every readable entry, ordered by timestamp.
func (s *Store) List() []Metadata {
	dirs, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("Failed to read cache dir", zap.Error(err))
		return nil
	}
	var out []Metadata
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, d.Name(), metadataFile))
		if err != nil {
			continue
		}
		var m Metadata
		if err := stableJSON.Unmarshal(raw, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Clear removes every entry.
func (s *Store) Clear() error {
	dirs, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read cache dir: %w", err)
	}
	for _, d := range dirs {
		if err := os.RemoveAll(filepath.Join(s.dir, d.Name())); err != nil {
			return fmt.Errorf("failed to remove cache entry %s: %w", d.Name(), err)
		}
	}
	return nil
}

// similarEnough compares the current screenshot against the entry's
// reference image. A missing or corrupt reference means "no reference image":
// the gate is skipped and the hit stands.
func (s *Store) similarEnough(entryDir, current string, threshold float64) bool {
	refRaw, err := os.ReadFile(filepath.Join(entryDir, screenshotFile))
	if err != nil {
		return true
	}
	ref, err := imagediff.DecodePNG(refRaw)
	if err != nil {
		s.log.Warn("Unreadable cached reference screenshot; skipping similarity gate", zap.Error(err))
		return true
	}
	cur, err := imagediff.DecodeBase64PNG(current)
	if err != nil {
		s.log.Warn("Unreadable request screenshot; skipping similarity gate", zap.Error(err))
		return true
	}
	similarity := imagediff.Similarity(imagediff.Percent(ref, cur, imagediff.DefaultTolerance))
	return similarity >= threshold
}

// write persists metadata, the reference screenshot (when the request carried
// one), and the response body under the request hash, overwriting any prior
// entry.
func (s *Store) write(path string, params map[string]any, entry Entry) {
	h := Hash(path, params)
	entryDir := filepath.Join(s.dir, h)
	if err := os.MkdirAll(entryDir, 0o755); err != nil {
		s.log.Warn("Cache write skipped", zap.String("hash", h), zap.Error(err))
		return
	}

	meta := Metadata{Path: path, Params: stripVolatile(params), Timestamp: time.Now().UTC()}
	if raw, err := stableJSON.MarshalIndent(meta, "", "  "); err == nil {
		s.writeFile(filepath.Join(entryDir, metadataFile), raw)
	}

	if shot := requestScreenshot(params); shot != "" {
		// Decode from transport encoding and save as a decodable image asset.
		if img, err := imagediff.DecodeBase64PNG(shot); err != nil {
			s.log.Warn("Skipping unreadable screenshot in cache write", zap.Error(err))
		} else if raw, err := imagediff.EncodePNG(img); err == nil {
			s.writeFile(filepath.Join(entryDir, screenshotFile), raw)
		}
	}

	if raw, err := stableJSON.MarshalIndent(entry, "", "  "); err == nil {
		s.writeFile(filepath.Join(entryDir, responseFile), raw)
	}
}

func (s *Store) writeFile(path string, raw []byte) {
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		s.log.Warn("Cache file write failed", zap.String("file", path), zap.Error(err))
	}
}

func stripVolatile(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, k := range volatileKeys {
		delete(out, k)
	}
	return out
}

func requestScreenshot(params map[string]any) string {
	for _, k := range volatileKeys {
		if v, ok := params[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
