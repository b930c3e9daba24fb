// File: internal/vision/gemini.go

// Package vision implements the AI query contract: screenshot plus
// description in, coordinates or a verdict out. The backend is treated as an
// opaque remote function; this package owns only request shaping, rate
// limiting, response interpretation, and the perceptual-cache decorator.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/halcyonqa/pilot-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Gemini is a genai-backed implementation of schemas.AIClient.
type Gemini struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	log     *zap.Logger
}

var _ schemas.AIClient = (*Gemini)(nil)

// NewGemini builds a rate-limited Gemini client.
func NewGemini(ctx context.Context, apiKey, model string, rps float64, logger *zap.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if rps <= 0 {
		rps = 1
	}
	return &Gemini{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     logger.Named("vision"),
	}, nil
}

// Query performs a unary request and interprets the two possible response
// shapes: coordinate-bearing "found" or absent-coordinates "not found".
func (g *Gemini) Query(ctx context.Context, req schemas.AIRequest) (*schemas.AIResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	contents, err := buildContents(req)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, generateConfig())
	if err != nil {
		return nil, fmt.Errorf("vision query %s failed: %w", req.OperationPath, err)
	}
	return parseResult(resp.Text())
}

// QueryStream performs a streaming request, delivering data chunks to
// onChunk as they arrive and parsing the assembled text as the result.
func (g *Gemini) QueryStream(ctx context.Context, req schemas.AIRequest, onChunk schemas.ChunkHandler) (*schemas.AIResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	contents, err := buildContents(req)
	if err != nil {
		return nil, err
	}

	var full strings.Builder
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, generateConfig()) {
		if err != nil {
			return nil, fmt.Errorf("vision stream %s failed: %w", req.OperationPath, err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		full.WriteString(text)
		if onChunk != nil {
			onChunk(schemas.StreamChunk{Type: "data", Data: text})
		}
	}
	return parseResult(full.String())
}

// buildContents assembles the prompt: the instruction text plus the
// screenshot as an inline image part when present.
func buildContents(req schemas.AIRequest) ([]*genai.Content, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt(req))}
	if req.Screenshot != "" {
		raw, err := decodeTransportImage(req.Screenshot)
		if err != nil {
			return nil, fmt.Errorf("failed to decode request screenshot: %w", err)
		}
		parts = append(parts, genai.NewPartFromBytes(raw, "image/png"))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil
}

func generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
}

// prompt renders the operation into the instruction the model answers with a
// single JSON object matching schemas.AIResult.
func prompt(req schemas.AIRequest) string {
	var b strings.Builder
	b.WriteString("You are the visual matcher for a desktop test agent.\n")
	fmt.Fprintf(&b, "Operation: %s\nTarget: %s\n", req.OperationPath, req.Target)
	if len(req.Params) > 0 {
		if raw, err := json.Marshal(req.Params); err == nil {
			fmt.Fprintf(&b, "Parameters: %s\n", raw)
		}
	}
	b.WriteString(`Respond with a single JSON object: {"found": bool, ` +
		`"coordinates": {"x": int, "y": int} (only when a screen location matches), ` +
		`"matchText": string (the matched text, if any), ` +
		`"data": string (extracted value or assertion verdict)}.`)
	return b.String()
}

// parseResult decodes the model's JSON answer, tolerating code fences.
func parseResult(text string) (*schemas.AIResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	var result schemas.AIResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &result); err != nil {
		return nil, fmt.Errorf("unparseable vision response: %w", err)
	}
	return &result, nil
}

func decodeTransportImage(s string) ([]byte, error) {
	if i := strings.Index(s, "base64,"); i >= 0 {
		s = s[i+len("base64,"):]
	}
	return base64.StdEncoding.DecodeString(s)
}
