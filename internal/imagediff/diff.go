// File: internal/imagediff/diff.go

// Package imagediff compares screen captures at the pixel level. It is the
// shared leaf under both the perceptual cache's similarity gate and the
// redraw detector's frame sampling.
package imagediff

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
)

// DefaultTolerance is the per-channel slack under which two pixels are
// treated as equal. Screen captures carry compression and subpixel noise;
// exact equality would report phantom diffs on every frame.
const DefaultTolerance = 8

// DecodeBase64PNG decodes a base64-encoded PNG, tolerating an optional
// data-URL prefix as produced by some capture agents.
func DecodeBase64PNG(s string) (image.Image, error) {
	if i := strings.Index(s, "base64,"); i >= 0 {
		s = s[i+len("base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode png: %w", err)
	}
	return img, nil
}

// DecodePNG decodes raw PNG bytes, as stored on disk by the cache.
func DecodePNG(raw []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode png: %w", err)
	}
	return img, nil
}

// EncodePNG renders an image back to PNG bytes. Used when persisting cache
// reference screenshots as decodable assets.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Percent returns the percentage of pixels that differ between a and b,
// computed as (differing_pixels / total_pixels) * 100. Pixels whose channels
// all fall within tolerance are treated as equal. Images with mismatched
// dimensions are 100% different.
func Percent(a, b image.Image, tolerance uint8) float64 {
	ba, bb := a.Bounds(), b.Bounds()
	if ba.Dx() != bb.Dx() || ba.Dy() != bb.Dy() {
		return 100.0
	}
	total := ba.Dx() * ba.Dy()
	if total == 0 {
		return 0
	}

	differing := 0
	for y := 0; y < ba.Dy(); y++ {
		for x := 0; x < ba.Dx(); x++ {
			pa := color.RGBAModel.Convert(a.At(ba.Min.X+x, ba.Min.Y+y)).(color.RGBA)
			pb := color.RGBAModel.Convert(b.At(bb.Min.X+x, bb.Min.Y+y)).(color.RGBA)
			if !within(pa.R, pb.R, tolerance) ||
				!within(pa.G, pb.G, tolerance) ||
				!within(pa.B, pb.B, tolerance) {
				differing++
			}
		}
	}
	return float64(differing) / float64(total) * 100.0
}

// Similarity converts a diff percentage into a 0..1 closeness score.
func Similarity(diffPercent float64) float64 {
	return 1.0 - diffPercent/100.0
}

// Round2 rounds a percentage to two decimal places for reporting. Threshold
// comparisons always use the unrounded value.
func Round2(pct float64) float64 {
	return math.Round(pct*100) / 100
}

func within(a, b, tolerance uint8) bool {
	if a > b {
		return a-b <= tolerance
	}
	return b-a <= tolerance
}
