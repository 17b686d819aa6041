// Package vision turns medical images into text descriptions.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrVisionUnavailable covers every reason an image could not be described:
// the backend is unreachable or disabled, or the payload was rejected.
var ErrVisionUnavailable = errors.New("vision unavailable")

// AnalysisPrompt asks a vision model for a structured medical description.
const AnalysisPrompt = `You are a medical imaging assistant. Analyze this medical image.

Please provide:
1. Type of medical image (X-ray, CT scan, MRI, photo of skin, etc.)
2. Body part or area shown
3. Key findings and observations
4. Any abnormalities or areas of concern
5. Relevant medical features visible

Be specific and detailed in your medical analysis.`

// Analyzer describes an image. Implementations are stateless and safe for
// concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte) (string, error)
}

// Validate checks the payload before any backend call and returns its
// sniffed MIME type.
func Validate(data []byte, maxBytes int64) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrVisionUnavailable)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: image exceeds max size of %d bytes", ErrVisionUnavailable, maxBytes)
	}
	mimeType := mimetype.Detect(data).String()
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("%w: unsupported mime type %s", ErrVisionUnavailable, mimeType)
	}
	return mimeType, nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL accepts either a base64 data URL or bare base64.
func DecodeDataURL(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("image data is required")
	}
	if strings.HasPrefix(value, "data:") {
		parts := strings.SplitN(value, ",", 2)
		if len(parts) != 2 {
			return nil, errors.New("invalid data url")
		}
		if !strings.Contains(parts[0], ";base64") {
			return nil, errors.New("data url must be base64 encoded")
		}
		value = parts[1]
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return data, nil
}

// Disabled always reports the analyzer as unavailable.
type Disabled struct{}

func (Disabled) Analyze(context.Context, []byte) (string, error) {
	return "", fmt.Errorf("%w: no vision provider configured", ErrVisionUnavailable)
}
