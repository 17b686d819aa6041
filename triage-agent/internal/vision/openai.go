package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ImageCompleter is the slice of the LLM client used for image prompts.
type ImageCompleter interface {
	CompleteWithImage(ctx context.Context, model, prompt, dataURL string) (string, error)
}

// OpenAIAnalyzer sends the image to a hosted multimodal chat model.
type OpenAIAnalyzer struct {
	client   ImageCompleter
	model    string
	maxBytes int64
	log      zerolog.Logger
}

func NewOpenAIAnalyzer(client ImageCompleter, model string, maxBytes int64, log zerolog.Logger) *OpenAIAnalyzer {
	return &OpenAIAnalyzer{
		client:   client,
		model:    model,
		maxBytes: maxBytes,
		log:      log.With().Str("component", "vision").Str("provider", "openai").Logger(),
	}
}

func (a *OpenAIAnalyzer) Analyze(ctx context.Context, data []byte) (string, error) {
	mimeType, err := Validate(data, a.maxBytes)
	if err != nil {
		return "", err
	}

	out, err := a.client.CompleteWithImage(ctx, a.model, AnalysisPrompt, DataURL(mimeType, data))
	if err != nil {
		a.log.Warn().Err(err).Msg("image analysis failed")
		return "", fmt.Errorf("%w: %v", ErrVisionUnavailable, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty analysis", ErrVisionUnavailable)
	}
	return out, nil
}
