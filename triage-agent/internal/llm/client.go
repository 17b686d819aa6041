package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/metrics"
)

// ErrEmptyResponse is returned when the model answers with no usable text.
var ErrEmptyResponse = errors.New("empty model response")

// Message is one chat message sent to the model.
type Message struct {
	Role    string
	Content string
}

// System, User and Assistant build messages with the matching role.
func System(content string) Message    { return Message{Role: openai.ChatMessageRoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: openai.ChatMessageRoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: openai.ChatMessageRoleAssistant, Content: content} }

// Completer produces one chat completion. Stage implementations depend on
// this instead of the concrete client so tests can script replies.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Options configures the hosted-model client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	// InitialBackoff is the first retry delay; zero means 500ms.
	InitialBackoff time.Duration
}

// Client wraps the OpenAI-compatible API with per-call timeouts and retry.
type Client struct {
	api  *openai.Client
	opts Options
	log  zerolog.Logger
}

// NewClient creates a client for an OpenAI-compatible endpoint.
func NewClient(opts Options, log zerolog.Logger) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &Client{
		api:  openai.NewClientWithConfig(cfg),
		opts: opts,
		log:  log.With().Str("component", "llm").Str("model", opts.Model).Logger(),
	}
}

// Complete sends the messages and returns the trimmed text of the first choice.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return c.chat(ctx, req)
}

// CompleteWithImage sends a single user turn made of a text prompt and an
// image given as a data URL.
func (c *Client) CompleteWithImage(ctx context.Context, model, prompt, dataURL string) (string, error) {
	if model == "" {
		model = c.opts.Model
	}
	req := openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: c.opts.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	}
	return c.chat(ctx, req)
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := retryWithData(c.policy(ctx), func() (openai.EmbeddingResponse, error) {
		return c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(model),
		})
	})
	metrics.ObserveExternal("openai_embeddings", err)
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (c *Client) chat(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := retryWithData(c.policy(ctx), func() (openai.ChatCompletionResponse, error) {
		return c.api.CreateChatCompletion(ctx, req)
	})
	metrics.ObserveExternal("openai_chat", err)
	if err != nil {
		c.log.Error().Err(err).Msg("chat completion failed")
		return "", fmt.Errorf("chat completion: %w", err)
	}

	c.log.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("chat completion")

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxElapsedTime = c.opts.Timeout
	var retries uint64
	if c.opts.MaxRetries > 0 {
		retries = uint64(c.opts.MaxRetries)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

func retryWithData[T any](b backoff.BackOff, op func() (T, error)) (T, error) {
	return backoff.RetryWithData(func() (T, error) {
		v, err := op()
		if err != nil && !Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, b)
}

// Retryable reports whether a failed call may succeed when repeated:
// rate limiting and server-side failures are, client errors are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	// transport errors
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
