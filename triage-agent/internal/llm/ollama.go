package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/metrics"
)

// request body for Ollama
type generateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
}

// Ollama streaming response chunks look like { "response": "...", "done": false }
type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// OllamaClient completes prompts against a local Ollama server.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewOllamaClient(baseURL, model string, timeout time.Duration, log zerolog.Logger) *OllamaClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "llm").Str("provider", "ollama").Str("model", model).Logger(),
	}
}

// Complete folds system messages into the system prompt and the rest of the
// conversation into a role-labelled transcript.
func (c *OllamaClient) Complete(ctx context.Context, messages []Message) (string, error) {
	var system []string
	var prompt strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			prompt.WriteString("Assistant: ")
			prompt.WriteString(m.Content)
			prompt.WriteString("\n\n")
		default:
			prompt.WriteString(m.Content)
			prompt.WriteString("\n\n")
		}
	}

	out, err := c.generate(ctx, generateRequest{
		Model:  c.model,
		System: strings.Join(system, "\n\n"),
		Prompt: strings.TrimSpace(prompt.String()),
	})
	metrics.ObserveExternal("ollama_generate", err)
	if err != nil {
		c.log.Error().Err(err).Msg("generate failed")
		return "", err
	}
	return out, nil
}

func (c *OllamaClient) generate(ctx context.Context, body generateRequest) (string, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("creating ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama error: %d - %s", resp.StatusCode, string(b))
	}

	// Read streaming response
	var out strings.Builder
	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk generateChunk
		if err := decoder.Decode(&chunk); err == io.EOF {
			break
		} else if err != nil {
			return "", fmt.Errorf("decoding ollama response: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama error: %s", chunk.Error)
		}
		out.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
