package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	gvision "google.golang.org/api/vision/v1"
	"google.golang.org/api/option"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/metrics"
)

// GoogleOptions configures the Cloud Vision client. With no APIKey the
// application default credentials are used.
type GoogleOptions struct {
	APIKey     string
	Endpoint   string
	HTTPClient *http.Client
}

// GoogleAnalyzer describes images from Cloud Vision labels and detected text.
type GoogleAnalyzer struct {
	svc      *gvision.Service
	maxBytes int64
	log      zerolog.Logger
}

func NewGoogleAnalyzer(ctx context.Context, opts GoogleOptions, maxBytes int64, log zerolog.Logger) (*GoogleAnalyzer, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.HTTPClient != nil:
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	case opts.APIKey != "":
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	default:
		ts, err := google.DefaultTokenSource(ctx, gvision.CloudVisionScope)
		if err != nil {
			return nil, fmt.Errorf("google default credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	svc, err := gvision.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create vision service: %w", err)
	}
	return &GoogleAnalyzer{
		svc:      svc,
		maxBytes: maxBytes,
		log:      log.With().Str("component", "vision").Str("provider", "google").Logger(),
	}, nil
}

func (a *GoogleAnalyzer) Analyze(ctx context.Context, data []byte) (string, error) {
	if _, err := Validate(data, a.maxBytes); err != nil {
		return "", err
	}

	req := &gvision.BatchAnnotateImagesRequest{
		Requests: []*gvision.AnnotateImageRequest{{
			Image: &gvision.Image{Content: base64.StdEncoding.EncodeToString(data)},
			Features: []*gvision.Feature{
				{Type: "LABEL_DETECTION", MaxResults: 10},
				{Type: "OBJECT_LOCALIZATION", MaxResults: 10},
				{Type: "TEXT_DETECTION"},
			},
		}},
	}
	resp, err := a.svc.Images.Annotate(req).Context(ctx).Do()
	metrics.ObserveExternal("google_vision", err)
	if err != nil {
		a.log.Warn().Err(err).Msg("annotate failed")
		return "", fmt.Errorf("%w: %v", ErrVisionUnavailable, err)
	}
	if len(resp.Responses) == 0 {
		return "", fmt.Errorf("%w: empty annotate response", ErrVisionUnavailable)
	}
	r := resp.Responses[0]
	if r.Error != nil && r.Error.Message != "" {
		return "", fmt.Errorf("%w: %s", ErrVisionUnavailable, r.Error.Message)
	}

	desc := describeAnnotations(r)
	if desc == "" {
		return "", fmt.Errorf("%w: nothing detected in image", ErrVisionUnavailable)
	}
	return desc, nil
}

func describeAnnotations(r *gvision.AnnotateImageResponse) string {
	var b strings.Builder
	if len(r.LabelAnnotations) > 0 {
		labels := make([]string, 0, len(r.LabelAnnotations))
		for _, l := range r.LabelAnnotations {
			labels = append(labels, fmt.Sprintf("%s (%.2f)", l.Description, l.Score))
		}
		b.WriteString("Image labels: ")
		b.WriteString(strings.Join(labels, ", "))
	}
	if len(r.LocalizedObjectAnnotations) > 0 {
		objects := make([]string, 0, len(r.LocalizedObjectAnnotations))
		for _, o := range r.LocalizedObjectAnnotations {
			objects = append(objects, fmt.Sprintf("%s (%.2f)", o.Name, o.Score))
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Objects: ")
		b.WriteString(strings.Join(objects, ", "))
	}
	// the first text annotation holds the full detected text
	if len(r.TextAnnotations) > 0 {
		if text := strings.TrimSpace(r.TextAnnotations[0].Description); text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString("Detected text: ")
			b.WriteString(text)
		}
	}
	return b.String()
}
