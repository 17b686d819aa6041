// Package ocr reads text out of scanned documents and images with a local
// Tesseract install.
package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/vision"
)

// Analyzer describes an image by the text Tesseract finds in it.
type Analyzer struct {
	MaxBytes  int64
	Languages []string
}

func (a Analyzer) Analyze(ctx context.Context, data []byte) (string, error) {
	if _, err := vision.Validate(data, a.MaxBytes); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()
	if len(a.Languages) > 0 {
		if err := client.SetLanguage(a.Languages...); err != nil {
			return "", fmt.Errorf("%w: %v", vision.ErrVisionUnavailable, err)
		}
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("%w: %v", vision.ErrVisionUnavailable, err)
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("%w: %v", vision.ErrVisionUnavailable, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: no text recognised", vision.ErrVisionUnavailable)
	}
	return "Scanned text: " + text, nil
}

// ScannedPDF rasterises a PDF with pdftoppm (poppler) and OCRs each page.
func ScannedPDF(path string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "triage_pdfimg")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	if err := exec.Command("pdftoppm", "-png", path, prefix).Run(); err != nil {
		return "", fmt.Errorf("pdftoppm convert failed: %w", err)
	}
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return "", err
	}

	var combined strings.Builder
	for _, m := range matches {
		t, err := imageFile(m)
		if err != nil {
			continue
		}
		combined.WriteString(t)
		combined.WriteString("\n")
	}
	return strings.TrimSpace(combined.String()), nil
}

// File OCRs an image on disk.
func File(path string) (string, error) {
	return imageFile(path)
}

func imageFile(path string) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetImage(path); err != nil {
		return "", err
	}
	text, err := client.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
