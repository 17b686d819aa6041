package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Document is one local file ready for the knowledge store. Images are
// passed through as bytes so the configured analyzer describes them.
type Document struct {
	Path       string
	Source     string
	Title      string
	ImportedAt time.Time
	Text       string
	Image      []byte
}

// Loader reads local files into documents.
type Loader struct {
	// ScannedPDF OCRs PDFs without a text layer. Nil skips them.
	ScannedPDF func(path string) (string, error)
	Now        func() time.Time
}

// Load reads path. Source is "local:" plus the file name.
func (l Loader) Load(path string) (Document, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	base := filepath.Base(path)
	doc := Document{
		Path:       path,
		Source:     "local:" + base,
		Title:      strings.TrimSuffix(base, filepath.Ext(base)),
		ImportedAt: now().UTC(),
	}

	if isImage(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return Document{}, err
		}
		doc.Image = data
		return doc, nil
	}

	text, err := l.ExtractText(path)
	if err != nil {
		return Document{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Document{}, fmt.Errorf("%s: no text found", path)
	}
	doc.Text = text
	return doc, nil
}
