package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExtractText returns the text of a .txt, .md or .pdf file. PDFs without a
// text layer go through ScannedPDF when it is set.
func (l Loader) ExtractText(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case ".pdf":
		// try text layer
		text, err := ExtractTextFromPDF(path)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		if l.ScannedPDF == nil {
			if err != nil {
				return "", err
			}
			return "", nil
		}
		return l.ScannedPDF(path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
}
