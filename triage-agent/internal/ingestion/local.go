package ingestion

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for file types that cannot be ingested.
var ErrUnsupported = errors.New("unsupported file type")

var (
	textExt  = []string{".pdf", ".txt", ".md"}
	imageExt = []string{".png", ".jpg", ".jpeg"}
)

// LoadLocalFiles walks root and returns every supported file, in lexical
// order.
func LoadLocalFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if Supported(path) {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// Supported reports whether path has an ingestible extension.
func Supported(path string) bool {
	return hasExt(path, textExt) || isImage(path)
}

func isImage(path string) bool { return hasExt(path, imageExt) }

func hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, a := range exts {
		if ext == a {
			return true
		}
	}
	return false
}
