// Package imagestore keeps uploaded medical images on disk next to a JSON
// metadata record per image.
package imagestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound    = errors.New("image not found")
	ErrInvalidID   = errors.New("invalid image id")
	ErrUnsupported = errors.New("unsupported image type")
)

var idPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

var allowedMIMEs = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
	"image/tiff": "tiff",
}

// Metadata describes one stored image.
type Metadata struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Analysis  string    `json:"analysis"`
	Path      string    `json:"path"`
	Format    string    `json:"format"`
	CreatedAt time.Time `json:"created_at"`
}

// ID derives the content id of an image: identical bytes give identical ids.
func ID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// Extension returns the file extension for a supported image payload.
func Extension(data []byte) (string, error) {
	mimeType := mimetype.Detect(data).String()
	ext, ok := allowedMIMEs[mimeType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}
	return ext, nil
}

// Store is a directory of images plus metadata/<id>.json records.
type Store struct {
	dir         string
	metadataDir string
	mu          sync.Mutex
	log         zerolog.Logger
}

// New creates the storage and metadata directories if needed.
func New(dir string, log zerolog.Logger) (*Store, error) {
	metadataDir := filepath.Join(dir, "metadata")
	if err := os.MkdirAll(metadataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create image storage %s: %w", dir, err)
	}
	return &Store{
		dir:         dir,
		metadataDir: metadataDir,
		log:         log.With().Str("component", "imagestore").Logger(),
	}, nil
}

// Save writes the image and its metadata. Saving bytes that are already
// stored returns the existing record untouched.
func (s *Store) Save(data []byte, source, analysis string) (Metadata, error) {
	ext, err := Extension(data)
	if err != nil {
		return Metadata{}, err
	}
	id := ID(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.load(id); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Metadata{}, err
	}

	path := filepath.Join(s.dir, id+"."+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Metadata{}, fmt.Errorf("write image: %w", err)
	}

	meta := Metadata{
		ID:        id,
		Source:    source,
		Analysis:  analysis,
		Path:      path,
		Format:    ext,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Metadata{}, err
	}
	if err := os.WriteFile(s.metadataPath(id), raw, 0o644); err != nil {
		os.Remove(path)
		return Metadata{}, fmt.Errorf("write metadata: %w", err)
	}

	s.log.Info().Str("image_id", id).Str("format", ext).Int("bytes", len(data)).Msg("image stored")
	return meta, nil
}

// Get returns the metadata of a stored image.
func (s *Store) Get(id string) (Metadata, error) {
	if !idPattern.MatchString(id) {
		return Metadata{}, ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

// List returns up to limit records, newest first.
func (s *Store) List(limit int) ([]Metadata, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(s.metadataDir)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read metadata dir: %w", err)
	}

	var out []Metadata
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		meta, err := s.Get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("skipping unreadable metadata")
			continue
		}
		out = append(out, meta)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes the image and its metadata.
func (s *Store) Delete(id string) error {
	if !idPattern.MatchString(id) {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.load(id)
	if err != nil {
		return err
	}
	if err := os.Remove(meta.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove image: %w", err)
	}
	if err := os.Remove(s.metadataPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove metadata: %w", err)
	}
	s.log.Info().Str("image_id", id).Msg("image deleted")
	return nil
}

func (s *Store) load(id string) (Metadata, error) {
	raw, err := os.ReadFile(s.metadataPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, ErrNotFound
		}
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode metadata %s: %w", id, err)
	}
	return meta, nil
}

func (s *Store) metadataPath(id string) string {
	return filepath.Join(s.metadataDir, id+".json")
}
