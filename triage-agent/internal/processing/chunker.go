package processing

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var paragraphBreak = regexp.MustCompile(`\n{2,}`)

// Chunker splits text into bounded, overlapping chunks. Size and Overlap are
// measured in runes.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker returns a chunker, clamping overlap into [0, size).
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split packs consecutive paragraphs into chunks of at most Size runes.
// Paragraphs longer than Size are cut into windows overlapping by Overlap.
func (c Chunker) Split(text string) []string {
	var out []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, p := range paragraphBreak.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n := utf8.RuneCountInString(p)
		if n > c.Size {
			flush()
			out = append(out, splitLong(p, c.Size, c.Overlap)...)
			continue
		}
		if curLen > 0 && curLen+2+n > c.Size {
			flush()
		}
		if curLen > 0 {
			cur.WriteString("\n\n")
			curLen += 2
		}
		cur.WriteString(p)
		curLen += n
	}
	flush()
	return out
}

func splitLong(s string, max, overlap int) []string {
	runes := []rune(s)
	if len(runes) <= max {
		return []string{s}
	}
	var res []string
	for i := 0; i < len(runes); i += (max - overlap) {
		end := i + max
		if end > len(runes) {
			end = len(runes)
		}
		if chunk := strings.TrimSpace(string(runes[i:end])); chunk != "" {
			res = append(res, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return res
}
