// Package textproc normalizes extracted text and splits it into pieces small
// enough for a single synthesis request.
package textproc

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkMaxChars is the largest chunk handed to the synthesizer.
	DefaultChunkMaxChars = 4000
	// DefaultMaxChunks caps the chunks synthesized for one job.
	DefaultMaxChunks = 80
)

var (
	hyphenBreak   = regexp.MustCompile(`([\p{L}\p{N}_])-\s*\n\s*([\p{L}\p{N}_])`)
	lineBreaks    = regexp.MustCompile(`[\n\r\t]+`)
	spaceRuns     = regexp.MustCompile(` +`)
	paragraphGaps = regexp.MustCompile(`\n\s*\n`)
)

// Clean joins words hyphenated across line breaks and flattens all
// whitespace runs into single spaces.
func Clean(raw string) string {
	text := hyphenBreak.ReplaceAllString(raw, "$1$2")
	text = lineBreaks.ReplaceAllString(text, " ")
	text = spaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Chunk packs paragraphs greedily into chunks of at most max characters,
// joined by a single space. A paragraph longer than max is cut into max-sized
// pieces. max <= 0 selects DefaultChunkMaxChars.
func Chunk(text string, max int) []string {
	if max <= 0 {
		max = DefaultChunkMaxChars
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var (
		chunks     []string
		current    []string
		currentLen int
	)
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
		}
		current = nil
		currentLen = 0
	}

	for _, para := range paragraphGaps.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := utf8.RuneCountInString(para)

		// Each paragraph costs one extra character for its separator.
		if currentLen+n+1 <= max {
			current = append(current, para)
			currentLen += n + 1
			continue
		}

		flush()
		if n > max {
			chunks = append(chunks, split(para, max)...)
			continue
		}
		current = []string{para}
		currentLen = n + 1
	}
	flush()

	return chunks
}

// Limit keeps at most maxChunks chunks and reports whether any were dropped.
func Limit(chunks []string, maxChunks int) ([]string, bool) {
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	if len(chunks) <= maxChunks {
		return chunks, false
	}
	return chunks[:maxChunks], true
}

func split(s string, size int) []string {
	runes := []rune(s)
	pieces := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		pieces = append(pieces, string(runes[i:end]))
	}
	return pieces
}
