// Package indexer provides document chunking and ingestion into the vector store.
package indexer

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Chunking defaults, in estimated tokens.
const (
	DefaultMaxChunkSize = 800
	DefaultChunkOverlap = 100
)

const (
	// charsPerToken is the fixed token estimate: one token per four characters.
	charsPerToken = 4
	// minChunkLength drops stray fragments; chunks must be longer than this.
	minChunkLength = 20
)

var sentenceTerminators = regexp.MustCompile(`[.!?]+`)

// Chunker splits text into overlapping, sentence-aligned chunks.
type Chunker struct {
	maxChunkSize int
	overlap      int
}

// NewChunker creates a chunker. maxChunkSize and overlap are in estimated tokens;
// non-positive sizes fall back to the defaults and a negative overlap disables it.
func NewChunker(maxChunkSize, overlap int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Chunker{
		maxChunkSize: maxChunkSize,
		overlap:      overlap,
	}
}

// Chunk splits text using the chunker's settings.
func (c *Chunker) Chunk(text string) []string {
	return ChunkText(text, c.maxChunkSize, c.overlap)
}

// ChunkText splits text into chunks of at most roughly maxChunkSize tokens.
//
// Text is split into sentences on runs of '.', '!' and '?'. Sentences are
// accumulated into a chunk, joined by ". ", until adding the next one would push
// the estimated token count (characters / 4) past maxChunkSize. The chunk is then
// sealed and the next chunk starts with the last overlap/4 words of the sealed one.
// Chunks of 20 characters or fewer are dropped. The result is deterministic.
func ChunkText(text string, maxChunkSize, overlap int) []string {
	sentences := splitSentences(text)
	overlapWords := overlap / charsPerToken

	var chunks []string
	current := ""
	for _, sentence := range sentences {
		estimated := float64(utf8.RuneCountInString(current)+utf8.RuneCountInString(sentence)) / charsPerToken
		if estimated > float64(maxChunkSize) && current != "" {
			sealed := strings.TrimSpace(current)
			chunks = append(chunks, sealed)
			if tail := trailingWords(sealed, overlapWords); tail != "" {
				current = tail + " " + sentence
			} else {
				current = sentence
			}
			continue
		}
		if current != "" {
			current += ". "
		}
		current += sentence
	}
	if last := strings.TrimSpace(current); last != "" {
		chunks = append(chunks, last)
	}

	kept := chunks[:0]
	for _, ch := range chunks {
		if utf8.RuneCountInString(strings.TrimSpace(ch)) > minChunkLength {
			kept = append(kept, ch)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func splitSentences(text string) []string {
	parts := sentenceTerminators.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// trailingWords returns the last n space-separated words of s. Only ' '
// separates words, so newlines and tabs stay inside the carried text.
func trailingWords(s string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Split(s, " ")
	if n < len(words) {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}
