// Package extract gates uploads to plain text and markdown and returns their text.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultExtensions are the file extensions accepted without content sniffing.
var DefaultExtensions = []string{".txt", ".md"}

const plainTextMIME = "text/plain"

// UnsupportedFileTypeError is returned for files that are neither plain text nor markdown.
type UnsupportedFileTypeError struct {
	Name string
	MIME string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("unsupported file type for %q (%s): only plain text and markdown files are accepted", e.Name, e.MIME)
}

// Extractor extracts text from accepted document files.
type Extractor struct {
	extensions map[string]struct{}
}

// NewExtractor returns an Extractor accepting the given extensions (with leading dot,
// case-insensitive), or DefaultExtensions when none are given. Files with other
// extensions are still accepted when their content sniffs as text/plain.
func NewExtractor(extensions ...string) *Extractor {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	e := &Extractor{extensions: make(map[string]struct{}, len(extensions))}
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		e.extensions[ext] = struct{}{}
	}
	return e
}

// HasSupportedExtension reports whether name ends in an accepted extension.
func (e *Extractor) HasSupportedExtension(name string) bool {
	_, ok := e.extensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Base(path))
}

// ExtractBytes returns the text of content uploaded under name, or
// *UnsupportedFileTypeError when it is not a text or markdown file.
func (e *Extractor) ExtractBytes(content []byte, name string) (string, error) {
	if !e.HasSupportedExtension(name) {
		mtype := mimetype.Detect(content)
		if !mtype.Is(plainTextMIME) {
			return "", &UnsupportedFileTypeError{Name: name, MIME: mtype.String()}
		}
	}
	return extractPlain(content)
}
