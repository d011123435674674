package extract

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestExtractBytes_Accepted(t *testing.T) {
	e := NewExtractor()
	tests := []struct {
		name    string
		file    string
		content []byte
		want    string
	}{
		{"txt", "notes.txt", []byte("Hello world\nLine 2"), "Hello world\nLine 2"},
		{"markdown upper case", "README.MD", []byte("# Title\n\nbody"), "# Title\n\nbody"},
		{"valid utf8", "cafe.md", []byte("caf\xc3\xa9"), "café"},
		{"invalid utf8 replaced", "bad.txt", []byte("hello\x80world"), "hello\ufffdworld"},
		{"bom stripped", "bom.txt", []byte("\xef\xbb\xbfhello"), "hello"},
		{"sniffed plain text", "notes.log", []byte("just some plain text\nwith lines\n"), "just some plain text\nwith lines\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ExtractBytes(tt.content, tt.file)
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractBytes_Unsupported(t *testing.T) {
	e := NewExtractor()
	tests := []struct {
		name    string
		file    string
		content []byte
	}{
		{"pdf", "paper.pdf", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n")},
		{"png", "image.png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")},
		{"zip named docx", "report.docx", []byte("PK\x03\x04\x14\x00\x06\x00")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.ExtractBytes(tt.content, tt.file)
			var ufe *UnsupportedFileTypeError
			if !errors.As(err, &ufe) {
				t.Fatalf("expected UnsupportedFileTypeError, got %v", err)
			}
			if ufe.Name != tt.file || ufe.MIME == "" {
				t.Errorf("got %+v", ufe)
			}
		})
	}
}

func TestNewExtractor_CustomExtensions(t *testing.T) {
	e := NewExtractor("RST", ".Text", " ")
	if !e.HasSupportedExtension("guide.rst") || !e.HasSupportedExtension("a.text") {
		t.Error("custom extensions should be normalised and accepted")
	}
	if e.HasSupportedExtension("a.md") {
		t.Error("custom list replaces the defaults")
	}
}

func TestExtract_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	if err := os.WriteFile(path, []byte("from disk"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "from disk" {
		t.Errorf("got %q", got)
	}
	if _, err := NewExtractor().Extract(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Error("expected error for missing file")
	}
}
