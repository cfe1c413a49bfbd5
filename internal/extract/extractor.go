// Package extract turns note files and attachments into plain text.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extractor extracts plain text from note and attachment files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Formats lists the extensions with a dedicated extractor.
var Formats = []string{".md", ".markdown", ".txt", ".rst", ".pdf", ".xlsx", ".docx", ".odt", ".rtf"}

// IsMarkup reports whether ext is a text note format whose headings and code fences are meaningful.
func IsMarkup(ext string) bool {
	switch strings.ToLower(ext) {
	case ".md", ".markdown", ".txt", ".rst", "":
		return true
	}
	return false
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ExtractBytes extracts text from content based on ext, which includes the leading dot.
// Unknown extensions are treated as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".xlsx":
		return extractExcel(content)
	case ".docx", ".odt", ".rtf":
		return extractOffice(content, ext)
	default:
		return extractPlain(content)
	}
}
