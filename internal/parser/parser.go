// Package parser extracts plain text from the supported upload formats
// (PDF, DOCX, TXT, Markdown) plus the auxiliary PDF accessors used by
// metadata extraction.
package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedFileType marks extensions outside the supported set.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// TextExtractionError wraps extraction failures with the offending path.
type TextExtractionError struct {
	Path string
	Err  error
}

func (e *TextExtractionError) Error() string {
	return fmt.Sprintf("text extraction failed for %s: %v", e.Path, e.Err)
}

func (e *TextExtractionError) Unwrap() error { return e.Err }

// StructuredConverter is an optional richer PDF-to-text path (e.g. a layout
// aware converter preserving tables as Markdown). Absence or failure falls
// back to the plain page extractor.
type StructuredConverter interface {
	Convert(ctx context.Context, path string) (string, error)
}

// Parser dispatches on file extension.
type Parser struct {
	converter StructuredConverter
}

func New(converter StructuredConverter) *Parser {
	return &Parser{converter: converter}
}

// ExtractText returns the document's plain text.
func (p *Parser) ExtractText(ctx context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return p.extractPDF(ctx, path)
	case ".docx":
		return extractDOCX(path)
	case ".txt", ".md":
		return extractPlainText(path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Ext(path))
	}
}

// extractPlainText reads the file as UTF-8, replacing invalid sequences.
func extractPlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &TextExtractionError{Path: path, Err: err}
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	return strings.ToValidUTF8(string(data), string(utf8.RuneError)), nil
}
