package parser

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTextUnsupportedExtension(t *testing.T) {
	p := New(nil)
	_, err := p.ExtractText(context.Background(), "file.xlsx")
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

func TestExtractPlainText(t *testing.T) {
	p := New(nil)
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world\nsecond line"), 0o644))

	text, err := p.ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "hello world\nsecond line", text)
}

func TestExtractPlainTextMarkdown(t *testing.T) {
	p := New(nil)
	path := filepath.Join(t.TempDir(), "readme.md")
	require.NoError(t, os.WriteFile(path, []byte("# Title"), 0o644))

	text, err := p.ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "# Title", text)
}

func TestExtractPlainTextInvalidUTF8(t *testing.T) {
	p := New(nil)
	path := filepath.Join(t.TempDir(), "broken.txt")
	require.NoError(t, os.WriteFile(path, []byte{'o', 'k', 0xff, 0xfe, '!'}, 0o644))

	text, err := p.ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, text, "ok")
	assert.Contains(t, text, "!")
	assert.True(t, len(text) > 0)
}

func writeTestDOCX(t *testing.T, dir string, documentXML string) string {
	t.Helper()
	path := filepath.Join(dir, "test.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

func TestExtractDOCX(t *testing.T) {
	xmlBody := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph</w:t></w:r></w:p>
    <w:p><w:r><w:t></w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph</w:t></w:r></w:p>
  </w:body>
</w:document>`
	path := writeTestDOCX(t, t.TempDir(), xmlBody)

	p := New(nil)
	text, err := p.ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "First paragraph\nSecond paragraph\n", text)
}

func TestExtractDOCXMissingDocumentXML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	p := New(nil)
	_, err = p.ExtractText(context.Background(), path)

	var extractErr *TextExtractionError
	assert.True(t, errors.As(err, &extractErr))
}

type fakeConverter struct {
	text string
	err  error
}

func (f fakeConverter) Convert(context.Context, string) (string, error) { return f.text, f.err }

func TestPDFConverterPreferred(t *testing.T) {
	p := New(fakeConverter{text: "# Converted\n|a|b|"})
	text, err := p.ExtractText(context.Background(), "any.pdf")
	require.NoError(t, err)
	assert.Equal(t, "# Converted\n|a|b|", text)
}

func TestPDFConverterEmptyFallsThrough(t *testing.T) {
	// Empty conversion falls back to the page extractor, which fails on a
	// nonexistent file; the converter result must not mask that.
	p := New(fakeConverter{text: "   "})
	_, err := p.ExtractText(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	var extractErr *TextExtractionError
	assert.True(t, errors.As(err, &extractErr))
}
