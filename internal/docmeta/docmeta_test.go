package docmeta

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/llm"
	"docqa/internal/parser"
)

type stubProvider struct {
	response string
	err      error
}

func (s stubProvider) Invoke(context.Context, []llm.Message) (string, error) {
	return s.response, s.err
}

func (s stubProvider) Stream(ctx context.Context, msgs []llm.Message, onToken func(string) error) error {
	if s.err != nil {
		return s.err
	}
	return onToken(s.response)
}

func TestParseResponseAllFields(t *testing.T) {
	response := `Title: Attention Is All You Need
Author(s): Vaswani, Shazeer, Parmar
Institution(s): Google Brain
Date/Year: 2017
Abstract: We propose a new architecture,
the Transformer.
Keywords: attention, transformer
Document Type: paper`

	meta := parseResponse(response, "attention.pdf")
	assert.Equal(t, "Attention Is All You Need", meta.Title)
	assert.Equal(t, "Vaswani, Shazeer, Parmar", meta.Authors)
	assert.Equal(t, "Google Brain", meta.Institutions)
	assert.Equal(t, "2017", meta.Date)
	assert.Equal(t, "We propose a new architecture, the Transformer.", meta.Abstract)
	assert.Equal(t, "attention, transformer", meta.Keywords)
	assert.Equal(t, "paper", meta.DocumentType)
	assert.Equal(t, "attention.pdf", meta.Filename)
}

func TestParseResponseAliases(t *testing.T) {
	meta := parseResponse("Author: Ada Lovelace\nYear: 1843\nType: report", "notes.pdf")
	assert.Equal(t, "Ada Lovelace", meta.Authors)
	assert.Equal(t, "1843", meta.Date)
	assert.Equal(t, "report", meta.DocumentType)
	assert.Equal(t, "Not found", meta.Title)
}

func TestParseResponseMissingFields(t *testing.T) {
	meta := parseResponse("Title: Something", "f.pdf")
	assert.Equal(t, "Something", meta.Title)
	assert.Equal(t, "Not found", meta.Authors)
	assert.Equal(t, "Not found", meta.Abstract)
}

func TestExtractFastPathUsesPDFMetadata(t *testing.T) {
	e := NewExtractor(nil, false)
	meta := e.Extract(context.Background(), "whatever", "a.pdf", &parser.PDFMetadata{
		Title:  "PDF Title",
		Author: "Ada",
	})
	assert.Equal(t, "PDF Title", meta.Title)
	assert.Equal(t, "Ada", meta.Authors)
	assert.Equal(t, "Not found", meta.Institutions)
}

func TestExtractLLMFailureFallsBack(t *testing.T) {
	e := NewExtractor(stubProvider{err: errors.New("timeout")}, true)
	meta := e.Extract(context.Background(), "text", "a.pdf", &parser.PDFMetadata{Author: "Ada"})
	assert.Equal(t, "Ada", meta.Authors)
	assert.Equal(t, "Not found", meta.Title)
}

func TestExtractLLMPath(t *testing.T) {
	e := NewExtractor(stubProvider{response: "Title: From LLM\nAuthor(s): Bob"}, true)
	meta := e.Extract(context.Background(), "text", "a.pdf", nil)
	assert.Equal(t, "From LLM", meta.Title)
	assert.Equal(t, "Bob", meta.Authors)
}

func TestComposeChunkParaphrases(t *testing.T) {
	chunk := ComposeChunk(Metadata{
		Title:        "Tables Considered Useful",
		Authors:      "Ada",
		Institutions: "Analytical Engine Society",
		Date:         "1843",
		Abstract:     "Not found",
		Keywords:     "Not found",
		DocumentType: "paper",
	}, "a.pdf")

	require.True(t, strings.HasPrefix(chunk, "=== DOCUMENT METADATA ==="))
	require.True(t, strings.HasSuffix(chunk, "=== END METADATA ==="))
	assert.Contains(t, chunk, "Filename: a.pdf")
	assert.Contains(t, chunk, "Author(s): Ada")
	assert.Contains(t, chunk, "This document was written by: Ada")
	assert.Contains(t, chunk, "The author of this paper is: Ada")
	assert.Contains(t, chunk, "Affiliation: Analytical Engine Society")
	assert.Contains(t, chunk, "Published: 1843")
	assert.NotContains(t, chunk, "Abstract")
	assert.NotContains(t, chunk, "Keywords")
}

func TestComposeChunkSkipsNotFound(t *testing.T) {
	chunk := ComposeChunk(emptyMetadata("x.pdf"), "x.pdf")
	assert.NotContains(t, chunk, "Not found")
	assert.Contains(t, chunk, "Filename: x.pdf")
}
