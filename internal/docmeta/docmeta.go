// Package docmeta extracts bibliographic fields from a document and composes
// the metadata chunk injected at parent index 0. Two modes: a fast path that
// only reads the PDF Info dictionary, and an LLM path that prompts for seven
// structured fields and parses the line-prefixed response.
package docmeta

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"docqa/internal/llm"
	"docqa/internal/parser"
)

const notFound = "Not found"

const extractionPrompt = `You are a document metadata extractor. Analyze the provided document text and extract key metadata.

Extract the following information if available:
- Title: The title of the document/paper/article
- Author(s): Names of all authors (comma-separated)
- Institution(s): Universities, companies, or organizations
- Date/Year: Publication or creation date
- Abstract: A brief summary (if explicitly present)
- Keywords: Key topics or terms
- Document Type: paper, thesis, report, article, manual, etc.

IMPORTANT RULES:
1. Only extract information that is EXPLICITLY stated in the text
2. If information is not found, use "Not found" for that field
3. For authors, list ALL names you can find
4. Be precise - don't guess or infer

Respond in this exact format (keep the field names exactly as shown):
Title: [extracted title or "Not found"]
Author(s): [names or "Not found"]
Institution(s): [names or "Not found"]
Date/Year: [date or "Not found"]
Abstract: [abstract text or "Not found"]
Keywords: [keywords or "Not found"]
Document Type: [type or "Not found"]`

// fieldAliases maps recognized line prefixes (lowercased) to field names.
// Order matters: longer prefixes must match before their shorter variants.
var fieldAliases = []struct {
	prefix string
	field  string
}{
	{"title:", "title"},
	{"author(s):", "authors"},
	{"author:", "authors"},
	{"institution(s):", "institutions"},
	{"institution:", "institutions"},
	{"date/year:", "date"},
	{"date:", "date"},
	{"year:", "date"},
	{"abstract:", "abstract"},
	{"keywords:", "keywords"},
	{"document type:", "document_type"},
	{"type:", "document_type"},
}

// Metadata holds the seven extracted fields plus the filename.
type Metadata struct {
	Title        string
	Authors      string
	Institutions string
	Date         string
	Abstract     string
	Keywords     string
	DocumentType string
	Filename     string
}

func emptyMetadata(filename string) Metadata {
	return Metadata{
		Title:        notFound,
		Authors:      notFound,
		Institutions: notFound,
		Date:         notFound,
		Abstract:     notFound,
		Keywords:     notFound,
		DocumentType: notFound,
		Filename:     filename,
	}
}

func (m *Metadata) set(field, value string) {
	switch field {
	case "title":
		m.Title = value
	case "authors":
		m.Authors = value
	case "institutions":
		m.Institutions = value
	case "date":
		m.Date = value
	case "abstract":
		m.Abstract = value
	case "keywords":
		m.Keywords = value
	case "document_type":
		m.DocumentType = value
	}
}

// Extractor resolves metadata via the LLM or the PDF fast path.
type Extractor struct {
	provider llm.Provider
	useLLM   bool
}

func NewExtractor(provider llm.Provider, useLLM bool) *Extractor {
	return &Extractor{provider: provider, useLLM: useLLM}
}

// Extract resolves the metadata for a document. pdfMeta may be nil for
// non-PDF inputs. With the LLM path disabled or failing, the PDF fields are
// used directly.
func (e *Extractor) Extract(ctx context.Context, firstPagesText, filename string, pdfMeta *parser.PDFMetadata) Metadata {
	if !e.useLLM || e.provider == nil {
		return fallbackMetadata(filename, pdfMeta)
	}

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: extractionPrompt},
		{Role: llm.RoleUser, Content: buildUserPrompt(firstPagesText, filename, pdfMeta)},
	}
	response, err := e.provider.Invoke(ctx, msgs)
	if err != nil {
		log.Error().Err(err).Str("filename", filename).Msg("llm metadata extraction failed, using fast path")
		return fallbackMetadata(filename, pdfMeta)
	}
	return parseResponse(response, filename)
}

func buildUserPrompt(firstPagesText, filename string, pdfMeta *parser.PDFMetadata) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Filename: %s", filename)
	if pdfMeta != nil {
		var parts []string
		if pdfMeta.Title != "" {
			parts = append(parts, "PDF Title: "+pdfMeta.Title)
		}
		if pdfMeta.Author != "" {
			parts = append(parts, "PDF Author: "+pdfMeta.Author)
		}
		if pdfMeta.Subject != "" {
			parts = append(parts, "PDF Subject: "+pdfMeta.Subject)
		}
		if pdfMeta.NumPages > 0 {
			parts = append(parts, fmt.Sprintf("Total Pages: %d", pdfMeta.NumPages))
		}
		if len(parts) > 0 {
			sb.WriteString("\n\nPDF Metadata:\n")
			sb.WriteString(strings.Join(parts, "\n"))
		}
	}
	fmt.Fprintf(&sb, "\n\nDocument text (first pages):\n\n%s", firstPagesText)
	return sb.String()
}

// parseResponse prefix-matches each line against the alias table. Lines that
// match no prefix continue the value of the current field.
func parseResponse(response, filename string) Metadata {
	meta := emptyMetadata(filename)

	currentField := ""
	var currentValue []string
	flush := func() {
		if currentField != "" && len(currentValue) > 0 {
			meta.set(currentField, strings.TrimSpace(strings.Join(currentValue, " ")))
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(response), "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		matched := false
		for _, alias := range fieldAliases {
			if strings.HasPrefix(lower, alias.prefix) {
				flush()
				currentField = alias.field
				value := strings.TrimSpace(strings.TrimSpace(line)[len(alias.prefix):])
				currentValue = currentValue[:0]
				if value != "" {
					currentValue = append(currentValue, value)
				}
				matched = true
				break
			}
		}
		if !matched && currentField != "" && strings.TrimSpace(line) != "" {
			currentValue = append(currentValue, strings.TrimSpace(line))
		}
	}
	flush()
	return meta
}

func fallbackMetadata(filename string, pdfMeta *parser.PDFMetadata) Metadata {
	meta := emptyMetadata(filename)
	if pdfMeta != nil {
		if pdfMeta.Title != "" {
			meta.Title = pdfMeta.Title
		}
		if pdfMeta.Author != "" {
			meta.Authors = pdfMeta.Author
		}
	}
	return meta
}

// ComposeChunk builds the metadata chunk string: a framed block listing the
// recognized fields, with author/institution/date expanded into paraphrase
// lines so that "who wrote X" style queries hit it.
func ComposeChunk(meta Metadata, documentName string) string {
	parts := []string{
		"=== DOCUMENT METADATA ===",
		"Filename: " + documentName,
	}

	if present(meta.Title) {
		parts = append(parts, "Title: "+meta.Title)
	}
	if present(meta.Authors) {
		parts = append(parts,
			"Author(s): "+meta.Authors,
			"This document was written by: "+meta.Authors,
			"The author of this paper is: "+meta.Authors,
		)
	}
	if present(meta.Institutions) {
		parts = append(parts,
			"Institution(s): "+meta.Institutions,
			"Affiliation: "+meta.Institutions,
		)
	}
	if present(meta.Date) {
		parts = append(parts,
			"Date/Year: "+meta.Date,
			"Published: "+meta.Date,
		)
	}
	if present(meta.DocumentType) {
		parts = append(parts, "Document Type: "+meta.DocumentType)
	}
	if present(meta.Keywords) {
		parts = append(parts, "Keywords: "+meta.Keywords)
	}
	if present(meta.Abstract) {
		parts = append(parts, "\nAbstract:\n"+meta.Abstract)
	}

	parts = append(parts, "=== END METADATA ===")
	return strings.Join(parts, "\n")
}

func present(value string) bool {
	return value != "" && value != notFound
}
