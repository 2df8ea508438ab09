package parser

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

// PDFMetadata carries the fields of the PDF Info dictionary.
type PDFMetadata struct {
	Title        string
	Author       string
	Subject      string
	Creator      string
	Producer     string
	CreationDate string
	NumPages     int
}

// extractPDF tries the structured converter first and falls back to the
// page-by-page text extractor when the converter is absent, fails, or
// produces an empty result.
func (p *Parser) extractPDF(ctx context.Context, path string) (string, error) {
	if p.converter != nil {
		text, err := p.converter.Convert(ctx, path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("structured conversion failed, falling back to plain extraction")
		} else if strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	return extractPDFPages(path)
}

func extractPDFPages(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", &TextExtractionError{Path: path, Err: err}
	}
	defer f.Close()

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Int("page", i).Msg("skipping unreadable page")
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// ExtractFirstPagesText returns the text of the first numPages pages, capped
// at maxChars runes. Used to build the metadata extraction prompt.
func (p *Parser) ExtractFirstPagesText(path string, numPages, maxChars int) (string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		text, err := p.ExtractText(context.Background(), path)
		if err != nil {
			return "", err
		}
		return capRunes(text, maxChars), nil
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", &TextExtractionError{Path: path, Err: err}
	}
	defer f.Close()

	var sb strings.Builder
	limit := reader.NumPage()
	if numPages > 0 && numPages < limit {
		limit = numPages
	}
	for i := 1; i <= limit; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return capRunes(sb.String(), maxChars), nil
}

// ExtractPDFMetadata reads the Info dictionary and page count.
func (p *Parser) ExtractPDFMetadata(path string) (*PDFMetadata, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, &TextExtractionError{Path: path, Err: err}
	}
	defer f.Close()

	meta := &PDFMetadata{NumPages: reader.NumPage()}
	info := reader.Trailer().Key("Info")
	if !info.IsNull() {
		meta.Title = infoString(info, "Title")
		meta.Author = infoString(info, "Author")
		meta.Subject = infoString(info, "Subject")
		meta.Creator = infoString(info, "Creator")
		meta.Producer = infoString(info, "Producer")
		meta.CreationDate = infoString(info, "CreationDate")
	}
	return meta, nil
}

func infoString(info pdf.Value, key string) string {
	v := info.Key(key)
	if v.IsNull() {
		return ""
	}
	return strings.TrimSpace(v.Text())
}

func capRunes(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
