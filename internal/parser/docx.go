package parser

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCX is a zip archive; paragraphs live in word/document.xml as w:p
// elements whose text runs are w:t elements.
type docxDocument struct {
	Body docxBody `xml:"body"`
}

type docxBody struct {
	Paragraphs []docxParagraph `xml:"p"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Texts []string `xml:"t"`
}

func extractDOCX(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", &TextExtractionError{Path: path, Err: fmt.Errorf("opening docx: %w", err)}
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", &TextExtractionError{Path: path, Err: fmt.Errorf("word/document.xml not found")}
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", &TextExtractionError{Path: path, Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", &TextExtractionError{Path: path, Err: err}
	}

	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", &TextExtractionError{Path: path, Err: fmt.Errorf("parsing document.xml: %w", err)}
	}

	var sb strings.Builder
	for _, para := range doc.Body.Paragraphs {
		var text strings.Builder
		for _, run := range para.Runs {
			for _, t := range run.Texts {
				text.WriteString(t)
			}
		}
		if s := text.String(); strings.TrimSpace(s) != "" {
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}
