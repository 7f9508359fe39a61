package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"cropsense/internal/chunking"
)

var ErrNoExtractableText = errors.New("no extractable text found in PDF")

// ExtractPDF pulls plain text out of each page of the PDF at path.
// Pages that fail to decode or yield no text are skipped; the result
// keeps 1-based page numbers so chunks can cite their origin.
func ExtractPDF(path string) ([]chunking.TextItem, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	items := make([]chunking.TextItem, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = sanitizeText(strings.TrimSpace(text))
		if text == "" {
			continue
		}
		items = append(items, chunking.TextItem{Text: text, Page: i})
	}
	if len(items) == 0 {
		return nil, ErrNoExtractableText
	}
	return items, nil
}

// FileSHA256 hashes the file at path. The hex digest doubles as a
// re-ingestion guard: an unchanged file keeps its hash and is skipped.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for hash: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sanitizeText removes bytes and control characters that Postgres text
// columns reject (especially NUL / 0x00 from some PDF extractors).
func sanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\x00", "")

	r := make([]rune, 0, len(s))
	for _, ch := range s {
		if ch == '\n' || ch == '\r' || ch == '\t' {
			r = append(r, ch)
			continue
		}
		if ch < 0x20 || ch == 0x7f {
			continue
		}
		r = append(r, ch)
	}
	return string(r)
}
