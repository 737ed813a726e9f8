package services

import (
	"fmt"
	"os"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"regional-stats-chatbot/internal/logger"
)

// PageText is one page's raw extracted text. Text is empty for pages
// with no extractable content (scanned images, charts).
type PageText struct {
	Number int
	Text   string
}

// PDFExtractor reads a PDF page by page. Page-level failures are
// tolerated: a page that cannot be decoded comes back with empty text
// and is handled downstream as image-only.
type PDFExtractor struct {
	maxFileSize int64
}

func NewPDFExtractor(maxFileSize int64) *PDFExtractor {
	return &PDFExtractor{maxFileSize: maxFileSize}
}

// PageCount returns the number of pages without extracting any text.
// pdfcpu also validates the file structure, catching broken uploads
// before any page work starts.
func (e *PDFExtractor) PageCount(filePath string) (int, error) {
	count, err := api.PageCountFile(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF %s: %w", filePath, err)
	}
	return count, nil
}

// ExtractPages extracts every page's text in order.
func (e *PDFExtractor) ExtractPages(filePath string) ([]PageText, error) {
	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF file: %w", err)
	}
	if e.maxFileSize > 0 && stat.Size() > e.maxFileSize {
		return nil, fmt.Errorf("pdf %s exceeds size limit (%d bytes)", filePath, stat.Size())
	}

	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %s: %w", filePath, err)
	}
	defer f.Close()

	total := reader.NumPage()
	pages := make([]PageText, 0, total)

	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, PageText{Number: i})
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("failed to extract page text", "file", filePath, "page", i, "error", err)
			pages = append(pages, PageText{Number: i})
			continue
		}
		pages = append(pages, PageText{Number: i, Text: text})
	}
	return pages, nil
}
