package documents

import (
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PageExtractor returns the text of every page of a document. Pages that
// cannot be read come back as empty strings.
type PageExtractor interface {
	Pages(path string) ([]string, error)
}

// PDFExtractor reads PDF files with ledongthuc/pdf.
type PDFExtractor struct{}

func (PDFExtractor) Pages(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	defer f.Close()

	numPages := r.NumPage()
	pages := make([]string, numPages)
	for i := 0; i < numPages; i++ {
		pages[i] = pageText(r, i+1)
	}
	return pages, nil
}

func pageText(r *pdf.Reader, num int) (text string) {
	// the parser panics on some malformed content streams
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	page := r.Page(num)
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}
