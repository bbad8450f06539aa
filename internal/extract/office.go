package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/spf13/afero"
	"github.com/unidoc/unioffice/v2/common/license"
	"github.com/unidoc/unioffice/v2/document"
	"github.com/xuri/excelize/v2"
)

// PDFReader extracts the text layer of a PDF
type PDFReader struct{}

func (PDFReader) Read(ctx context.Context, fs afero.Fs, path string) (text string, err error) {
	f, size, err := openSized(fs, path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// the parser panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(f, size)
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(plain, readLimit))
	if err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}
	return string(data), nil
}

// DocxReader extracts paragraphs and table cells from Word documents
type DocxReader struct {
	licenseKey string
	once       sync.Once
	licErr     error
}

// NewDocxReader creates a reader that activates the office library with key
// on first use. Without a key every .docx fails extraction.
func NewDocxReader(key string) *DocxReader {
	return &DocxReader{licenseKey: key}
}

func (d *DocxReader) Read(ctx context.Context, fs afero.Fs, path string) (string, error) {
	d.once.Do(func() {
		if d.licenseKey == "" {
			d.licErr = errors.New("docx support needs extract.office_license_key")
			return
		}
		d.licErr = license.SetMeteredKey(d.licenseKey)
	})
	if d.licErr != nil {
		return "", d.licErr
	}

	f, size, err := openSized(fs, path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	doc, err := document.Read(f, size)
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}
	defer doc.Close()

	var sb strings.Builder
	writeParagraphs(&sb, doc.Paragraphs())
	for _, t := range doc.Tables() {
		for _, row := range t.Rows() {
			for _, cell := range row.Cells() {
				writeParagraphs(&sb, cell.Paragraphs())
			}
		}
	}
	return sb.String(), nil
}

func writeParagraphs(sb *strings.Builder, paras []document.Paragraph) {
	for _, p := range paras {
		for _, r := range p.Runs() {
			sb.WriteString(r.Text())
		}
		sb.WriteString("\n")
	}
}

// XLSXReader flattens every sheet into tab-separated rows
type XLSXReader struct{}

func (XLSXReader) Read(ctx context.Context, fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	book, err := excelize.OpenReader(f)
	if err != nil {
		return "", fmt.Errorf("parse xlsx: %w", err)
	}
	defer book.Close()

	var sb strings.Builder
	for _, sheet := range book.GetSheetList() {
		rows, err := book.GetRows(sheet)
		if err != nil {
			// Skip sheets that can't be read
			continue
		}
		sb.WriteString(sheet)
		sb.WriteString("\n")
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
		if sb.Len() > readLimit {
			break
		}
	}
	return sb.String(), nil
}

func openSized(fs afero.Fs, path string) (afero.File, int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat: %w", err)
	}
	return f, info.Size(), nil
}
