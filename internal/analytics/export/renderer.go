// Package export renders analytics datasets as CSV, XLSX and PDF artifacts.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-pos/internal/analytics"
)

// ErrUnsupportedFormat is returned for formats without a renderer.
var ErrUnsupportedFormat = errors.New("export: unsupported format")

// Renderer dispatches a dataset to the writer for the requested format.
type Renderer struct {
	pdf *PDFExporter
}

// NewRenderer constructs a Renderer. PDF rendering fails when pdf is nil.
func NewRenderer(pdf *PDFExporter) *Renderer {
	return &Renderer{pdf: pdf}
}

// Render returns the artifact bytes for format.
func (r *Renderer) Render(ctx context.Context, format string, ds analytics.Dataset) ([]byte, error) {
	switch format {
	case "csv":
		buf := &bytes.Buffer{}
		if err := WriteCSV(buf, ds); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "xlsx":
		return WriteXLSX(ds)
	case "pdf":
		if r.pdf == nil {
			return nil, fmt.Errorf("export: pdf exporter not configured")
		}
		return r.pdf.Render(ctx, ds)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
