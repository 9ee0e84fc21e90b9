package raster

import (
	"context"

	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// Engine opens every supported upload type as a sequence of PNG pages.
type Engine struct {
	PDF *Poppler
}

func NewEngine(pdf *Poppler) *Engine {
	return &Engine{PDF: pdf}
}

func (e *Engine) Open(ctx context.Context, docType domain.DocumentType, data []byte) (domain.RasterDocument, error) {
	switch docType {
	case domain.DocumentPDF:
		if e.PDF == nil {
			return nil, eris.New("pdf rasterizer not configured")
		}
		return e.PDF.Open(ctx, data)
	case domain.DocumentTIFF:
		return OpenTIFF(data)
	case domain.DocumentPNG, domain.DocumentJPG:
		return OpenImage(data)
	default:
		return nil, eris.Wrapf(domain.ErrUnsupportedDocument, "document type %q", docType)
	}
}
