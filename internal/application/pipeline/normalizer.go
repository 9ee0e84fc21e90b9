package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// PageKey is the object key of a normalized page image. Zero padding keeps keys
// lexicographically ordered.
func PageKey(runID domain.RunID, page int) string {
	return fmt.Sprintf("runs/%s/pages/page-%04d.png", runID, page)
}

// Normalizer turns the uploaded document into one stored PNG per page.
type Normalizer struct {
	Store      domain.ObjectStore
	Rasterizer domain.Rasterizer
	Log        *zap.Logger
}

// Normalize fetches, rasterizes and uploads every page. Any failure is fatal: later
// stages need the complete page set.
func (n *Normalizer) Normalize(ctx context.Context, t *Tracker, run *domain.Run) ([]domain.NormalizedPage, error) {
	log := logger(n.Log).With(zap.String("run_id", string(run.ID)))

	if err := t.Enter(ctx, domain.RunNormalizing, "Fetching document"); err != nil {
		return nil, err
	}
	key, err := n.Store.KeyFromURL(run.DocumentURL)
	if err != nil {
		return nil, eris.Wrapf(err, "derive storage key from %q", run.DocumentURL)
	}
	data, err := n.Store.Fetch(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch document %s", key)
	}

	doc, err := n.Rasterizer.Open(ctx, run.DocumentType, data)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s document", run.DocumentType)
	}
	defer doc.Close()

	total := doc.PageCount()
	if total < 1 {
		return nil, eris.Errorf("document %s has no pages", key)
	}
	if run.ExpectedPages > 0 && run.ExpectedPages != total {
		log.Warn("page count differs from upload metadata",
			zap.Int("expected", run.ExpectedPages), zap.Int("actual", total))
	}

	pages := make([]domain.NormalizedPage, 0, total)
	for i := 1; i <= total; i++ {
		if err := t.SetStage(ctx, progressText(run.DocumentType, i, total)); err != nil {
			return nil, err
		}
		png, err := doc.RenderPage(ctx, i)
		if err != nil {
			return nil, eris.Wrapf(err, "render page %d", i)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(png))
		if err != nil {
			return nil, eris.Wrapf(err, "read dimensions of page %d", i)
		}
		pageKey := PageKey(run.ID, i)
		if err := n.Store.Store(ctx, pageKey, png, "image/png"); err != nil {
			return nil, eris.Wrapf(err, "upload page %d", i)
		}
		pages = append(pages, domain.NormalizedPage{
			PageNumber: i,
			ImageKey:   pageKey,
			Width:      cfg.Width,
			Height:     cfg.Height,
		})
	}
	log.Info("document normalized", zap.Int("pages", len(pages)))
	return pages, nil
}

func progressText(docType domain.DocumentType, i, total int) string {
	switch docType {
	case domain.DocumentPDF:
		return fmt.Sprintf("Rasterizing page %d of %d", i, total)
	case domain.DocumentTIFF:
		return fmt.Sprintf("Extracting TIFF frame %d of %d", i, total)
	default:
		return "Converting image to PNG"
	}
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.L()
	}
	return l
}
