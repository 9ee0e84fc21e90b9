package compliance

import (
	"context"
	"time"
)

// RunRepository port: targeted field writes on the run record
type RunRepository interface {
	Get(ctx context.Context, id RunID) (*Run, error)
	MarkStarted(ctx context.Context, id RunID, at time.Time) error
	UpdateStage(ctx context.Context, id RunID, status RunStatus, stage string) error
	UpdateTotalChecks(ctx context.Context, id RunID, total int) error
	SaveAggregate(ctx context.Context, id RunID, agg Aggregate) error
	MarkCompleted(ctx context.Context, id RunID, at time.Time, stage string) error
	MarkFailed(ctx context.Context, id RunID, at time.Time, failedStage, message string) error
	ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*Run, error)
}

// RequirementRepository port (read-only view of the knowledge base)
type RequirementRepository interface {
	ListPublished(ctx context.Context, codeIDs []string) ([]Requirement, error)
}

// FindingRepository port
type FindingRepository interface {
	InsertBatch(ctx context.Context, runID RunID, findings []Finding) error
	ListByRun(ctx context.Context, runID RunID) ([]Finding, error)
}

// ObjectStore port (page images and source documents)
type ObjectStore interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, data []byte, contentType string) error
	KeyFromURL(rawURL string) (string, error)
}

// VisionModel port. image may be nil for text-only prompts.
type VisionModel interface {
	Generate(ctx context.Context, prompt string, image []byte) (string, error)
}

// Rasterizer port: opens a source document of the declared type as a sequence of pages.
// Unknown types yield ErrUnsupportedDocument.
type Rasterizer interface {
	Open(ctx context.Context, docType DocumentType, data []byte) (RasterDocument, error)
}

// RasterDocument renders pages (1-based) one at a time as PNG.
type RasterDocument interface {
	PageCount() int
	RenderPage(ctx context.Context, page int) ([]byte, error)
	Close() error
}

// Locker guards exclusive ownership of a run across workers.
type Locker interface {
	Acquire(ctx context.Context, id RunID) (release func(), err error)
}
