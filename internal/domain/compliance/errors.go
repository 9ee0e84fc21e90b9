package compliance

import "errors"

var (
	// ErrUnsupportedDocument is returned when a run declares a document type the normalizer cannot handle.
	ErrUnsupportedDocument = errors.New("unsupported document type")
	// ErrRunNotFound is returned by repositories when no run matches the id.
	ErrRunNotFound = errors.New("analysis run not found")
	// ErrRunTerminal rejects work on a run that is already COMPLETED or FAILED.
	ErrRunTerminal = errors.New("analysis run already finished")
	// ErrRunLocked means another worker currently owns the run.
	ErrRunLocked = errors.New("analysis run locked by another worker")
	// ErrQuotaExceeded indicates the model provider returned a quota/limit error (HTTP 429 or similar).
	ErrQuotaExceeded = errors.New("model quota exceeded")
)
