package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"time"

	"github.com/bryanwahyu/automaton-plancheck/internal/application"
	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var testClock = application.FixedClock{At: testNow}

type memRuns struct {
	mu         sync.Mutex
	runs       map[domain.RunID]*domain.Run
	stages     []string
	statuses   []domain.RunStatus
	totals     []int
	aggregates []domain.Aggregate
	failErr    error
}

func newMemRuns(runs ...*domain.Run) *memRuns {
	m := &memRuns{runs: make(map[domain.RunID]*domain.Run)}
	for _, r := range runs {
		m.runs[r.ID] = r
	}
	return m
}

func (m *memRuns) Get(_ context.Context, id domain.RunID) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRuns) run(id domain.RunID) *domain.Run {
	r, ok := m.runs[id]
	if !ok {
		r = &domain.Run{ID: id}
		m.runs[id] = r
	}
	return r
}

func (m *memRuns) MarkStarted(_ context.Context, id domain.RunID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run(id).StartedAt = &at
	return nil
}

func (m *memRuns) UpdateStage(_ context.Context, id domain.RunID, status domain.RunStatus, stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	r := m.run(id)
	r.Status, r.CurrentStage = status, stage
	m.stages = append(m.stages, stage)
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *memRuns) UpdateTotalChecks(_ context.Context, id domain.RunID, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run(id).TotalChecks = total
	m.totals = append(m.totals, total)
	return nil
}

func (m *memRuns) SaveAggregate(_ context.Context, id domain.RunID, agg domain.Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.run(id)
	score, overall := agg.Score, agg.Overall
	r.ComplianceScore, r.OverallStatus, r.Counts, r.Conflicts = &score, &overall, agg.Counts, agg.Conflicts
	m.aggregates = append(m.aggregates, agg)
	return nil
}

func (m *memRuns) MarkCompleted(_ context.Context, id domain.RunID, at time.Time, stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.run(id)
	r.Status, r.CurrentStage, r.CompletedAt = domain.RunCompleted, stage, &at
	return nil
}

func (m *memRuns) MarkFailed(_ context.Context, id domain.RunID, at time.Time, failedStage, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.run(id)
	r.Status, r.FailedStage, r.ErrorMessage, r.CompletedAt = domain.RunFailed, failedStage, message, &at
	return nil
}

func (m *memRuns) ListStale(context.Context, time.Time, int) ([]*domain.Run, error) { return nil, nil }

func (m *memRuns) stageLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stages...)
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (s *memStore) Fetch(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return b, nil
}

func (s *memStore) Store(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.types[key] = contentType
	return nil
}

func (s *memStore) KeyFromURL(rawURL string) (string, error) {
	if !strings.HasPrefix(rawURL, "mem://") {
		return "", errors.New("not a mem url")
	}
	return strings.TrimPrefix(rawURL, "mem://"), nil
}

type modelFunc func(ctx context.Context, prompt string, image []byte) (string, error)

func (f modelFunc) Generate(ctx context.Context, prompt string, image []byte) (string, error) {
	return f(ctx, prompt, image)
}

type staticRequirements struct {
	reqs  []domain.Requirement
	err   error
	codes []string
}

func (s *staticRequirements) ListPublished(_ context.Context, codeIDs []string) ([]domain.Requirement, error) {
	s.codes = codeIDs
	return s.reqs, s.err
}

type memFindings struct {
	mu      sync.Mutex
	batches [][]domain.Finding
	err     error
}

func (m *memFindings) InsertBatch(_ context.Context, _ domain.RunID, findings []domain.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, findings)
	return nil
}

func (m *memFindings) ListByRun(context.Context, domain.RunID) ([]domain.Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.batches) == 0 {
		return nil, nil
	}
	return m.batches[len(m.batches)-1], nil
}

func pngBytes(w, h int) []byte {
	img := image.NewGray(image.Rect(0, 0, w, h))
	img.SetGray(0, 0, color.Gray{Y: 200})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type fakeRasterizer struct {
	pages int
}

func (f fakeRasterizer) Open(_ context.Context, docType domain.DocumentType, _ []byte) (domain.RasterDocument, error) {
	switch docType {
	case domain.DocumentPDF, domain.DocumentTIFF:
		return fakeDoc{pages: f.pages}, nil
	case domain.DocumentPNG, domain.DocumentJPG:
		return fakeDoc{pages: 1}, nil
	}
	return nil, domain.ErrUnsupportedDocument
}

type fakeDoc struct{ pages int }

func (d fakeDoc) PageCount() int { return d.pages }

func (d fakeDoc) RenderPage(_ context.Context, page int) ([]byte, error) {
	if page < 1 || page > d.pages {
		return nil, fmt.Errorf("page %d out of range", page)
	}
	return pngBytes(10*page, 20), nil
}

func (d fakeDoc) Close() error { return nil }

func classified(n int, t domain.PageType) domain.ClassifiedPage {
	return domain.ClassifiedPage{
		NormalizedPage: domain.NormalizedPage{PageNumber: n, ImageKey: PageKey("run-1", n)},
		PageType:       t,
	}
}

func requirement(id, category string, drawing ...string) domain.Requirement {
	return domain.Requirement{
		ID:              id,
		CodeID:          "ibc-2021",
		CodeRef:         "IBC " + id,
		Category:        category,
		RequirementText: "requirement " + id,
		DrawingTypes:    domain.ParseApplicability(drawing),
		Status:          domain.RequirementPublished,
	}
}
