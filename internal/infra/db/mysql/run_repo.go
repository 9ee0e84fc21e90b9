package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `
id, document_url, document_type, expected_pages, code_ids, building_type,
status, current_stage, total_checks, compliance_score, overall_status,
compliant_count, warning_count, critical_count, not_assessed_count, conflicts,
failed_stage, error_message, started_at, completed_at, updated_at`

// non-terminal guard shared by every progress write
const writable = ` AND status NOT IN ('COMPLETED','FAILED')`

func scanRun(row interface{ Scan(...any) error }) (*domain.Run, error) {
	var (
		r                      domain.Run
		codeIDs, conflicts     sql.NullString
		buildingType, overall  sql.NullString
		failedStage, errMsg    sql.NullString
		score                  sql.NullFloat64
		startedAt, completedAt sql.NullTime
	)
	if err := row.Scan(
		&r.ID, &r.DocumentURL, &r.DocumentType, &r.ExpectedPages, &codeIDs, &buildingType,
		&r.Status, &r.CurrentStage, &r.TotalChecks, &score, &overall,
		&r.Counts.Compliant, &r.Counts.Warning, &r.Counts.Critical, &r.Counts.NotAssessed, &conflicts,
		&failedStage, &errMsg, &startedAt, &completedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	ids, err := decodeStrings(codeIDs)
	if err != nil {
		return nil, eris.Wrap(err, "decode code_ids")
	}
	r.CodeIDs = ids
	if conflicts.Valid && conflicts.String != "" {
		if err := json.Unmarshal([]byte(conflicts.String), &r.Conflicts); err != nil {
			return nil, eris.Wrap(err, "decode conflicts")
		}
	}
	if score.Valid {
		v := score.Float64
		r.ComplianceScore = &v
	}
	if overall.Valid {
		v := domain.OverallStatus(overall.String)
		r.OverallStatus = &v
	}
	r.BuildingType = buildingType.String
	r.FailedStage = failedStage.String
	r.ErrorMessage = errMsg.String
	r.StartedAt = timePtr(startedAt)
	r.CompletedAt = timePtr(completedAt)
	return &r, nil
}

// Get by ID
func (r *RunRepository) Get(ctx context.Context, id domain.RunID) (*domain.Run, error) {
	q := `SELECT ` + runColumns + ` FROM analysis_runs WHERE id=? LIMIT 1;`
	run, err := scanRun(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(domain.ErrRunNotFound, "run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "get run %s", id)
	}
	return run, nil
}

func (r *RunRepository) MarkStarted(ctx context.Context, id domain.RunID, at time.Time) error {
	const q = `UPDATE analysis_runs SET started_at=?, updated_at=CURRENT_TIMESTAMP(6) WHERE id=?` + writable
	return r.exec(ctx, id, q, at, id)
}

func (r *RunRepository) UpdateStage(ctx context.Context, id domain.RunID, status domain.RunStatus, stage string) error {
	const q = `UPDATE analysis_runs SET status=?, current_stage=?, updated_at=CURRENT_TIMESTAMP(6) WHERE id=?` + writable
	return r.exec(ctx, id, q, stringOrDash(string(status)), stage, id)
}

func (r *RunRepository) UpdateTotalChecks(ctx context.Context, id domain.RunID, total int) error {
	// GREATEST keeps the column monotonic even if a stale writer slips through
	const q = `UPDATE analysis_runs SET total_checks=GREATEST(total_checks, ?), updated_at=CURRENT_TIMESTAMP(6) WHERE id=?` + writable
	return r.exec(ctx, id, q, total, id)
}

func (r *RunRepository) SaveAggregate(ctx context.Context, id domain.RunID, agg domain.Aggregate) error {
	const q = `
UPDATE analysis_runs SET
 compliance_score=?, overall_status=?,
 compliant_count=?, warning_count=?, critical_count=?, not_assessed_count=?,
 conflicts=?, updated_at=CURRENT_TIMESTAMP(6)
WHERE id=?` + writable
	conflicts, err := json.Marshal(agg.Conflicts)
	if err != nil {
		return eris.Wrap(err, "encode conflicts")
	}
	if agg.Conflicts == nil {
		conflicts = []byte("[]")
	}
	return r.exec(ctx, id, q,
		agg.Score, string(agg.Overall),
		agg.Counts.Compliant, agg.Counts.Warning, agg.Counts.Critical, agg.Counts.NotAssessed,
		string(conflicts), id)
}

func (r *RunRepository) MarkCompleted(ctx context.Context, id domain.RunID, at time.Time, stage string) error {
	const q = `UPDATE analysis_runs SET status='COMPLETED', current_stage=?, completed_at=?, updated_at=CURRENT_TIMESTAMP(6) WHERE id=?` + writable
	return r.exec(ctx, id, q, stage, at, id)
}

func (r *RunRepository) MarkFailed(ctx context.Context, id domain.RunID, at time.Time, failedStage, message string) error {
	const q = `
UPDATE analysis_runs SET status='FAILED', failed_stage=?, error_message=?,
 current_stage=?, completed_at=?, updated_at=CURRENT_TIMESTAMP(6)
WHERE id=?` + writable
	return r.exec(ctx, id, q, stringOrDash(failedStage), message, "Failed during "+failedStage, at, id)
}

// ListStale returns started, non-terminal runs whose last write is older than updatedBefore.
func (r *RunRepository) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + runColumns + `
FROM analysis_runs
WHERE started_at IS NOT NULL AND updated_at < ?` + writable + `
ORDER BY updated_at ASC LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, updatedBefore, limit)
	if err != nil {
		return nil, eris.Wrap(err, "list stale runs")
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *RunRepository) exec(ctx context.Context, id domain.RunID, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return eris.Wrapf(err, "update run %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "update run %s", id)
	}
	if n == 0 {
		return eris.Wrapf(domain.ErrRunTerminal, "run %s missing or already finished", id)
	}
	return nil
}
