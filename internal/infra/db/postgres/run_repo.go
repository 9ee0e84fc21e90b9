package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

type RunRepository struct{ db *sql.DB }

func NewRunRepository(db *sql.DB) *RunRepository { return &RunRepository{db: db} }

const runColumns = `
id, document_url, document_type, expected_pages, code_ids, building_type,
status, current_stage, total_checks, compliance_score, overall_status,
compliant_count, warning_count, critical_count, not_assessed_count, conflicts,
failed_stage, error_message, started_at, completed_at, updated_at`

const writable = ` AND status NOT IN ('COMPLETED','FAILED')`

func scanRun(row interface{ Scan(...any) error }) (*domain.Run, error) {
	var (
		r                      domain.Run
		codeIDs                pq.StringArray
		conflicts              []byte
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
	r.CodeIDs = []string(codeIDs)
	if len(conflicts) > 0 {
		if err := json.Unmarshal(conflicts, &r.Conflicts); err != nil {
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
	q := `SELECT ` + runColumns + ` FROM analysis_runs WHERE id=$1 LIMIT 1;`
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
	const q = `UPDATE analysis_runs SET started_at=$1, updated_at=NOW() WHERE id=$2` + writable
	return r.exec(ctx, id, q, at, id)
}

func (r *RunRepository) UpdateStage(ctx context.Context, id domain.RunID, status domain.RunStatus, stage string) error {
	const q = `UPDATE analysis_runs SET status=$1, current_stage=$2, updated_at=NOW() WHERE id=$3` + writable
	return r.exec(ctx, id, q, stringOrDash(string(status)), stage, id)
}

func (r *RunRepository) UpdateTotalChecks(ctx context.Context, id domain.RunID, total int) error {
	const q = `UPDATE analysis_runs SET total_checks=GREATEST(total_checks, $1), updated_at=NOW() WHERE id=$2` + writable
	return r.exec(ctx, id, q, total, id)
}

func (r *RunRepository) SaveAggregate(ctx context.Context, id domain.RunID, agg domain.Aggregate) error {
	const q = `
UPDATE analysis_runs SET
 compliance_score=$1, overall_status=$2,
 compliant_count=$3, warning_count=$4, critical_count=$5, not_assessed_count=$6,
 conflicts=$7::jsonb, updated_at=NOW()
WHERE id=$8` + writable
	conflicts := []byte("[]")
	if len(agg.Conflicts) > 0 {
		b, err := json.Marshal(agg.Conflicts)
		if err != nil {
			return eris.Wrap(err, "encode conflicts")
		}
		conflicts = b
	}
	return r.exec(ctx, id, q,
		agg.Score, string(agg.Overall),
		agg.Counts.Compliant, agg.Counts.Warning, agg.Counts.Critical, agg.Counts.NotAssessed,
		string(conflicts), id)
}

func (r *RunRepository) MarkCompleted(ctx context.Context, id domain.RunID, at time.Time, stage string) error {
	const q = `UPDATE analysis_runs SET status='COMPLETED', current_stage=$1, completed_at=$2, updated_at=NOW() WHERE id=$3` + writable
	return r.exec(ctx, id, q, stage, at, id)
}

func (r *RunRepository) MarkFailed(ctx context.Context, id domain.RunID, at time.Time, failedStage, message string) error {
	const q = `
UPDATE analysis_runs SET status='FAILED', failed_stage=$1, error_message=$2,
 current_stage=$3, completed_at=$4, updated_at=NOW()
WHERE id=$5` + writable
	return r.exec(ctx, id, q, stringOrDash(failedStage), message, "Failed during "+failedStage, at, id)
}

func (r *RunRepository) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + runColumns + `
FROM analysis_runs
WHERE started_at IS NOT NULL AND updated_at < $1` + writable + `
ORDER BY updated_at ASC LIMIT $2;`
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
