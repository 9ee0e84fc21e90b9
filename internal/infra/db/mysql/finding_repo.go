package mysql

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

type FindingRepository struct {
	db *sql.DB
}

func NewFindingRepository(db *sql.DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// InsertBatch writes all findings of a run in one transaction.
func (r *FindingRepository) InsertBatch(ctx context.Context, runID domain.RunID, findings []domain.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	const q = `
INSERT INTO findings
(id, run_id, requirement_id, code_ref, category, page_number, status, confidence,
 required_value, proposed_value, location, notes, recommendation, raw, sort_order, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin findings tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return eris.Wrap(err, "prepare findings insert")
	}
	defer stmt.Close()

	for _, f := range findings {
		if _, err := stmt.ExecContext(ctx,
			f.ID, runID, f.RequirementID, f.CodeRef, stringOrDash(f.Category), f.PageNumber,
			string(f.Status), string(f.Confidence),
			f.RequiredValue, f.ProposedValue, f.Location, f.Notes, f.Recommendation, rawOrNull(f.Raw),
			f.SortOrder, f.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "insert finding for requirement %s", f.RequirementID)
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "commit findings")
	}
	return nil
}

// ListByRun returns findings in report order.
func (r *FindingRepository) ListByRun(ctx context.Context, runID domain.RunID) ([]domain.Finding, error) {
	const q = `
SELECT id, run_id, requirement_id, code_ref, category, page_number, status, confidence,
       required_value, proposed_value, location, notes, recommendation, raw, sort_order, created_at
FROM findings WHERE run_id=? ORDER BY sort_order ASC;`
	rows, err := r.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "list findings of run %s", runID)
	}
	defer rows.Close()

	var out []domain.Finding
	for rows.Next() {
		var (
			f                                  domain.Finding
			proposed, location, recommendation sql.NullString
			raw                                sql.NullString
		)
		if err := rows.Scan(
			&f.ID, &f.RunID, &f.RequirementID, &f.CodeRef, &f.Category, &f.PageNumber, &f.Status, &f.Confidence,
			&f.RequiredValue, &proposed, &location, &f.Notes, &recommendation, &raw, &f.SortOrder, &f.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "scan finding")
		}
		f.ProposedValue, f.Location, f.Recommendation = proposed.String, location.String, recommendation.String
		if raw.Valid {
			f.Raw = []byte(raw.String)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
