package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

type FindingRepository struct{ db *sql.DB }

func NewFindingRepository(db *sql.DB) *FindingRepository { return &FindingRepository{db: db} }

// InsertBatch streams all findings of a run through COPY inside one transaction.
func (r *FindingRepository) InsertBatch(ctx context.Context, runID domain.RunID, findings []domain.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin findings tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("findings",
		"id", "run_id", "requirement_id", "code_ref", "category", "page_number", "status", "confidence",
		"required_value", "proposed_value", "location", "notes", "recommendation", "raw", "sort_order", "created_at"))
	if err != nil {
		return eris.Wrap(err, "prepare findings copy")
	}

	for _, f := range findings {
		if _, err := stmt.ExecContext(ctx,
			f.ID, string(runID), f.RequirementID, f.CodeRef, stringOrDash(f.Category), f.PageNumber,
			string(f.Status), string(f.Confidence),
			f.RequiredValue, f.ProposedValue, f.Location, f.Notes, f.Recommendation, rawOrNull(f.Raw),
			f.SortOrder, f.CreatedAt,
		); err != nil {
			stmt.Close()
			return eris.Wrapf(err, "copy finding for requirement %s", f.RequirementID)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return eris.Wrap(err, "flush findings copy")
	}
	if err := stmt.Close(); err != nil {
		return eris.Wrap(err, "close findings copy")
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "commit findings")
	}
	return nil
}

func (r *FindingRepository) ListByRun(ctx context.Context, runID domain.RunID) ([]domain.Finding, error) {
	const q = `
SELECT id, run_id, requirement_id, code_ref, category, page_number, status, confidence,
       required_value, proposed_value, location, notes, recommendation, raw, sort_order, created_at
FROM findings WHERE run_id=$1 ORDER BY sort_order ASC;`
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
			raw                                []byte
		)
		if err := rows.Scan(
			&f.ID, &f.RunID, &f.RequirementID, &f.CodeRef, &f.Category, &f.PageNumber, &f.Status, &f.Confidence,
			&f.RequiredValue, &proposed, &location, &f.Notes, &recommendation, &raw, &f.SortOrder, &f.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "scan finding")
		}
		f.ProposedValue, f.Location, f.Recommendation = proposed.String, location.String, recommendation.String
		if len(raw) > 0 {
			f.Raw = raw
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
