package mysql

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

// RequirementRepository reads the curated knowledge base. The pipeline never writes it.
type RequirementRepository struct {
	db *sql.DB
}

func NewRequirementRepository(db *sql.DB) *RequirementRepository {
	return &RequirementRepository{db: db}
}

// ListPublished returns PUBLISHED requirements of the given codes, in stable
// (code_id, code_ref, id) order. No codes means no requirements.
func (r *RequirementRepository) ListPublished(ctx context.Context, codeIDs []string) ([]domain.Requirement, error) {
	if len(codeIDs) == 0 {
		return nil, nil
	}
	q := `
SELECT id, code_id, code_ref, category, title, requirement_text, check_type, thresholds,
       drawing_types, building_types, spaces, exceptions,
       extraction_guidance, evaluation_guidance, status
FROM code_requirements
WHERE status='PUBLISHED' AND code_id IN (` + placeholders(len(codeIDs)) + `)
ORDER BY code_id, code_ref, id;`
	args := make([]any, len(codeIDs))
	for i, c := range codeIDs {
		args[i] = c
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "query requirements")
	}
	defer rows.Close()

	var out []domain.Requirement
	for rows.Next() {
		var (
			req                                   domain.Requirement
			title, checkType, extract, evaluate   sql.NullString
			thresholds                            sql.NullString
			drawing, building, spaces, exceptions sql.NullString
		)
		if err := rows.Scan(
			&req.ID, &req.CodeID, &req.CodeRef, &req.Category, &title, &req.RequirementText, &checkType, &thresholds,
			&drawing, &building, &spaces, &exceptions,
			&extract, &evaluate, &req.Status,
		); err != nil {
			return nil, eris.Wrap(err, "scan requirement")
		}
		req.Title, req.CheckType = title.String, checkType.String
		req.ExtractionGuidance, req.EvaluationGuidance = extract.String, evaluate.String
		if thresholds.Valid {
			req.Thresholds = json.RawMessage(thresholds.String)
		}

		lists := []struct {
			raw sql.NullString
			set func([]string)
		}{
			{drawing, func(v []string) { req.DrawingTypes = domain.ParseApplicability(v) }},
			{building, func(v []string) { req.BuildingTypes = domain.ParseApplicability(v) }},
			{spaces, func(v []string) { req.Spaces = domain.ParseApplicability(v) }},
			{exceptions, func(v []string) { req.Exceptions = v }},
		}
		for _, l := range lists {
			v, err := decodeStrings(l.raw)
			if err != nil {
				return nil, eris.Wrapf(err, "decode list column of requirement %s", req.ID)
			}
			l.set(v)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
