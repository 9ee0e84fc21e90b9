package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/rotisserie/eris"

	domain "github.com/bryanwahyu/automaton-plancheck/internal/domain/compliance"
)

type RequirementRepository struct{ db *sql.DB }

func NewRequirementRepository(db *sql.DB) *RequirementRepository {
	return &RequirementRepository{db: db}
}

// ListPublished returns PUBLISHED requirements of the given codes in stable order.
func (r *RequirementRepository) ListPublished(ctx context.Context, codeIDs []string) ([]domain.Requirement, error) {
	if len(codeIDs) == 0 {
		return nil, nil
	}
	const q = `
SELECT id, code_id, code_ref, category, title, requirement_text, check_type, thresholds,
       drawing_types, building_types, spaces, exceptions,
       extraction_guidance, evaluation_guidance, status
FROM code_requirements
WHERE status='PUBLISHED' AND code_id = ANY($1)
ORDER BY code_id, code_ref, id;`
	rows, err := r.db.QueryContext(ctx, q, pq.Array(codeIDs))
	if err != nil {
		return nil, eris.Wrap(err, "query requirements")
	}
	defer rows.Close()

	var out []domain.Requirement
	for rows.Next() {
		var (
			req                                 domain.Requirement
			title, checkType, extract, evaluate sql.NullString
			thresholds                          []byte
			drawing, building, spaces, except   pq.StringArray
		)
		if err := rows.Scan(
			&req.ID, &req.CodeID, &req.CodeRef, &req.Category, &title, &req.RequirementText, &checkType, &thresholds,
			&drawing, &building, &spaces, &except,
			&extract, &evaluate, &req.Status,
		); err != nil {
			return nil, eris.Wrap(err, "scan requirement")
		}
		req.Title, req.CheckType = title.String, checkType.String
		req.ExtractionGuidance, req.EvaluationGuidance = extract.String, evaluate.String
		if len(thresholds) > 0 {
			req.Thresholds = json.RawMessage(thresholds)
		}
		req.DrawingTypes = domain.ParseApplicability(drawing)
		req.BuildingTypes = domain.ParseApplicability(building)
		req.Spaces = domain.ParseApplicability(spaces)
		req.Exceptions = []string(except)
		out = append(out, req)
	}
	return out, rows.Err()
}
