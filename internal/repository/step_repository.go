package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-clearance/internal/errors"
	"github.com/pesio-ai/be-hr-clearance/internal/workflow"
)

const stepColumns = `
	id, request_id, template_order, status, can_process,
	acted_by, acted_role, comment, signature_payload,
	last_updated_at, created_at`

// StepRepository reads and writes clearance_steps rows.
type StepRepository struct{}

// InsertAll creates all instances of a request with a single batch.
func (r StepRepository) InsertAll(ctx context.Context, tx pgx.Tx, steps []*workflow.StepInstance) error {
	query := `
		INSERT INTO clearance_steps (` + stepColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	batch := &pgx.Batch{}
	for _, s := range steps {
		batch.Queue(query,
			s.ID,
			s.RequestID,
			s.TemplateOrder,
			s.Status,
			s.CanProcess,
			s.ActedBy,
			s.ActedRole,
			s.Comment,
			s.SignaturePayload,
			s.LastUpdatedAt,
			s.CreatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create clearance steps")
	}
	return nil
}

// ListByRequest returns a request's instances ordered by template order.
func (r StepRepository) ListByRequest(ctx context.Context, q querier, requestID string) ([]*workflow.StepInstance, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM clearance_steps
		WHERE request_id = $1
		ORDER BY template_order ASC
	`

	rows, err := q.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list clearance steps")
	}
	defer rows.Close()

	var steps []*workflow.StepInstance
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan clearance step")
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list clearance steps")
	}
	return steps, nil
}

// RequestID returns the owner of a step.
func (r StepRepository) RequestID(ctx context.Context, q querier, stepID string) (string, error) {
	var requestID string
	err := q.QueryRow(ctx, `SELECT request_id FROM clearance_steps WHERE id = $1`, stepID).Scan(&requestID)
	if err == pgx.ErrNoRows {
		return "", workflow.StepNotFound(stepID)
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to look up clearance step")
	}
	return requestID, nil
}

// Update writes back the mutable columns of one instance.
func (r StepRepository) Update(ctx context.Context, q querier, s *workflow.StepInstance) error {
	query := `
		UPDATE clearance_steps
		SET status            = $2,
		    can_process       = $3,
		    acted_by          = $4,
		    acted_role        = $5,
		    comment           = $6,
		    signature_payload = $7,
		    last_updated_at   = $8
		WHERE id = $1
	`

	tag, err := q.Exec(ctx, query,
		s.ID,
		s.Status,
		s.CanProcess,
		s.ActedBy,
		s.ActedRole,
		s.Comment,
		s.SignaturePayload,
		s.LastUpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update clearance step")
	}
	if tag.RowsAffected() == 0 {
		return workflow.StepNotFound(s.ID)
	}
	return nil
}

func scanStep(row rowScanner) (*workflow.StepInstance, error) {
	s := &workflow.StepInstance{}
	err := row.Scan(
		&s.ID,
		&s.RequestID,
		&s.TemplateOrder,
		&s.Status,
		&s.CanProcess,
		&s.ActedBy,
		&s.ActedRole,
		&s.Comment,
		&s.SignaturePayload,
		&s.LastUpdatedAt,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}
