package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-hr-clearance/internal/database"
	"github.com/pesio-ai/be-hr-clearance/internal/errors"
	"github.com/pesio-ai/be-hr-clearance/internal/workflow"
)

// querier is satisfied by *database.DB and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const requestColumns = `
	id, reference_code, staff_id, purpose, status,
	initiated_by, initiator_meta,
	vp_initial_signed_by, vp_initial_signature, vp_initial_signed_at,
	vp_final_signed_by, vp_final_signature, vp_final_signed_at,
	is_archived, archived_by, archived_at, completed_at,
	created_at, updated_at`

// RequestRepository reads and writes clearance_requests rows.
type RequestRepository struct{}

// Insert creates a request row.
func (r RequestRepository) Insert(ctx context.Context, q querier, req *workflow.ClearanceRequest) error {
	meta, err := marshalMeta(req.InitiatorMeta)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO clearance_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7,
		        $8, $9, $10,
		        $11, $12, $13,
		        $14, $15, $16, $17,
		        $18, $19)
	`

	_, err = q.Exec(ctx, query,
		req.ID,
		req.ReferenceCode,
		req.StaffID,
		req.Purpose,
		req.Status,
		req.InitiatedBy,
		meta,
		req.VPInitialSignedBy,
		req.VPInitialSignature,
		req.VPInitialSignedAt,
		req.VPFinalSignedBy,
		req.VPFinalSignature,
		req.VPFinalSignedAt,
		req.IsArchived,
		req.ArchivedBy,
		req.ArchivedAt,
		req.CompletedAt,
		req.CreatedAt,
		req.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return errors.New(errors.ErrCodeConflict, "reference code already in use").
			WithDetail("reference_code", req.ReferenceCode)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create clearance request")
	}
	return nil
}

// Get loads one request. When forUpdate is set the row stays locked until the
// surrounding transaction ends.
func (r RequestRepository) Get(ctx context.Context, q querier, id string, forUpdate bool) (*workflow.ClearanceRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM clearance_requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	req, err := scanRequest(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, workflow.RequestNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get clearance request")
	}
	return req, nil
}

// Update writes back every mutable column of req.
func (r RequestRepository) Update(ctx context.Context, q querier, req *workflow.ClearanceRequest) error {
	query := `
		UPDATE clearance_requests
		SET status               = $2,
		    vp_initial_signed_by = $3,
		    vp_initial_signature = $4,
		    vp_initial_signed_at = $5,
		    vp_final_signed_by   = $6,
		    vp_final_signature   = $7,
		    vp_final_signed_at   = $8,
		    is_archived          = $9,
		    archived_by          = $10,
		    archived_at          = $11,
		    completed_at         = $12,
		    updated_at           = $13
		WHERE id = $1
	`

	tag, err := q.Exec(ctx, query,
		req.ID,
		req.Status,
		req.VPInitialSignedBy,
		req.VPInitialSignature,
		req.VPInitialSignedAt,
		req.VPFinalSignedBy,
		req.VPFinalSignature,
		req.VPFinalSignedAt,
		req.IsArchived,
		req.ArchivedBy,
		req.ArchivedAt,
		req.CompletedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update clearance request")
	}
	if tag.RowsAffected() == 0 {
		return workflow.RequestNotFound(req.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*workflow.ClearanceRequest, error) {
	req := &workflow.ClearanceRequest{}
	var meta []byte
	err := row.Scan(
		&req.ID,
		&req.ReferenceCode,
		&req.StaffID,
		&req.Purpose,
		&req.Status,
		&req.InitiatedBy,
		&meta,
		&req.VPInitialSignedBy,
		&req.VPInitialSignature,
		&req.VPInitialSignedAt,
		&req.VPFinalSignedBy,
		&req.VPFinalSignature,
		&req.VPFinalSignedAt,
		&req.IsArchived,
		&req.ArchivedBy,
		&req.ArchivedAt,
		&req.CompletedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		if err := json.Unmarshal(meta, &req.InitiatorMeta); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal initiator metadata")
		}
	}
	return req, nil
}

func marshalMeta(meta map[string]string) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal initiator metadata")
	}
	return b, nil
}
