package repository

import (
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-hr-clearance/internal/errors"
)

// AuditRepository appends and reads the immutable audit log. Append is the
// only mutation it exposes.
type AuditRepository struct{}

func (r AuditRepository) Append(ctx context.Context, q querier, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO clearance_audit_log
		    (id, request_id, step_id,
		     action, performed_by, performed_role,
		     status_before, status_after,
		     metadata, performed_at)
		VALUES ($1, $2, $3,
		        $4, $5, $6,
		        $7, $8,
		        $9, $10)
	`

	_, err := q.Exec(ctx, query,
		entry.ID,
		entry.RequestID,
		entry.StepID,
		entry.Action,
		entry.PerformedBy,
		entry.PerformedRole,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
		entry.PerformedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// ListByRequest returns a request's audit trail oldest-first.
func (r AuditRepository) ListByRequest(ctx context.Context, q querier, requestID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, request_id, step_id,
		       action, performed_by, performed_role,
		       status_before, status_after,
		       metadata, performed_at
		FROM clearance_audit_log
		WHERE request_id = $1
		ORDER BY performed_at ASC, id ASC
	`

	rows, err := q.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	return entries, nil
}

func scanAudit(sc rowScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.RequestID,
		&entry.StepID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedRole,
		&entry.StatusBefore,
		&entry.StatusAfter,
		&metadataJSON,
		&entry.PerformedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}
	return entry, nil
}
