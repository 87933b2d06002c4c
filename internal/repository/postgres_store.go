package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-hr-clearance/internal/database"
	"github.com/pesio-ai/be-hr-clearance/internal/workflow"
)

// PostgresStore is the Store backed by PostgreSQL. WithRequest holds a row
// lock on the request for the duration of the callback.
type PostgresStore struct {
	db       *database.DB
	requests RequestRepository
	steps    StepRepository
	audit    AuditRepository
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *workflow.ClearanceRequest, steps []*workflow.StepInstance, audit ...*AuditEntry) error {
	stampAudit(audit, time.Now().UTC())
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.requests.Insert(ctx, tx, req); err != nil {
			return err
		}
		if err := s.steps.InsertAll(ctx, tx, steps); err != nil {
			return err
		}
		for _, e := range audit {
			if err := s.audit.Append(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) WithRequest(ctx context.Context, requestID string, fn func(*Unit) error) error {
	if !validID(requestID) {
		return workflow.RequestNotFound(requestID)
	}
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		req, err := s.requests.Get(ctx, tx, requestID, true)
		if err != nil {
			return err
		}
		steps, err := s.steps.ListByRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}

		unit := newUnit(req, steps)
		if err := fn(unit); err != nil {
			return err
		}

		if err := s.requests.Update(ctx, tx, unit.Request); err != nil {
			return err
		}
		for _, st := range unit.ChangedSteps() {
			if err := s.steps.Update(ctx, tx, st); err != nil {
				return err
			}
		}
		entries := unit.AuditEntries()
		stampAudit(entries, time.Now().UTC())
		for _, e := range entries {
			if err := s.audit.Append(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetRequest(ctx context.Context, requestID string) (*workflow.ClearanceRequest, error) {
	if !validID(requestID) {
		return nil, workflow.RequestNotFound(requestID)
	}
	return s.requests.Get(ctx, s.db, requestID, false)
}

func (s *PostgresStore) ListSteps(ctx context.Context, requestID string) ([]*workflow.StepInstance, error) {
	if !validID(requestID) {
		return nil, workflow.RequestNotFound(requestID)
	}
	steps, err := s.steps.ListByRequest(ctx, s.db, requestID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, workflow.RequestNotFound(requestID)
	}
	return steps, nil
}

func (s *PostgresStore) RequestIDForStep(ctx context.Context, stepID string) (string, error) {
	if !validID(stepID) {
		return "", workflow.StepNotFound(stepID)
	}
	return s.steps.RequestID(ctx, s.db, stepID)
}

func (s *PostgresStore) ListAudit(ctx context.Context, requestID string) ([]*AuditEntry, error) {
	if _, err := s.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.audit.ListByRequest(ctx, s.db, requestID)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// validID filters out ids that could never match a uuid column, which would
// otherwise surface as a query error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
