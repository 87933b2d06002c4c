package repository

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/pesio-ai/be-hr-clearance/internal/errors"
	"github.com/pesio-ai/be-hr-clearance/internal/workflow"
)

// MemoryStore is an in-process Store. Writers on the same request are
// serialized by a per-request mutex; readers never wait on them.
type MemoryStore struct {
	mu         sync.RWMutex
	requests   map[string]*workflow.ClearanceRequest
	steps      map[string][]*workflow.StepInstance
	stepOwner  map[string]string
	references map[string]string
	audit      map[string][]*AuditEntry

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:   make(map[string]*workflow.ClearanceRequest),
		steps:      make(map[string][]*workflow.StepInstance),
		stepOwner:  make(map[string]string),
		references: make(map[string]string),
		audit:      make(map[string][]*AuditEntry),
		locks:      make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) CreateRequest(ctx context.Context, req *workflow.ClearanceRequest, steps []*workflow.StepInstance, audit ...*AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[req.ID]; ok {
		return errors.New(errors.ErrCodeConflict, "clearance request already exists").WithDetail("id", req.ID)
	}
	if _, ok := s.references[req.ReferenceCode]; ok {
		return errors.New(errors.ErrCodeConflict, "reference code already in use").WithDetail("reference_code", req.ReferenceCode)
	}

	stampAudit(audit, time.Now().UTC())
	s.requests[req.ID] = req.Clone()
	s.steps[req.ID] = cloneSteps(steps)
	for _, st := range steps {
		s.stepOwner[st.ID] = req.ID
	}
	s.references[req.ReferenceCode] = req.ID
	for _, e := range audit {
		s.audit[req.ID] = append(s.audit[req.ID], cloneAudit(e))
	}
	return nil
}

func (s *MemoryStore) WithRequest(ctx context.Context, requestID string, fn func(*Unit) error) error {
	lock, ok := s.lockFor(requestID)
	if !ok {
		return workflow.RequestNotFound(requestID)
	}
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	req, ok := s.requests[requestID]
	var unit *Unit
	if ok {
		unit = newUnit(req.Clone(), cloneSteps(s.steps[requestID]))
	}
	s.mu.RUnlock()
	if !ok {
		return workflow.RequestNotFound(requestID)
	}

	if err := fn(unit); err != nil {
		return err
	}

	entries := unit.AuditEntries()
	stampAudit(entries, time.Now().UTC())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[requestID] = unit.Request.Clone()
	stored := s.steps[requestID]
	for _, changed := range unit.ChangedSteps() {
		for i, st := range stored {
			if st.ID == changed.ID {
				stored[i] = changed.Clone()
			}
		}
	}
	for _, e := range entries {
		s.audit[requestID] = append(s.audit[requestID], cloneAudit(e))
	}
	return nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, requestID string) (*workflow.ClearanceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, workflow.RequestNotFound(requestID)
	}
	return req.Clone(), nil
}

func (s *MemoryStore) ListSteps(ctx context.Context, requestID string) ([]*workflow.StepInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps, ok := s.steps[requestID]
	if !ok {
		return nil, workflow.RequestNotFound(requestID)
	}
	return cloneSteps(steps), nil
}

func (s *MemoryStore) RequestIDForStep(ctx context.Context, stepID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.stepOwner[stepID]
	if !ok {
		return "", workflow.StepNotFound(stepID)
	}
	return id, nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, requestID string) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.requests[requestID]; !ok {
		return nil, workflow.RequestNotFound(requestID)
	}
	entries := s.audit[requestID]
	out := make([]*AuditEntry, len(entries))
	for i, e := range entries {
		out[i] = cloneAudit(e)
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// lockFor returns the mutex of an existing request. Unknown ids get none, so
// the lock table only ever holds stored requests.
func (s *MemoryStore) lockFor(requestID string) (*sync.Mutex, bool) {
	s.mu.RLock()
	_, exists := s.requests[requestID]
	s.mu.RUnlock()
	if !exists {
		return nil, false
	}

	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[requestID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[requestID] = l
	}
	return l, true
}

func cloneAudit(e *AuditEntry) *AuditEntry {
	c := *e
	if e.StepID != nil {
		id := *e.StepID
		c.StepID = &id
	}
	c.Metadata = maps.Clone(e.Metadata)
	return &c
}
