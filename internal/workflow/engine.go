package workflow

import (
	"errors"
	"time"
)

// Engine bundles the evaluator, propagator, aggregator and lifecycle over one
// immutable catalog. It holds no per-request state; callers serialize work on
// a request and pass in a private copy of its instances.
type Engine struct {
	catalog    *Catalog
	evaluator  *Evaluator
	propagator *Propagator
	aggregator *Aggregator
	lifecycle  *Lifecycle
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over catalog.
func NewEngine(catalog *Catalog, opts ...Option) *Engine {
	evaluator := NewEvaluator(catalog)
	e := &Engine{
		catalog:    catalog,
		evaluator:  evaluator,
		propagator: NewPropagator(catalog, evaluator),
		aggregator: NewAggregator(catalog, evaluator),
		lifecycle:  NewLifecycle(catalog),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the engine's catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Evaluator returns the engine's dependency evaluator.
func (e *Engine) Evaluator() *Evaluator { return e.evaluator }

// Outcome is the result of one accepted resolution.
type Outcome struct {
	Updated    *StepInstance
	Changed    []*StepInstance
	StatusFrom RequestStatus
	StatusTo   RequestStatus
}

// StatusChanged reports whether the macro status moved.
func (o *Outcome) StatusChanged() bool {
	return o.StatusFrom != o.StatusTo
}

// Instantiate creates the full instance set for req and sets its initial
// macro status.
func (e *Engine) Instantiate(req *ClearanceRequest) []*StepInstance {
	at := e.now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = at
	}
	req.UpdatedAt = at
	instances := e.propagator.Initialize(req.ID, at)
	req.Status = e.lifecycle.Next(RequestInitiated, instances)
	return instances
}

// Resolve applies res to stepID within req. The archive step can only be
// resolved through Archive.
func (e *Engine) Resolve(req *ClearanceRequest, instances []*StepInstance, stepID string, res Resolution) (*Outcome, error) {
	if err := e.lifecycle.CheckActionable(req); err != nil {
		return nil, err
	}
	for _, inst := range instances {
		if inst.ID != stepID {
			continue
		}
		if tmpl, ok := e.catalog.Template(inst.TemplateOrder); ok && tmpl.SignatureTag == TagArchive {
			if err := e.lifecycle.CheckArchive(req); err != nil {
				return nil, err
			}
		}
		break
	}

	if res.At.IsZero() {
		res.At = e.now()
	}
	updated, changed, err := e.propagator.Resolve(instances, stepID, res)
	if err != nil {
		var engErr *Error
		if errors.As(err, &engErr) && engErr.RequestID == "" {
			engErr.RequestID = req.ID
		}
		return nil, err
	}

	from, to := e.lifecycle.Apply(req, updated, instances, res.At)
	return &Outcome{Updated: updated, Changed: changed, StatusFrom: from, StatusTo: to}, nil
}

// SignBookend resolves the step carrying tag. The template is located by tag
// because the same role signs more than once.
func (e *Engine) SignBookend(req *ClearanceRequest, instances []*StepInstance, tag SignatureTag, res Resolution) (*Outcome, error) {
	tmpl, ok := e.catalog.TemplateByTag(tag)
	if !ok || tag == TagNone {
		return nil, InvalidTransition(req.ID, "workflow defines no %q signature", tag)
	}
	for _, inst := range instances {
		if inst.TemplateOrder == tmpl.Order {
			res.SignatureTag = tag
			return e.Resolve(req, instances, inst.ID, res)
		}
	}
	return nil, &Error{
		Kind:      KindStepNotFound,
		RequestID: req.ID,
		Order:     tmpl.Order,
		Message:   "request has no instance for the " + string(tag) + " signature",
	}
}

// Archive clears the archiving step, which is only possible once every other
// step, including the final vice-president signature, has cleared.
func (e *Engine) Archive(req *ClearanceRequest, instances []*StepInstance, res Resolution) (*Outcome, error) {
	if err := e.lifecycle.CheckActionable(req); err != nil {
		return nil, err
	}
	if err := e.lifecycle.CheckArchive(req); err != nil {
		return nil, err
	}
	res.Outcome = StatusCleared
	return e.SignBookend(req, instances, TagArchive, res)
}

// Summarize aggregates the current state of req.
func (e *Engine) Summarize(req *ClearanceRequest, instances []*StepInstance) (*WorkflowStatus, error) {
	return e.aggregator.Summarize(req, instances)
}

// Summaries lists every step of a request joined with its template.
func (e *Engine) Summaries(instances []*StepInstance) []StepSummary {
	return e.aggregator.Summaries(instances)
}
