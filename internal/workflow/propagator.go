package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Propagator applies step resolutions and recomputes which pending steps of
// the same request have become available.
type Propagator struct {
	catalog   *Catalog
	evaluator *Evaluator
}

// NewPropagator creates a Propagator over catalog.
func NewPropagator(catalog *Catalog, evaluator *Evaluator) *Propagator {
	return &Propagator{catalog: catalog, evaluator: evaluator}
}

// Initialize instantiates every template of the catalog for requestID. Steps
// without dependencies start available; all others start pending.
func (p *Propagator) Initialize(requestID string, at time.Time) []*StepInstance {
	instances := make([]*StepInstance, 0, p.catalog.Len())
	for _, tmpl := range p.catalog.templates {
		instances = append(instances, &StepInstance{
			ID:            uuid.NewString(),
			RequestID:     requestID,
			TemplateOrder: tmpl.Order,
			Status:        StatusPending,
			LastUpdatedAt: at,
			CreatedAt:     at,
		})
	}
	p.Sweep(instances, at)
	return instances
}

// Resolve validates and applies res to the step with stepID, then sweeps the
// remaining pending steps. It returns the resolved instance and the steps that
// became available. On error the instances are left untouched.
func (p *Propagator) Resolve(instances []*StepInstance, stepID string, res Resolution) (*StepInstance, []*StepInstance, error) {
	var inst *StepInstance
	for _, candidate := range instances {
		if candidate.ID == stepID {
			inst = candidate
			break
		}
	}
	if inst == nil {
		return nil, nil, StepNotFound(stepID)
	}

	tmpl, ok := p.catalog.Template(inst.TemplateOrder)
	if !ok {
		return nil, nil, StepNotFound(stepID)
	}

	if _, ok := ParseOutcome(string(res.Outcome)); !ok {
		return nil, nil, &Error{
			Kind:      KindInvalidTransition,
			RequestID: inst.RequestID,
			StepID:    inst.ID,
			Order:     tmpl.Order,
			Message:   fmt.Sprintf("outcome %q is not cleared or rejected", res.Outcome),
		}
	}

	if !tmpl.Allows(res.ActingRole) {
		return nil, nil, &Error{
			Kind:      KindRoleMismatch,
			RequestID: inst.RequestID,
			StepID:    inst.ID,
			Order:     tmpl.Order,
			Message:   fmt.Sprintf("role %q may not act on %q (allowed: %v)", res.ActingRole, tmpl.Name, tmpl.AllowedRoles),
		}
	}
	if tmpl.SignatureTag != res.SignatureTag {
		return nil, nil, &Error{
			Kind:      KindRoleMismatch,
			RequestID: inst.RequestID,
			StepID:    inst.ID,
			Order:     tmpl.Order,
			Message:   fmt.Sprintf("step %q requires signature tag %q, got %q", tmpl.Name, tmpl.SignatureTag, res.SignatureTag),
		}
	}

	if inst.Status.IsTerminal() {
		return nil, nil, &Error{
			Kind:      KindAlreadyResolved,
			RequestID: inst.RequestID,
			StepID:    inst.ID,
			Order:     tmpl.Order,
			Message:   fmt.Sprintf("step %q is already %s", tmpl.Name, inst.Status),
		}
	}

	if inst.Status != StatusAvailable {
		ev := p.evaluator.evaluate(inst, indexByOrder(instances))
		kind := KindDependencyNotMet
		msg := fmt.Sprintf("step %q is waiting on %d predecessor(s)", tmpl.Name, len(ev.Unmet))
		if ev.onlyClusterOutstanding() {
			kind = KindInterdependencyIncomplete
			msg = fmt.Sprintf("step %q is waiting on interdependent steps %v", tmpl.Name, ev.PendingClusterMembers)
		}
		if ev.Blocked {
			msg = fmt.Sprintf("step %q can never proceed: a predecessor was rejected", tmpl.Name)
		}
		return nil, nil, &Error{
			Kind:           kind,
			RequestID:      inst.RequestID,
			StepID:         inst.ID,
			Order:          tmpl.Order,
			Message:        msg,
			Unmet:          ev.Unmet,
			PendingMembers: ev.PendingClusterMembers,
			Blocked:        ev.Blocked,
		}
	}

	at := res.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	inst.Status = res.Outcome
	inst.CanProcess = false
	inst.ActedBy = res.ActingUserID
	inst.ActedRole = res.ActingRole
	inst.Comment = res.Comment
	inst.SignaturePayload = res.Signature
	inst.LastUpdatedAt = at

	if res.Outcome == StatusRejected {
		// Dependents of a rejected step stay pending; nothing can flip.
		return inst, nil, nil
	}
	return inst, p.Sweep(instances, at), nil
}

// Sweep re-evaluates every pending instance once, in ascending order, and
// returns those that became available. A sweep only reads cleared and
// rejected states, which it never writes, so a single pass is stable.
func (p *Propagator) Sweep(instances []*StepInstance, at time.Time) []*StepInstance {
	ordered := make([]*StepInstance, len(instances))
	copy(ordered, instances)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].TemplateOrder < ordered[j].TemplateOrder })

	byOrder := indexByOrder(instances)
	var changed []*StepInstance
	for _, inst := range ordered {
		if inst.Status != StatusPending {
			continue
		}
		ev := p.evaluator.evaluate(inst, byOrder)
		if !ev.Satisfied {
			inst.CanProcess = false
			continue
		}
		inst.Status = StatusAvailable
		inst.CanProcess = true
		inst.LastUpdatedAt = at
		changed = append(changed, inst)
	}
	return changed
}
