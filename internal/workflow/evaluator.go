package workflow

import (
	"slices"
	"sort"
)

// Evaluation is the detailed outcome of a precondition check.
type Evaluation struct {
	Satisfied bool
	// Blocked is set when a predecessor or one of its cluster members was
	// rejected, so the step can never become available.
	Blocked bool
	Unmet   []UnmetDependency
	// PendingClusterMembers lists cluster members that are outstanding only
	// because a dependency fans out to its whole cluster.
	PendingClusterMembers []int
}

// Evaluator decides whether a step's preconditions hold. It is stateless
// beyond the catalog and safe for concurrent use.
type Evaluator struct {
	catalog *Catalog
}

// NewEvaluator creates an Evaluator over catalog.
func NewEvaluator(catalog *Catalog) *Evaluator {
	return &Evaluator{catalog: catalog}
}

// IsSatisfied reports whether every dependency of inst is cleared, where a
// dependency on an interdependent cluster member requires the whole cluster.
func (e *Evaluator) IsSatisfied(inst *StepInstance, all []*StepInstance) bool {
	return e.Evaluate(inst, all).Satisfied
}

// Evaluate returns the detailed precondition state of inst.
func (e *Evaluator) Evaluate(inst *StepInstance, all []*StepInstance) Evaluation {
	return e.evaluate(inst, indexByOrder(all))
}

func (e *Evaluator) evaluate(inst *StepInstance, byOrder map[int]*StepInstance) Evaluation {
	tmpl, ok := e.catalog.Template(inst.TemplateOrder)
	if !ok {
		return Evaluation{}
	}
	if len(tmpl.DependsOn) == 0 {
		return Evaluation{Satisfied: true}
	}

	var ev Evaluation
	seen := make(map[int]bool)
	for _, d := range tmpl.DependsOn {
		members := e.catalog.ClusterOf(d)
		for _, m := range members {
			if seen[m] {
				continue
			}
			seen[m] = true

			dep := byOrder[m]
			status := StepStatus("")
			if dep != nil {
				status = dep.Status
			}
			if status == StatusCleared {
				continue
			}
			if status == StatusRejected {
				ev.Blocked = true
			}

			mt, _ := e.catalog.Template(m)
			unmet := UnmetDependency{
				Order:  m,
				Name:   mt.Name,
				Roles:  slices.Clone(mt.AllowedRoles),
				Status: status,
			}
			if m != d && !slices.Contains(tmpl.DependsOn, m) {
				unmet.Via = d
				ev.PendingClusterMembers = append(ev.PendingClusterMembers, m)
			}
			ev.Unmet = append(ev.Unmet, unmet)
		}
	}

	sort.Slice(ev.Unmet, func(i, j int) bool { return ev.Unmet[i].Order < ev.Unmet[j].Order })
	slices.Sort(ev.PendingClusterMembers)
	ev.Satisfied = len(ev.Unmet) == 0
	return ev
}

// onlyClusterOutstanding reports whether every direct dependency is cleared
// and the step waits solely on the rest of an interdependent cluster.
func (ev Evaluation) onlyClusterOutstanding() bool {
	if ev.Satisfied || len(ev.PendingClusterMembers) == 0 {
		return false
	}
	for _, u := range ev.Unmet {
		if u.Via == 0 {
			return false
		}
	}
	return true
}

// blockedOrders returns the orders of every template that can never become
// available because a transitive predecessor was rejected. Dependencies and
// their clusters always precede the dependent, so one ascending pass suffices.
func (e *Evaluator) blockedOrders(byOrder map[int]*StepInstance) map[int]bool {
	blocked := make(map[int]bool)
	for _, tmpl := range e.catalog.templates {
		for _, d := range tmpl.DependsOn {
			for _, m := range e.catalog.ClusterOf(d) {
				if dep := byOrder[m]; (dep != nil && dep.Status == StatusRejected) || blocked[m] {
					blocked[tmpl.Order] = true
				}
			}
		}
	}
	return blocked
}
