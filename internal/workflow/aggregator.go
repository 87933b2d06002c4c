package workflow

import (
	"math"
	"slices"
	"sort"
)

// StageStatus summarizes one macro-stage.
type StageStatus struct {
	Stage            Stage `json:"stage"`
	Total            int   `json:"total"`
	Pending          int   `json:"pending"`
	Available        int   `json:"available"`
	Cleared          int   `json:"cleared"`
	Rejected         int   `json:"rejected"`
	IsStageComplete  bool  `json:"is_stage_complete"`
	CanStageProgress bool  `json:"can_stage_progress"`
}

// StepSummary is a read-only view of one step joined with its template.
type StepSummary struct {
	StepID       string       `json:"step_id"`
	Order        int          `json:"order"`
	Name         string       `json:"name"`
	Stage        Stage        `json:"stage"`
	AllowedRoles []string     `json:"allowed_roles"`
	Status       StepStatus   `json:"status"`
	CanProcess   bool         `json:"can_process"`
	SignatureTag SignatureTag `json:"signature_tag,omitempty"`
	ActedBy      string       `json:"acted_by,omitempty"`
}

// WorkflowStatus is the aggregate progress of one request.
type WorkflowStatus struct {
	RequestID            string        `json:"request_id"`
	ReferenceCode        string        `json:"reference_code"`
	Status               RequestStatus `json:"status"`
	IsArchived           bool          `json:"is_archived"`
	Stages               []StageStatus `json:"stages"`
	Total                int           `json:"total"`
	Cleared              int           `json:"cleared"`
	CompletionPercentage int           `json:"completion_percentage"`
	NextAvailableSteps   []StepSummary `json:"next_available_steps"`
	BlockedSteps         []StepSummary `json:"blocked_steps,omitempty"`
}

// Aggregator folds a request's instances into a WorkflowStatus.
type Aggregator struct {
	catalog   *Catalog
	evaluator *Evaluator
}

// NewAggregator creates an Aggregator over catalog.
func NewAggregator(catalog *Catalog, evaluator *Evaluator) *Aggregator {
	return &Aggregator{catalog: catalog, evaluator: evaluator}
}

// Summarize computes the status of req. It never mutates its inputs.
func (a *Aggregator) Summarize(req *ClearanceRequest, instances []*StepInstance) (*WorkflowStatus, error) {
	if req == nil {
		return nil, RequestNotFound("")
	}
	if len(instances) == 0 {
		return nil, RequestNotFound(req.ID)
	}

	ordered := slices.Clone(instances)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].TemplateOrder < ordered[j].TemplateOrder })

	stages := make(map[Stage]*StageStatus, len(Stages))
	for _, s := range Stages {
		stages[s] = &StageStatus{Stage: s}
	}

	// A failed or archived request accepts no actions, so nothing is reported
	// as actionable even if instances are still available.
	closed := req.Status.IsTerminal()
	blocked := a.evaluator.blockedOrders(indexByOrder(ordered))
	status := &WorkflowStatus{
		RequestID:          req.ID,
		ReferenceCode:      req.ReferenceCode,
		Status:             req.Status,
		IsArchived:         req.IsArchived,
		Total:              len(ordered),
		NextAvailableSteps: []StepSummary{},
	}

	for _, inst := range ordered {
		tmpl, _ := a.catalog.Template(inst.TemplateOrder)
		ss, ok := stages[tmpl.Stage]
		if !ok {
			ss = &StageStatus{Stage: tmpl.Stage}
			stages[tmpl.Stage] = ss
		}
		ss.Total++
		switch inst.Status {
		case StatusPending:
			ss.Pending++
			if blocked[inst.TemplateOrder] {
				status.BlockedSteps = append(status.BlockedSteps, summarize(tmpl, inst))
			}
		case StatusAvailable:
			ss.Available++
			if !closed {
				status.NextAvailableSteps = append(status.NextAvailableSteps, summarize(tmpl, inst))
			}
		case StatusCleared:
			ss.Cleared++
			status.Cleared++
		case StatusRejected:
			ss.Rejected++
		}
	}

	for _, s := range Stages {
		ss := stages[s]
		if ss.Total == 0 {
			continue
		}
		ss.IsStageComplete = ss.Cleared == ss.Total
		ss.CanStageProgress = !closed && ss.Available > 0
		status.Stages = append(status.Stages, *ss)
	}

	status.CompletionPercentage = CompletionPercentage(status.Cleared, status.Total)
	return status, nil
}

// Summaries returns a StepSummary for every instance, in template order.
func (a *Aggregator) Summaries(instances []*StepInstance) []StepSummary {
	ordered := slices.Clone(instances)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].TemplateOrder < ordered[j].TemplateOrder })
	out := make([]StepSummary, 0, len(ordered))
	for _, inst := range ordered {
		tmpl, _ := a.catalog.Template(inst.TemplateOrder)
		out = append(out, summarize(tmpl, inst))
	}
	return out
}

// CompletionPercentage returns round(cleared/total*100), or 0 for no steps.
func CompletionPercentage(cleared, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(cleared) / float64(total) * 100))
}

func summarize(tmpl StepTemplate, inst *StepInstance) StepSummary {
	return StepSummary{
		StepID:       inst.ID,
		Order:        inst.TemplateOrder,
		Name:         tmpl.Name,
		Stage:        tmpl.Stage,
		AllowedRoles: slices.Clone(tmpl.AllowedRoles),
		Status:       inst.Status,
		CanProcess:   inst.CanProcess,
		SignatureTag: tmpl.SignatureTag,
		ActedBy:      inst.ActedBy,
	}
}
