package workflow

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// chainTemplates builds orders 1..n where each order depends on the previous
// one and is acted on by role "r<order>".
func chainTemplates(n int) []StepTemplate {
	out := make([]StepTemplate, 0, n)
	for i := 1; i <= n; i++ {
		t := StepTemplate{
			Order:        i,
			Stage:        StageDepartmental,
			Name:         fmt.Sprintf("step-%d", i),
			AllowedRoles: []string{fmt.Sprintf("r%d", i)},
			Sequential:   true,
		}
		if i > 1 {
			t.DependsOn = []int{i - 1}
		}
		out = append(out, t)
	}
	return out
}

// storeClusterTemplates mirrors the store/property-director arrangement:
// two interdependent stores feeding a director that depends on order 6.
func storeClusterTemplates() []StepTemplate {
	return []StepTemplate{
		{Order: 1, Stage: StageInitiation, Name: "open", AllowedRoles: []string{"opener"}},
		{Order: 6, Stage: StageConditional, Name: "Store1", AllowedRoles: []string{"store1"}, DependsOn: []int{1}, Interdependent: true, InterdependentWith: []int{7}},
		{Order: 7, Stage: StageConditional, Name: "Store2", AllowedRoles: []string{"store2"}, DependsOn: []int{1}, Interdependent: true, InterdependentWith: []int{6}},
		{Order: 8, Stage: StageConditional, Name: "PropertyDirector", AllowedRoles: []string{"director"}, DependsOn: []int{6}},
	}
}

type fixture struct {
	engine    *Engine
	req       *ClearanceRequest
	instances []*StepInstance
}

func newFixture(t *testing.T, templates []StepTemplate) *fixture {
	t.Helper()
	catalog, err := NewCatalog(templates)
	require.NoError(t, err)

	engine := NewEngine(catalog, WithClock(fixedClock))
	req := &ClearanceRequest{ID: "req-1", ReferenceCode: "CLR-TEST", StaffID: "staff-1"}
	instances := engine.Instantiate(req)
	return &fixture{engine: engine, req: req, instances: instances}
}

func (f *fixture) step(order int) *StepInstance {
	for _, inst := range f.instances {
		if inst.TemplateOrder == order {
			return inst
		}
	}
	return nil
}

func (f *fixture) resolve(order int, role string, outcome StepStatus) (*Outcome, error) {
	tmpl, _ := f.engine.Catalog().Template(order)
	return f.engine.Resolve(f.req, f.instances, f.step(order).ID, Resolution{
		Outcome:      outcome,
		ActingRole:   role,
		ActingUserID: "user-" + role,
		SignatureTag: tmpl.SignatureTag,
	})
}

func (f *fixture) clear(t *testing.T, order int) *Outcome {
	t.Helper()
	tmpl, ok := f.engine.Catalog().Template(order)
	require.True(t, ok)
	out, err := f.resolve(order, tmpl.AllowedRoles[0], StatusCleared)
	require.NoError(t, err)
	return out
}

func orders(instances []*StepInstance) []int {
	out := make([]int, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.TemplateOrder)
	}
	return out
}

func snapshot(instances []*StepInstance) map[int]StepStatus {
	out := make(map[int]StepStatus, len(instances))
	for _, inst := range instances {
		out[inst.TemplateOrder] = inst.Status
	}
	return out
}
