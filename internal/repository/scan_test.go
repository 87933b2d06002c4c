package repository

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-hr-clearance/internal/workflow"
)

// fakeRow assigns values positionally, the way pgx does for a single row.
type fakeRow []any

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("scan: got %d destinations for %d columns", len(dest), len(r))
	}
	for i, v := range r {
		if v == nil {
			continue
		}
		target := reflect.ValueOf(dest[i]).Elem()
		value := reflect.ValueOf(v)
		if target.Kind() == reflect.Pointer && value.Kind() != reflect.Pointer {
			p := reflect.New(target.Type().Elem())
			p.Elem().Set(value.Convert(target.Type().Elem()))
			target.Set(p)
			continue
		}
		target.Set(value.Convert(target.Type()))
	}
	return nil
}

func TestScanRequest(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	row := fakeRow{
		"req-1", "CLR-20260302-0000ABCD", "staff-1", "retirement", "completed",
		"hr-1", []byte(`{"department":"physics"}`),
		"vp-1", "sig-a", now,
		"vp-1", "sig-b", now,
		false, "", nil, now,
		now, now,
	}

	req, err := scanRequest(row)
	require.NoError(t, err)
	assert.Equal(t, workflow.RequestCompleted, req.Status)
	assert.Equal(t, "physics", req.InitiatorMeta["department"])
	require.NotNil(t, req.VPFinalSignedAt)
	assert.Nil(t, req.ArchivedAt)
	require.NotNil(t, req.CompletedAt)
}

func TestScanRequest_BadMetadata(t *testing.T) {
	now := time.Now()
	row := fakeRow{
		"req-1", "ref", "staff", "exit", "initiated",
		"hr", []byte(`{`),
		"", "", nil, "", "", nil,
		false, "", nil, nil,
		now, now,
	}

	_, err := scanRequest(row)
	assert.Error(t, err)
}

func TestScanStep(t *testing.T) {
	now := time.Now()
	row := fakeRow{"s-1", "req-1", 6, "available", true, "", "", "", "", now, now}

	s, err := scanStep(row)
	require.NoError(t, err)
	assert.Equal(t, 6, s.TemplateOrder)
	assert.Equal(t, workflow.StatusAvailable, s.Status)
	assert.True(t, s.CanProcess)
}

func TestScanAudit(t *testing.T) {
	now := time.Now()
	row := fakeRow{"a-1", "req-1", "s-1", "cleared", "u-1", "bursar", "financial_clearance", "final_approval", []byte(`{"order":9}`), now}

	e, err := scanAudit(row)
	require.NoError(t, err)
	require.NotNil(t, e.StepID)
	assert.Equal(t, "s-1", *e.StepID)
	assert.Equal(t, AuditCleared, e.Action)
	assert.EqualValues(t, 9, e.Metadata["order"])
}

func TestUnit_ChangedStepsKeepsUnitOrder(t *testing.T) {
	steps := []*workflow.StepInstance{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	u := newUnit(&workflow.ClearanceRequest{ID: "r"}, steps)

	u.MarkChanged(steps[2], nil, steps[0], steps[2])
	changed := u.ChangedSteps()
	require.Len(t, changed, 2)
	assert.Equal(t, "a", changed[0].ID)
	assert.Equal(t, "c", changed[1].ID)
}
