package handler

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"

	"github.com/pesio-ai/be-hr-clearance/internal/errors"
	"github.com/pesio-ai/be-hr-clearance/internal/workflow"
)

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		http int
		grpc codes.Code
	}{
		{"role mismatch", &workflow.Error{Kind: workflow.KindRoleMismatch}, http.StatusForbidden, codes.PermissionDenied},
		{"dependency", &workflow.Error{Kind: workflow.KindDependencyNotMet}, http.StatusConflict, codes.FailedPrecondition},
		{"cluster", &workflow.Error{Kind: workflow.KindInterdependencyIncomplete}, http.StatusConflict, codes.FailedPrecondition},
		{"transition", &workflow.Error{Kind: workflow.KindInvalidTransition}, http.StatusConflict, codes.FailedPrecondition},
		{"resolved", &workflow.Error{Kind: workflow.KindAlreadyResolved}, http.StatusConflict, codes.AlreadyExists},
		{"request", &workflow.Error{Kind: workflow.KindRequestNotFound}, http.StatusNotFound, codes.NotFound},
		{"step", &workflow.Error{Kind: workflow.KindStepNotFound}, http.StatusNotFound, codes.NotFound},
		{"input", errors.InvalidInput("staff_id", "is required"), http.StatusBadRequest, codes.InvalidArgument},
		{"conflict", errors.New(errors.ErrCodeConflict, "dup"), http.StatusConflict, codes.Aborted},
		{"unauthorized", errors.New(errors.ErrCodeUnauthorized, "no"), http.StatusUnauthorized, codes.Unauthenticated},
		{"forbidden", errors.New(errors.ErrCodeForbidden, "no"), http.StatusForbidden, codes.PermissionDenied},
		{"unavailable", errors.New(errors.ErrCodeUnavailable, "down"), http.StatusServiceUnavailable, codes.Unavailable},
		{"plain", stderrors.New("boom"), http.StatusInternalServerError, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.http, httpStatus(tt.err))
			assert.Equal(t, tt.grpc, grpcCode(tt.err))
		})
	}
}

func TestErrorBody_HidesInternalDetail(t *testing.T) {
	err := errors.Wrap(stderrors.New("pq: password authentication failed"), errors.ErrCodeInternal, "failed to load request")

	body := errorBody(err)
	assert.Equal(t, "internal", body.Code)
	assert.Equal(t, "failed to load request", body.Message)
	assert.NotContains(t, body.Message, "password")
}

func TestErrorBody_EngineDetails(t *testing.T) {
	body := errorBody(&workflow.Error{
		Kind:           workflow.KindInterdependencyIncomplete,
		RequestID:      "req-1",
		Order:          8,
		PendingMembers: []int{7},
	})
	assert.Equal(t, "interdependency_incomplete", body.Code)
	assert.Equal(t, "req-1", body.Details["request_id"])
	assert.Equal(t, 8, body.Details["order"])
	assert.Equal(t, []int{7}, body.Details["pending_members"])
}
