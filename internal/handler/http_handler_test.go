package handler

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-hr-clearance/internal/logger"
	"github.com/pesio-ai/be-hr-clearance/internal/metrics"
	"github.com/pesio-ai/be-hr-clearance/internal/repository"
	"github.com/pesio-ai/be-hr-clearance/internal/service"
	"github.com/pesio-ai/be-hr-clearance/internal/workflow"
)

const testSecret = "test-secret"

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	handler http.Handler
	auth    *Authenticator
	svc     *service.ClearanceService
}

func newTestServer(t *testing.T, authDisabled bool) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	store := repository.NewMemoryStore()
	svc := service.NewClearanceService(
		store,
		workflow.NewEngine(workflow.DefaultCatalog()),
		nil,
		metrics.New(reg),
		logger.Nop(),
	)
	auth := NewAuthenticator(testSecret, authDisabled)
	router := NewRouter(NewHTTPHandler(svc, logger.Nop()), RouterConfig{
		Auth:     auth,
		Health:   store,
		Gatherer: reg,
		Log:      logger.Nop(),
	})
	return &testServer{handler: router, auth: auth, svc: svc}
}

type caller struct {
	userID string
	roles  string
}

func (s *testServer) do(t *testing.T, method, path string, as *caller, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set(HeaderUserID, as.userID)
		req.Header.Set(HeaderUserRoles, as.roles)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var (
	hrAdmin = &caller{userID: "hr-admin", roles: "hr_officer"}
	vp      = &caller{userID: "vp-1", roles: workflow.RoleVicePresident}
	hod     = &caller{userID: "hod-1", roles: workflow.RoleHeadOfDepartment + ",dean"}
)

func (s *testServer) create(t *testing.T) workflow.ClearanceRequest {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/clearances", hrAdmin, map[string]any{
		"staff_id": "staff-7",
		"purpose":  "transfer",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[workflow.ClearanceRequest](t, rec)
}

func (s *testServer) stepID(t *testing.T, requestID string, order int) string {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/v1/clearances/"+requestID+"/steps", hrAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody[struct {
		Steps []workflow.StepSummary `json:"steps"`
	}](t, rec)
	for _, st := range out.Steps {
		if st.Order == order {
			return st.StepID
		}
	}
	t.Fatalf("no step with order %d", order)
	return ""
}

func TestHTTP_CreateAndStatus(t *testing.T) {
	s := newTestServer(t, true)
	req := s.create(t)

	assert.Equal(t, "staff-7", req.StaffID)
	assert.Equal(t, "hr-admin", req.InitiatedBy)
	assert.Equal(t, workflow.RequestInitiated, req.Status)

	rec := s.do(t, http.MethodGet, "/api/v1/clearances/"+req.ID+"/status", hrAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[workflow.WorkflowStatus](t, rec)
	assert.Equal(t, req.ReferenceCode, status.ReferenceCode)
	assert.Equal(t, 13, status.Total)
	require.Len(t, status.NextAvailableSteps, 1)
	assert.Equal(t, 1, status.NextAvailableSteps[0].Order)
}

func TestHTTP_BookendThenResolve(t *testing.T) {
	s := newTestServer(t, true)
	req := s.create(t)

	rec := s.do(t, http.MethodPost, "/api/v1/clearances/"+req.ID+"/bookends/vp_initial", vp, map[string]any{
		"acting_role": workflow.RoleVicePresident,
		"outcome":     "cleared",
		"signature":   "vp-sig",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[service.ResolveResult](t, rec)
	assert.Equal(t, workflow.RequestDepartmentalReview, result.Request.Status)
	assert.Len(t, result.Changed, 5)

	rec = s.do(t, http.MethodGet, "/api/v1/clearances/"+req.ID+"/steps?role="+workflow.RoleHeadOfDepartment, hod, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decodeBody[struct {
		Steps []workflow.StepSummary `json:"steps"`
	}](t, rec)
	require.Len(t, mine.Steps, 1)
	assert.Equal(t, 2, mine.Steps[0].Order)

	rec = s.do(t, http.MethodPost, "/api/v1/steps/"+mine.Steps[0].StepID+"/resolve", hod, map[string]any{
		"acting_role": workflow.RoleHeadOfDepartment,
		"outcome":     "cleared",
		"comment":     "no outstanding items",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result = decodeBody[service.ResolveResult](t, rec)
	assert.Equal(t, workflow.StatusCleared, result.Updated.Status)
	assert.Equal(t, "hod-1", result.Updated.ActedBy)

	rec = s.do(t, http.MethodGet, "/api/v1/clearances/"+req.ID+"/history", hrAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[struct {
		Entries []repository.AuditEntry `json:"entries"`
	}](t, rec)
	assert.Len(t, history.Entries, 3)
}

func TestHTTP_EngineErrors(t *testing.T) {
	s := newTestServer(t, true)
	req := s.create(t)

	// Dean waits on the head of department, who waits on the initial signature.
	rec := s.do(t, http.MethodPost, "/api/v1/steps/"+s.stepID(t, req.ID, 3)+"/resolve", hod, map[string]any{
		"acting_role": "dean",
		"outcome":     "cleared",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[ErrorBody](t, rec)
	assert.Equal(t, string(workflow.KindDependencyNotMet), body.Code)
	assert.Equal(t, req.ID, body.Details["request_id"])
	assert.NotEmpty(t, body.Details["unmet"])

	rec = s.do(t, http.MethodPost, "/api/v1/steps/"+s.stepID(t, req.ID, 1)+"/resolve", hod, map[string]any{
		"acting_role":   "dean",
		"outcome":       "cleared",
		"signature_tag": "vp_initial",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(workflow.KindRoleMismatch), decodeBody[ErrorBody](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/clearances/"+req.ID+"/archive", &caller{userID: "r", roles: workflow.RoleRecordsOfficer}, map[string]any{
		"acting_role": workflow.RoleRecordsOfficer,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(workflow.KindInvalidTransition), decodeBody[ErrorBody](t, rec).Code)
}

func TestHTTP_ActingRoleMustBeHeld(t *testing.T) {
	s := newTestServer(t, true)
	req := s.create(t)

	rec := s.do(t, http.MethodPost, "/api/v1/clearances/"+req.ID+"/bookends/vp_initial", hod, map[string]any{
		"acting_role": workflow.RoleVicePresident,
		"outcome":     "cleared",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeBody[ErrorBody](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/clearances/"+req.ID+"/bookends/vp_initial", vp, map[string]any{
		"outcome": "cleared",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_BadInput(t *testing.T) {
	s := newTestServer(t, true)
	req := s.create(t)

	rec := s.do(t, http.MethodPost, "/api/v1/clearances", hrAdmin, map[string]any{"staff": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decodeBody[ErrorBody](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/clearances", hrAdmin, map[string]any{"staff_id": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/clearances/"+req.ID+"/bookends/vp_initial", vp, map[string]any{
		"acting_role": workflow.RoleVicePresident,
		"outcome":     "approved-ish",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_NotFound(t *testing.T) {
	s := newTestServer(t, true)

	rec := s.do(t, http.MethodGet, "/api/v1/clearances/missing/status", hrAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(workflow.KindRequestNotFound), decodeBody[ErrorBody](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/steps/missing/resolve", hod, map[string]any{
		"acting_role": "dean",
		"outcome":     "cleared",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTP_Unauthenticated(t *testing.T) {
	s := newTestServer(t, true)

	rec := s.do(t, http.MethodGet, "/api/v1/catalog", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/catalog", hrAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	catalog := decodeBody[struct {
		Steps []workflow.StepTemplate `json:"steps"`
	}](t, rec)
	assert.Len(t, catalog.Steps, 13)
}

func TestHTTP_BearerToken(t *testing.T) {
	s := newTestServer(t, false)

	token, err := s.auth.IssueToken("hr-admin", []string{"hr_officer"}, time.Minute)
	require.NoError(t, err)

	send := func(authorization string) *httptest.ResponseRecorder {
		body := bytes.NewBufferString(`{"staff_id":"staff-9","purpose":"exit"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/clearances", body)
		req.Header.Set("Authorization", authorization)
		req.Header.Set(HeaderUserID, "spoofed")
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send("Bearer " + token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "hr-admin", decodeBody[workflow.ClearanceRequest](t, rec).InitiatedBy)

	assert.Equal(t, http.StatusUnauthorized, send("").Code)
	assert.Equal(t, http.StatusUnauthorized, send("Bearer not-a-token").Code)

	other, err := NewAuthenticator("other-secret", false).IssueToken("x", nil, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, send("Bearer "+other).Code)

	expired, err := s.auth.IssueToken("x", nil, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, send("Bearer "+expired).Code)
}

func TestHTTP_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t, true)
	s.create(t)

	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clearance_requests_created_total 1")

	router := NewRouter(NewHTTPHandler(s.svc, logger.Nop()), RouterConfig{
		Auth: s.auth,
		Health: pingerFunc(func(context.Context) error {
			return stderrors.New("connection refused")
		}),
		Log: logger.Nop(),
	})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
