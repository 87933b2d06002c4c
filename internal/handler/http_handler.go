package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pesio-ai/be-hr-clearance/internal/errors"
	"github.com/pesio-ai/be-hr-clearance/internal/logger"
	"github.com/pesio-ai/be-hr-clearance/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.ClearanceService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(service *service.ClearanceService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		log:     log,
	}
}

type createRequestBody struct {
	StaffID       string            `json:"staff_id"`
	Purpose       string            `json:"purpose"`
	InitiatorMeta map[string]string `json:"initiator_meta,omitempty"`
}

type resolveBody struct {
	ActingRole   string `json:"acting_role"`
	Outcome      string `json:"outcome"`
	Comment      string `json:"comment,omitempty"`
	Signature    string `json:"signature,omitempty"`
	SignatureTag string `json:"signature_tag,omitempty"`
}

type archiveBody struct {
	ActingRole string `json:"acting_role"`
	Signature  string `json:"signature,omitempty"`
}

// CreateRequest handles POST /api/v1/clearances.
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if !decode(w, r, &body) {
		return
	}
	id, _ := IdentityFrom(r.Context())

	req, err := h.service.CreateRequest(r.Context(), service.CreateRequestInput{
		StaffID:       body.StaffID,
		Purpose:       body.Purpose,
		InitiatedBy:   id.UserID,
		InitiatorMeta: body.InitiatorMeta,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// GetStatus handles GET /api/v1/clearances/{id}/status.
func (h *HTTPHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListSteps handles GET /api/v1/clearances/{id}/steps. With ?role= only the
// steps that role can act on now are returned.
func (h *HTTPHandler) ListSteps(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "id")
	role := r.URL.Query().Get("role")

	var (
		steps any
		err   error
	)
	if role != "" {
		steps, err = h.service.ListAvailableForRole(r.Context(), requestID, role)
	} else {
		steps, err = h.service.ListSteps(r.Context(), requestID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

// GetHistory handles GET /api/v1/clearances/{id}/history.
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.GetHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ResolveStep handles POST /api/v1/steps/{stepID}/resolve.
func (h *HTTPHandler) ResolveStep(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if !decode(w, r, &body) {
		return
	}
	userID, err := actAs(r.Context(), body.ActingRole)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.service.ResolveStep(r.Context(), service.ResolveStepInput{
		StepID:       chi.URLParam(r, "stepID"),
		ActingRole:   body.ActingRole,
		ActingUserID: userID,
		Outcome:      body.Outcome,
		Comment:      body.Comment,
		Signature:    body.Signature,
		SignatureTag: body.SignatureTag,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SignBookend handles POST /api/v1/clearances/{id}/bookends/{tag}.
func (h *HTTPHandler) SignBookend(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if !decode(w, r, &body) {
		return
	}
	userID, err := actAs(r.Context(), body.ActingRole)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.service.SignBookend(r.Context(), service.BookendInput{
		RequestID:    chi.URLParam(r, "id"),
		Tag:          chi.URLParam(r, "tag"),
		ActingRole:   body.ActingRole,
		ActingUserID: userID,
		Outcome:      body.Outcome,
		Comment:      body.Comment,
		Signature:    body.Signature,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ArchiveRequest handles POST /api/v1/clearances/{id}/archive.
func (h *HTTPHandler) ArchiveRequest(w http.ResponseWriter, r *http.Request) {
	var body archiveBody
	if !decode(w, r, &body) {
		return
	}
	userID, err := actAs(r.Context(), body.ActingRole)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	req, err := h.service.ArchiveRequest(r.Context(), service.ArchiveInput{
		RequestID:    chi.URLParam(r, "id"),
		ActingRole:   body.ActingRole,
		ActingUserID: userID,
		Signature:    body.Signature,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// GetCatalog handles GET /api/v1/catalog.
func (h *HTTPHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"steps": h.service.Catalog()})
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeError(w, err)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, errors.InvalidInput("body", err.Error()))
		return false
	}
	return true
}
