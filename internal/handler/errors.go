package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-hr-clearance/internal/errors"
	"github.com/pesio-ai/be-hr-clearance/internal/workflow"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func errorBody(err error) ErrorBody {
	var engErr *workflow.Error
	if stderrors.As(err, &engErr) {
		details := map[string]any{}
		if engErr.RequestID != "" {
			details["request_id"] = engErr.RequestID
		}
		if engErr.StepID != "" {
			details["step_id"] = engErr.StepID
		}
		if engErr.Order != 0 {
			details["order"] = engErr.Order
		}
		if len(engErr.Unmet) > 0 {
			details["unmet"] = engErr.Unmet
		}
		if len(engErr.PendingMembers) > 0 {
			details["pending_members"] = engErr.PendingMembers
		}
		if engErr.Blocked {
			details["blocked"] = true
		}
		if len(details) == 0 {
			details = nil
		}
		return ErrorBody{Code: string(engErr.Kind), Message: engErr.Error(), Details: details}
	}

	var appErr *errors.Error
	if stderrors.As(err, &appErr) {
		msg := appErr.Message
		if appErr.Code != errors.ErrCodeInternal && appErr.Code != errors.ErrCodeUnavailable {
			msg = appErr.Error()
		}
		return ErrorBody{Code: string(appErr.Code), Message: msg, Details: appErr.Details}
	}
	return ErrorBody{Code: string(errors.ErrCodeInternal), Message: "internal error"}
}

func httpStatus(err error) int {
	switch workflow.KindOf(err) {
	case workflow.KindRoleMismatch:
		return http.StatusForbidden
	case workflow.KindDependencyNotMet, workflow.KindInterdependencyIncomplete,
		workflow.KindInvalidTransition, workflow.KindAlreadyResolved:
		return http.StatusConflict
	case workflow.KindRequestNotFound, workflow.KindStepNotFound:
		return http.StatusNotFound
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func grpcCode(err error) codes.Code {
	switch workflow.KindOf(err) {
	case workflow.KindRoleMismatch:
		return codes.PermissionDenied
	case workflow.KindDependencyNotMet, workflow.KindInterdependencyIncomplete, workflow.KindInvalidTransition:
		return codes.FailedPrecondition
	case workflow.KindAlreadyResolved:
		return codes.AlreadyExists
	case workflow.KindRequestNotFound, workflow.KindStepNotFound:
		return codes.NotFound
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return codes.NotFound
	case errors.ErrCodeInvalidInput:
		return codes.InvalidArgument
	case errors.ErrCodeConflict:
		return codes.Aborted
	case errors.ErrCodeUnauthorized:
		return codes.Unauthenticated
	case errors.ErrCodeForbidden:
		return codes.PermissionDenied
	case errors.ErrCodeUnavailable:
		return codes.Unavailable
	}
	return codes.Internal
}

// mapErrorToGRPC converts a service error into a gRPC status error. Error
// details travel as a google.protobuf.Struct status detail.
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	body := errorBody(err)
	st := status.New(grpcCode(err), body.Message)
	if len(body.Details) == 0 {
		return st.Err()
	}
	details, detailErr := toStruct(body.Details)
	if detailErr != nil {
		return st.Err()
	}
	withDetails, detailErr := st.WithDetails(details)
	if detailErr != nil {
		return st.Err()
	}
	return withDetails.Err()
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), errorBody(err))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
