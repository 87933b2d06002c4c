package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a caller-correctable engine condition.
type Kind string

const (
	KindRoleMismatch              Kind = "role_mismatch"
	KindDependencyNotMet          Kind = "dependency_not_met"
	KindAlreadyResolved           Kind = "already_resolved"
	KindInterdependencyIncomplete Kind = "interdependency_incomplete"
	KindRequestNotFound           Kind = "request_not_found"
	KindStepNotFound              Kind = "step_not_found"
	KindInvalidTransition         Kind = "invalid_transition"
)

// Sentinels matched by *Error through errors.Is.
var (
	ErrRoleMismatch              = errors.New("role mismatch")
	ErrDependencyNotMet          = errors.New("dependency not met")
	ErrAlreadyResolved           = errors.New("step already resolved")
	ErrInterdependencyIncomplete = errors.New("interdependency incomplete")
	ErrRequestNotFound           = errors.New("request not found")
	ErrStepNotFound              = errors.New("step not found")
	ErrInvalidTransition         = errors.New("invalid transition")
)

var sentinels = map[Kind]error{
	KindRoleMismatch:              ErrRoleMismatch,
	KindDependencyNotMet:          ErrDependencyNotMet,
	KindAlreadyResolved:           ErrAlreadyResolved,
	KindInterdependencyIncomplete: ErrInterdependencyIncomplete,
	KindRequestNotFound:           ErrRequestNotFound,
	KindStepNotFound:              ErrStepNotFound,
	KindInvalidTransition:         ErrInvalidTransition,
}

// UnmetDependency describes one predecessor that is not cleared yet.
type UnmetDependency struct {
	Order  int        `json:"order"`
	Name   string     `json:"name"`
	Roles  []string   `json:"roles"`
	Status StepStatus `json:"status"`
	// Via is the dependency order that pulled this member in through its
	// interdependent cluster, or zero for a direct dependency.
	Via int `json:"via,omitempty"`
}

// Error is the structured failure returned by the engine.
type Error struct {
	Kind           Kind              `json:"kind"`
	RequestID      string            `json:"request_id,omitempty"`
	StepID         string            `json:"step_id,omitempty"`
	Order          int               `json:"order,omitempty"`
	Message        string            `json:"message"`
	Unmet          []UnmetDependency `json:"unmet,omitempty"`
	PendingMembers []int             `json:"pending_members,omitempty"`
	Blocked        bool              `json:"blocked,omitempty"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Unmet) > 0 {
		orders := make([]string, len(e.Unmet))
		for i, u := range e.Unmet {
			orders[i] = fmt.Sprintf("%d(%s)", u.Order, u.Status)
		}
		b.WriteString(" [unmet: ")
		b.WriteString(strings.Join(orders, ", "))
		b.WriteString("]")
	}
	return b.String()
}

// Is matches the kind's sentinel. InterdependencyIncomplete also matches
// ErrDependencyNotMet.
func (e *Error) Is(target error) bool {
	if target == sentinels[e.Kind] {
		return true
	}
	return e.Kind == KindInterdependencyIncomplete && target == ErrDependencyNotMet
}

// KindOf returns the engine kind carried by err, or "" when err is not an
// engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RequestNotFound reports an unknown request id.
func RequestNotFound(requestID string) *Error {
	return &Error{
		Kind:      KindRequestNotFound,
		RequestID: requestID,
		Message:   fmt.Sprintf("clearance request %s does not exist", requestID),
	}
}

// StepNotFound reports an unknown step id.
func StepNotFound(stepID string) *Error {
	return &Error{
		Kind:    KindStepNotFound,
		StepID:  stepID,
		Message: fmt.Sprintf("step %s does not exist", stepID),
	}
}

// InvalidTransition reports a macro-status transition that is not reachable.
func InvalidTransition(requestID string, format string, args ...any) *Error {
	return &Error{
		Kind:      KindInvalidTransition,
		RequestID: requestID,
		Message:   fmt.Sprintf(format, args...),
	}
}
