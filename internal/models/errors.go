package models

import (
	"errors"
	"fmt"
)

// Reason is the rejection taxonomy returned to callers and written to the
// audit log. Rejections never mutate escrow state.
type Reason string

const (
	ReasonInvalidTransition      Reason = "InvalidTransition"
	ReasonRoleNotAuthorized      Reason = "RoleNotAuthorized"
	ReasonGuardFailed            Reason = "GuardFailed"
	ReasonTokenNotFound          Reason = "TokenNotFound"
	ReasonTokenExpired           Reason = "TokenExpired"
	ReasonTokenAlreadyUsed       Reason = "TokenAlreadyUsed"
	ReasonTokenMismatch          Reason = "TokenMismatch"
	ReasonConcurrentModification Reason = "ConcurrentModification"
	ReasonEscrowTerminal         Reason = "EscrowTerminal"
)

type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Is matches any RejectionError with the same Reason, so callers can write
// errors.Is(err, models.Reject(models.ReasonTokenExpired, "")).
func (e *RejectionError) Is(target error) bool {
	t, ok := target.(*RejectionError)
	return ok && t.Reason == e.Reason
}

func Reject(reason Reason, format string, args ...any) *RejectionError {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf extracts the rejection reason from err.
func ReasonOf(err error) (Reason, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

func IsRejection(err error) bool {
	_, ok := ReasonOf(err)
	return ok
}
