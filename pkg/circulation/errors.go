package circulation

import (
	"errors"
	"fmt"
)

// Kind is the stable error category exposed to callers.
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindValidation     Kind = "validation"
	KindStorageFailure Kind = "storage_failure"
)

// Reason narrows a Kind to the rule that was violated.
type Reason string

const (
	ReasonTitleNotFound        Reason = "title_not_found"
	ReasonLoanNotFound         Reason = "loan_not_found"
	ReasonNoCopiesAvailable    Reason = "no_copies_available"
	ReasonAlreadyIssued        Reason = "already_issued"
	ReasonAlreadyReturned      Reason = "already_returned"
	ReasonRenewalLimitExceeded Reason = "renewal_limit_exceeded"
	ReasonCopiesInUse          Reason = "copies_in_use"
	ReasonInvalidArgument      Reason = "invalid_argument"
	ReasonStorageUnavailable   Reason = "storage_unavailable"
	ReasonLedgerReconciliation Reason = "ledger_reconciliation"
)

// Error carries a kind, a reason and a message that is safe to show to callers.
// Err holds the underlying cause for logs only.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on reason so wrapped or re-messaged errors still compare equal
// to the package sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Reason == t.Reason
}

var (
	ErrTitleNotFound        = &Error{Kind: KindNotFound, Reason: ReasonTitleNotFound, Message: "title not found"}
	ErrLoanNotFound         = &Error{Kind: KindNotFound, Reason: ReasonLoanNotFound, Message: "loan not found"}
	ErrNoCopiesAvailable    = &Error{Kind: KindConflict, Reason: ReasonNoCopiesAvailable, Message: "no copies available"}
	ErrAlreadyIssued        = &Error{Kind: KindConflict, Reason: ReasonAlreadyIssued, Message: "member already has this title on loan"}
	ErrAlreadyReturned      = &Error{Kind: KindConflict, Reason: ReasonAlreadyReturned, Message: "loan already returned"}
	ErrRenewalLimitExceeded = &Error{Kind: KindConflict, Reason: ReasonRenewalLimitExceeded, Message: "renewal limit reached"}
	ErrCopiesInUse          = &Error{Kind: KindConflict, Reason: ReasonCopiesInUse, Message: "total copies below copies on loan"}
	ErrStorageUnavailable   = &Error{Kind: KindStorageFailure, Reason: ReasonStorageUnavailable, Message: "storage unavailable"}
	ErrLedgerReconciliation = &Error{Kind: KindStorageFailure, Reason: ReasonLedgerReconciliation, Message: "loan returned but available copies were not updated"}
)

// Invalid builds a validation error for a caller-supplied argument.
func Invalid(format string, args ...any) error {
	return &Error{Kind: KindValidation, Reason: ReasonInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// StorageFailure wraps a persistence error. The caller-facing message stays fixed.
func StorageFailure(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: KindStorageFailure, Reason: ReasonStorageUnavailable, Message: ErrStorageUnavailable.Message, Err: err}
}

// ReconciliationFailure reports a committed return whose copy count could not be restored.
func ReconciliationFailure(err error) error {
	return &Error{Kind: KindStorageFailure, Reason: ReasonLedgerReconciliation, Message: ErrLedgerReconciliation.Message, Err: err}
}

// KindOf returns the kind of err, treating unknown errors as storage failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindStorageFailure
}

// ReasonOf returns the reason of err, or storage_unavailable for foreign errors.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ReasonStorageUnavailable
}

// MessageOf returns the caller-safe message of err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Message
	}
	return ErrStorageUnavailable.Message
}
