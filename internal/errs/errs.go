package errs

import (
	"errors"
	"fmt"
)

// Kinds. Match with errors.Is; never compare messages.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyMatched    = errors.New("task already matched")
	ErrInvalidState      = errors.New("invalid state")
	ErrTaskNotOpen       = errors.New("task not open for offers")
	ErrDuplicateDispute  = errors.New("dispute already open")
	ErrPaymentDeclined   = errors.New("payment declined")
	ErrEscrowFrozen      = errors.New("escrow frozen by open dispute")
	ErrReconciliation    = errors.New("ledger reconciliation failed")
)

// Error is the typed failure every engine operation returns.
// Kind is the primary sentinel; Also lists extra kinds the error matches.
type Error struct {
	Kind   error
	Also   []error
	TaskID string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := e.Kind.Error()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.TaskID != "" {
		s += " (task " + e.TaskID + ")"
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, len(e.Also)+2)
	out = append(out, e.Kind)
	out = append(out, e.Also...)
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func newf(kind error, taskID, format string, args ...any) *Error {
	return &Error{Kind: kind, TaskID: taskID, Msg: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) error {
	return newf(ErrValidation, "", format, args...)
}

func NotFoundf(format string, args ...any) error {
	return newf(ErrNotFound, "", format, args...)
}

func Forbiddenf(format string, args ...any) error {
	return newf(ErrForbidden, "", format, args...)
}

// InvalidTransition reports a state-machine edge that is not legal.
func InvalidTransition(taskID string, from, to fmt.Stringer) error {
	return newf(ErrInvalidTransition, taskID, "%s -> %s", from, to)
}

// AlreadyMatched also matches ErrInvalidTransition: the task has left posted.
func AlreadyMatched(taskID, offerID string) error {
	e := newf(ErrAlreadyMatched, taskID, "accepted offer %s", offerID)
	e.Also = []error{ErrInvalidTransition}
	return e
}

func InvalidStatef(taskID, format string, args ...any) error {
	return newf(ErrInvalidState, taskID, format, args...)
}

func TaskNotOpen(taskID string, status fmt.Stringer) error {
	return newf(ErrTaskNotOpen, taskID, "status is %s", status)
}

func DuplicateDispute(taskID, disputeID string) error {
	return newf(ErrDuplicateDispute, taskID, "dispute %s is still active", disputeID)
}

// PaymentDeclined wraps the processor failure (including timeouts) as cause.
func PaymentDeclined(taskID string, cause error) error {
	return &Error{Kind: ErrPaymentDeclined, TaskID: taskID, Err: cause}
}

func EscrowFrozen(taskID string) error {
	return newf(ErrEscrowFrozen, taskID, "await dispute resolution")
}

func Reconciliationf(taskID, format string, args ...any) error {
	return newf(ErrReconciliation, taskID, format, args...)
}

// Retryable reports conflicts a caller may retry after re-reading state.
func Retryable(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyMatched) ||
		errors.Is(err, ErrInvalidState)
}

// Fatal reports internal invariant violations that must reach an operator.
func Fatal(err error) bool {
	return errors.Is(err, ErrReconciliation)
}
