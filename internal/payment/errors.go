package payment

import (
	"errors"
	"fmt"
)

// Error is the error type surfaced by the lifecycle manager.
//
// Codes:
//   - NOT_FOUND: unknown payment or order id
//   - INVALID_ORDER_STATE: order not payable at initiation
//   - ALREADY_TERMINAL: an operator action found the payment resolved
//   - NETWORK_TRANSIENT: ledger subscription or fetch failure
//   - PERSISTENCE_FAILURE: store error; the transition was aborted
//   - INVALID_REQUEST: malformed initiation input
//
// Use errors.Is against the Err* sentinels, or the Is* helpers.
type Error struct {
	Code      ErrorCode
	Message   string
	PaymentID string
	OrderID   string
	Err       error
}

// ErrorCode categorizes errors.
type ErrorCode string

const (
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeInvalidOrderState  ErrorCode = "INVALID_ORDER_STATE"
	ErrCodeAlreadyTerminal    ErrorCode = "ALREADY_TERMINAL"
	ErrCodeNetworkTransient   ErrorCode = "NETWORK_TRANSIENT"
	ErrCodePersistenceFailure ErrorCode = "PERSISTENCE_FAILURE"
	ErrCodeInvalidRequest     ErrorCode = "INVALID_REQUEST"
)

// Sentinels for errors.Is. A returned *Error matches the sentinel of
// its code.
var (
	ErrNotFound           = &Error{Code: ErrCodeNotFound, Message: "not found"}
	ErrInvalidOrderState  = &Error{Code: ErrCodeInvalidOrderState, Message: "order is not payable"}
	ErrAlreadyTerminal    = &Error{Code: ErrCodeAlreadyTerminal, Message: "payment already resolved"}
	ErrNetworkTransient   = &Error{Code: ErrCodeNetworkTransient, Message: "ledger network error"}
	ErrPersistenceFailure = &Error{Code: ErrCodePersistenceFailure, Message: "store failure"}
	ErrInvalidRequest     = &Error{Code: ErrCodeInvalidRequest, Message: "invalid request"}
)

// Store-level conditions. Store implementations wrap these; the
// manager translates them.
var (
	// ErrStaleWrite means a terminal save lost against another writer:
	// the stored row was no longer PENDING.
	ErrStaleWrite = errors.New("payment record changed concurrently")

	// ErrDuplicatePending means a new PENDING record collided with an
	// existing PENDING record for the same order.
	ErrDuplicatePending = errors.New("order already has a pending payment")
)

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.PaymentID != "":
		msg += fmt.Sprintf(" (payment=%s)", e.PaymentID)
	case e.OrderID != "":
		msg += fmt.Sprintf(" (order=%s)", e.OrderID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsNotFound reports whether err carries NOT_FOUND.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsAlreadyTerminal reports whether err carries ALREADY_TERMINAL.
func IsAlreadyTerminal(err error) bool { return CodeOf(err) == ErrCodeAlreadyTerminal }

// IsPersistenceFailure reports whether err carries PERSISTENCE_FAILURE.
func IsPersistenceFailure(err error) bool { return CodeOf(err) == ErrCodePersistenceFailure }

func newNotFound(paymentID, orderID string) *Error {
	what := "payment"
	if paymentID == "" {
		what = "order"
	}
	return &Error{Code: ErrCodeNotFound, Message: what + " not found", PaymentID: paymentID, OrderID: orderID}
}

func newPersistence(paymentID, op string, err error) *Error {
	return &Error{Code: ErrCodePersistenceFailure, Message: op, PaymentID: paymentID, Err: err}
}

func newInvalidRequest(orderID, format string, args ...any) *Error {
	return &Error{Code: ErrCodeInvalidRequest, Message: fmt.Sprintf(format, args...), OrderID: orderID}
}

func newAlreadyTerminal(rec *Record) *Error {
	return &Error{
		Code:      ErrCodeAlreadyTerminal,
		Message:   fmt.Sprintf("payment already %s", rec.Status),
		PaymentID: rec.ID,
		OrderID:   rec.OrderID,
	}
}
