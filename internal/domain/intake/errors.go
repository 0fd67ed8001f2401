package intake

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrSessionNotFound = errors.New("intake session not found")
	ErrSessionClosed   = errors.New("intake session closed")
	ErrPaymentLocked   = errors.New("products cannot change once payment has started")
	ErrNotAtCheckout   = errors.New("payment is only accepted on the checkout step")
	ErrNotReady        = errors.New("checkout is not ready to continue")
)

// ValidationError blocks navigation. Fields maps a field or question id to a
// message.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// PaymentError is a failed checkout. The session payment state is failed.
type PaymentError struct {
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment failed: %s: %v", e.Message, e.Err)
	}
	return "payment failed: " + e.Message
}

func (e *PaymentError) Unwrap() error { return e.Err }

// TransitionError is a rejected payment state change.
type TransitionError struct {
	From, To PaymentState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid payment transition %s -> %s", e.From, e.To)
}
