package models

import (
	"errors"
	"fmt"
)

// Three error kinds. Every mutating operation fails its enclosing transaction
// atomically, so any of these implies zero partial effect.
//
//   - validation:   bad input, rejected before touching storage
//   - business rule: quantity constraints (insufficient stock, negative lot, over-receive)
//   - state:        a transition illegal for the document's current status
var (
	ErrValidation        = errors.New("validation failed")
	ErrBusinessRule      = errors.New("business rule violated")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Business-rule sentinels callers branch on.
var (
	ErrInsufficientStock = fmt.Errorf("%w: insufficient available stock", ErrBusinessRule)
	ErrNegativeLotQty    = fmt.Errorf("%w: lot quantity cannot go negative", ErrBusinessRule)
	ErrOverReceive       = fmt.Errorf("%w: received quantity exceeds outstanding ordered quantity", ErrBusinessRule)
	ErrReservedExceeds   = fmt.Errorf("%w: reserved quantity cannot exceed quantity on hand", ErrBusinessRule)
)

func NewValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NewBusinessRuleError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBusinessRule, fmt.Sprintf(format, args...))
}

func NewStateTransitionError(document string, from, to DocumentStatus) error {
	return fmt.Errorf("%w: %s cannot move from %s to %s", ErrIllegalTransition, document, from, to)
}
