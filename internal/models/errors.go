package models

import "errors"

var (
	// ErrValidation is the class of errors returned for invalid rule input.
	// Every specific validation error below wraps it.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a rule or notification id is unknown
	ErrNotFound = errors.New("not found")

	// ErrPriceSource marks a failed price batch fetch
	ErrPriceSource = errors.New("price source error")

	// ErrNotificationFormat marks a firing event that could not be rendered
	ErrNotificationFormat = errors.New("notification format error")

	ErrInvalidSymbol    = validationError("invalid symbol")
	ErrInvalidThreshold = validationError("threshold must be a positive finite number")
	ErrInvalidBasePrice = validationError("base price must be a non-negative finite number")
	ErrInvalidCondition = validationError("invalid condition")
	ErrUnknownCondition = validationError("unknown condition type")
	ErrInvalidStatus    = validationError("invalid status")
	ErrImmutableSymbol  = validationError("symbol cannot be changed")
	ErrInvalidRuleID    = validationError("invalid rule ID")
	ErrInvalidPrice     = validationError("invalid price")
	ErrInvalidTimestamp = validationError("invalid timestamp")
)

// validationErr keeps the specific message while matching ErrValidation
type validationErr struct {
	msg string
}

func validationError(msg string) error {
	return &validationErr{msg: msg}
}

func (e *validationErr) Error() string { return e.msg }

func (e *validationErr) Unwrap() error { return ErrValidation }
