package checkout

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart            = errors.New("cart is empty, nothing to checkout")
	ErrGuestEmailRequired   = errors.New("email is required for guest checkout")
	ErrInvalidEmail         = errors.New("email address is not valid")
	ErrInvalidPaymentMethod = errors.New("payment method must be cash or card")
	ErrSubmitInFlight       = errors.New("order submission already in progress")
	ErrSubmitTimeout        = errors.New("order submission timed out")
)

// ValidationError is a local rejection. Nothing was sent and no state changed.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// SubmissionError means the order call was made and failed. The cart is kept
// so the diner can retry.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return "order submission failed: " + e.Err.Error()
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the submission failed because the order call ran
// past the submit timeout.
func (e *SubmissionError) Timeout() bool {
	return errors.Is(e.Err, ErrSubmitTimeout)
}
