package repositories

import "fmt"

// DiscountErrorCode enumerates repository error causes for discount code operations.
type DiscountErrorCode string

const (
	// DiscountErrorUnknown represents an unspecified failure.
	DiscountErrorUnknown DiscountErrorCode = "discount_unknown"
	// DiscountErrorNotFound indicates no code document matched the lookup.
	DiscountErrorNotFound DiscountErrorCode = "discount_not_found"
	// DiscountErrorExhausted indicates the bounded usage increment found the cap reached.
	DiscountErrorExhausted DiscountErrorCode = "discount_exhausted"
	// DiscountErrorDuplicateCode indicates another non-deleted code already uses the value.
	DiscountErrorDuplicateCode DiscountErrorCode = "discount_duplicate_code"
)

// DiscountError wraps discount-specific failures with machine readable codes.
type DiscountError struct {
	Op      string
	Code    DiscountErrorCode
	CodeID  string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *DiscountError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *DiscountError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewDiscountError constructs a typed discount error.
func NewDiscountError(code DiscountErrorCode, message string, err error) *DiscountError {
	if message == "" {
		message = string(code)
	}
	return &DiscountError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
