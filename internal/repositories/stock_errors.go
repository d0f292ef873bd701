package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for per-size stock operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorProductNotFound indicates the product document is missing or deleted.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorSizeNotFound indicates the product has no stock entry for the size.
	StockErrorSizeNotFound StockErrorCode = "stock_size_not_found"
	// StockErrorInsufficientStock indicates requested quantity exceeds availability.
	StockErrorInsufficientStock StockErrorCode = "stock_insufficient"
)

// StockError wraps stock-specific failures with machine readable codes. For
// insufficient-stock failures Available carries the count still on hand so
// callers can surface it to the user.
type StockError struct {
	Op        string
	Code      StockErrorCode
	ProductID string
	Size      string
	Available int
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
