package commerce

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies a commerce failure for callers that must react to it
// without inspecting concrete error types.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindValidation        Kind = "validation_error"
	KindInsufficientStock Kind = "insufficient_stock"
	KindEmptyCart         Kind = "empty_cart"
	KindStorage           Kind = "storage_error"
)

// Sentinel errors for commerce validation.
var (
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	ErrEmptyQuery      = errors.New("search query must not be empty")
	ErrNoCart          = errors.New("no cart found for user")
	ErrEmptyCart       = errors.New("cart is empty")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// OrderNotFoundError indicates a requested order does not exist.
type OrderNotFoundError struct {
	OrderID int64
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("order %d not found", e.OrderID)
}

// InsufficientStockError indicates a product cannot cover the requested
// quantity.
type InsufficientStockError struct {
	ProductID int64
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// StorageError wraps an underlying persistence failure. Op names the
// operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: storage: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// KindOf maps err onto the commerce error taxonomy. Unknown errors are
// reported as storage failures.
func KindOf(err error) Kind {
	var (
		pnf *ProductNotFoundError
		onf *OrderNotFoundError
		ise *InsufficientStockError
	)
	switch {
	case errors.As(err, &pnf), errors.As(err, &onf), errors.Is(err, ErrNoCart):
		return KindNotFound
	case errors.As(err, &ise):
		return KindInsufficientStock
	case errors.Is(err, ErrEmptyCart):
		return KindEmptyCart
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrEmptyQuery):
		return KindValidation
	default:
		return KindStorage
	}
}

// Summary returns a short message suitable for end users. Storage details are
// never included.
func Summary(err error) string {
	var (
		pnf *ProductNotFoundError
		onf *OrderNotFoundError
		ise *InsufficientStockError
	)
	switch {
	case errors.As(err, &pnf):
		return "Product not found."
	case errors.As(err, &onf):
		return "Order not found."
	case errors.Is(err, ErrNoCart):
		return "No cart found."
	case errors.As(err, &ise):
		if ise.Name == "" {
			return fmt.Sprintf("Only %d units available.", ise.Available)
		}
		return fmt.Sprintf("Only %d units of %s available.", ise.Available, ise.Name)
	case errors.Is(err, ErrEmptyCart):
		return "Your cart is empty."
	case errors.Is(err, ErrInvalidQuantity):
		return "Quantity must be at least 1."
	case errors.Is(err, ErrEmptyQuery):
		return "Please tell me what to search for."
	default:
		return "Something went wrong while talking to the store. Please try again."
	}
}

// isDomainError reports whether err already belongs to the taxonomy and
// must be passed through unchanged instead of wrapped as a storage failure.
func isDomainError(err error) bool {
	return KindOf(err) != KindStorage
}
