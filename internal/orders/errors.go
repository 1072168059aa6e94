package orders

import "errors"

// Validation errors for protocol-feeding fields.
var (
	ErrCompanyMissing  = errors.New("company location, guid and name are required")
	ErrCustomerMissing = errors.New("customer name is required")
	ErrNoItems         = errors.New("at least one item is required")
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	ErrInvalidRate     = errors.New("rate cannot be negative")
	ErrInvalidDiscount = errors.New("discount must be between 0 and 100")
)
