package voucher

import "errors"

var (
	// ErrInvalidOrder wraps order validation failures.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrOrderNumberRequired is returned when a payment is to be collected for
	// an order without a number. The receipt's bill allocation must name the
	// order's voucher number, which Tally does not report back on import.
	ErrOrderNumberRequired = errors.New("order number is required to collect payment")
)
