package orders

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Validate checks the fields that end up in the voucher XML.
func (o Order) Validate() error {
	if !o.Company.Valid() {
		return ErrCompanyMissing
	}
	if strings.TrimSpace(o.Customer.Name) == "" {
		return ErrCustomerMissing
	}
	if len(o.Items) == 0 {
		return ErrNoItems
	}
	for i, item := range o.Items {
		if !item.Quantity.IsPositive() {
			return fmt.Errorf("item %d (%s): %w", i+1, item.Name, ErrInvalidQuantity)
		}
		if item.Rate.IsNegative() {
			return fmt.Errorf("item %d (%s): %w", i+1, item.Name, ErrInvalidRate)
		}
		if item.DiscountPct.IsNegative() || item.DiscountPct.GreaterThan(hundred) {
			return fmt.Errorf("item %d (%s): %w", i+1, item.Name, ErrInvalidDiscount)
		}
	}
	return nil
}
