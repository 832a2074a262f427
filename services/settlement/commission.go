package settlement

import "github.com/shopspring/decimal"

// Split is the revenue division fixed at purchase time
type Split struct {
	Amount             decimal.Decimal
	PlatformCommission decimal.Decimal
	InstructorAmount   decimal.Decimal
	Rate               decimal.Decimal
}

// ComputeSplit rounds the commission to cents first and gives the instructor
// the remainder, so the two parts always sum to the amount exactly.
func ComputeSplit(price, rate decimal.Decimal) Split {
	amount := price.Round(2)
	commission := amount.Mul(rate).Round(2)
	return Split{
		Amount:             amount,
		PlatformCommission: commission,
		InstructorAmount:   amount.Sub(commission),
		Rate:               rate,
	}
}
