package pricing

// Money represents a monetary value stored in minor units.
type Money = int64

// BasisPoints expresses a rate in hundredths of a percent (600 == 6%).
type BasisPoints = int64

// Breakdown aggregates the computed pricing components of a reservation.
type Breakdown struct {
	Subtotal Money `json:"subtotal"`
	Taxes    Money `json:"taxes"`
	Discount Money `json:"discount"`
	Total    Money `json:"total"`
}

// Compute derives subtotal, taxes and total for qty units at unitPrice.
// Taxes are applied to the undiscounted subtotal and the discount is
// subtracted last; the total never drops below zero.
func Compute(unitPrice Money, qty int, taxBps BasisPoints, discount Money) Breakdown {
	if qty < 0 {
		qty = 0
	}
	subtotal := unitPrice * Money(qty)
	if subtotal < 0 {
		subtotal = 0
	}
	if taxBps < 0 {
		taxBps = 0
	}
	if discount < 0 {
		discount = 0
	}
	taxes := RoundHalfUp(subtotal*taxBps, 10000)
	total := subtotal + taxes - discount
	if total < 0 {
		total = 0
	}
	return Breakdown{
		Subtotal: subtotal,
		Taxes:    taxes,
		Discount: discount,
		Total:    total,
	}
}

// RoundHalfUp divides numerator by denominator rounding halves away from zero.
// It is the single rounding rule for taxes and percent discounts.
func RoundHalfUp(numerator, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	if denominator < 0 {
		numerator, denominator = -numerator, -denominator
	}
	if numerator < 0 {
		return -((-numerator*2 + denominator) / (2 * denominator))
	}
	return (numerator*2 + denominator) / (2 * denominator)
}
