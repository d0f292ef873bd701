package domain

import "time"

// PromoActive reports whether the product's promotional price applies at the
// given instant. The promo price must be set and strictly below the base
// price; an absent window bound means unbounded on that side.
func (p Product) PromoActive(now time.Time) bool {
	if p.PromoPrice == nil || *p.PromoPrice >= p.BasePrice {
		return false
	}
	if p.PromoStartsAt != nil && now.Before(*p.PromoStartsAt) {
		return false
	}
	if p.PromoEndsAt != nil && now.After(*p.PromoEndsAt) {
		return false
	}
	return true
}

// EffectivePrice returns the unit price charged at the given instant: the promo
// price while the promo window is active, otherwise the base price. It never
// exceeds the base price.
func (p Product) EffectivePrice(now time.Time) int64 {
	if p.PromoActive(now) {
		return *p.PromoPrice
	}
	return p.BasePrice
}

// ComputeDiscount returns the amount deducted from the given subtotal by this
// code. Percentage codes take value percent of the subtotal; fixed codes clamp
// at the subtotal so the discounted total can never go negative.
func (d DiscountCode) ComputeDiscount(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	switch d.Type {
	case DiscountTypePercentage:
		return subtotal * d.Value / 100
	case DiscountTypeFixed:
		if d.Value > subtotal {
			return subtotal
		}
		return d.Value
	}
	return 0
}
