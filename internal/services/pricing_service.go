package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPromoPriceNotLower indicates a promo price greater than or equal to the base price.
	ErrPromoPriceNotLower = errors.New("pricing: promo price must be lower than base price")
	// ErrPromoWindowInverted indicates a promo window that ends before it starts.
	ErrPromoWindowInverted = errors.New("pricing: promo window ends before it starts")
	// ErrBasePriceInvalid indicates a non-positive base price.
	ErrBasePriceInvalid = errors.New("pricing: base price must be positive")
)

// PricingServiceDeps bundles dependencies required to construct a PricingService implementation.
type PricingServiceDeps struct {
	Clock func() time.Time
}

type pricingService struct {
	clock func() time.Time
}

// NewPricingService wires the price resolver used by catalog reads and checkout.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &pricingService{
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

// Quote resolves the price charged right now. The promo price applies only
// when it is set, strictly below base, and the current instant falls inside
// the promo window; otherwise the base price stands.
func (s *pricingService) Quote(product Product) PriceQuote {
	now := s.clock()
	return PriceQuote{
		BasePrice:      product.BasePrice,
		EffectivePrice: product.EffectivePrice(now),
		PromoActive:    product.PromoActive(now),
		LowestPrice30d: product.LowestPrice30d,
	}
}

// ValidatePromoPricing rejects invalid promo configurations at write time, so
// a promo price at or above base never reaches storage.
func (s *pricingService) ValidatePromoPricing(cmd PromoPricingCommand) error {
	if cmd.BasePrice <= 0 {
		return fmt.Errorf("%w: got %d", ErrBasePriceInvalid, cmd.BasePrice)
	}
	if cmd.PromoPrice == nil {
		return nil
	}
	if *cmd.PromoPrice <= 0 {
		return fmt.Errorf("%w: promo price %d is not positive", ErrPromoPriceNotLower, *cmd.PromoPrice)
	}
	if *cmd.PromoPrice >= cmd.BasePrice {
		return fmt.Errorf("%w: promo %d, base %d", ErrPromoPriceNotLower, *cmd.PromoPrice, cmd.BasePrice)
	}
	if cmd.PromoStartsAt != nil && cmd.PromoEndsAt != nil && cmd.PromoEndsAt.Before(*cmd.PromoStartsAt) {
		return ErrPromoWindowInverted
	}
	return nil
}
