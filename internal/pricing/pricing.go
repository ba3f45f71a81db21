package pricing

import (
	"math"

	"freshcart/backend/internal/domain"
)

// Delivery fee rule. These values are charged again at checkout time by the
// order platform, so they must stay in sync with its configuration.
const (
	FreeDeliveryMinCents int64 = 50000
	DeliveryFeeCents     int64 = 4000
)

// Calculate derives cart totals from line items and an optional coupon.
// Pure and deterministic: same inputs always produce the same totals.
// Callers must filter out non-positive quantities before calling.
func Calculate(items []domain.LineItem, coupon *domain.AppliedCoupon) domain.CartTotals {
	var totals domain.CartTotals

	for _, item := range items {
		mrp, selling := resolvePrice(item)
		qty := int64(item.Quantity)
		totals.TotalMRPCents += mrp * qty
		totals.SubtotalCents += selling * qty
		totals.TotalItems += item.Quantity
	}

	totals.SavingsCents = totals.TotalMRPCents - totals.SubtotalCents

	// Threshold is checked against the subtotal, never the post-discount total.
	if totals.SubtotalCents > 0 && totals.SubtotalCents < FreeDeliveryMinCents {
		totals.DeliveryFeeCents = DeliveryFeeCents
	}

	totals.CouponDiscountCents = Discount(coupon, totals.SubtotalCents)

	final := totals.SubtotalCents + totals.DeliveryFeeCents - totals.CouponDiscountCents
	if final < 0 {
		final = 0
	}
	totals.FinalTotalCents = final

	return totals
}

// Discount evaluates a coupon against a subtotal. A coupon below its cart
// minimum evaluates to zero; the cart state layer is responsible for then
// dropping the coupon reference entirely.
func Discount(coupon *domain.AppliedCoupon, subtotalCents int64) int64 {
	if coupon == nil {
		return 0
	}
	if coupon.MinCartCents > 0 && subtotalCents < coupon.MinCartCents {
		return 0
	}

	switch coupon.Type {
	case domain.CouponTypePercentage:
		discount := int64(math.Round(float64(subtotalCents) * coupon.PercentOff / 100))
		if coupon.MaxDiscountCents > 0 && discount > coupon.MaxDiscountCents {
			discount = coupon.MaxDiscountCents
		}
		return discount
	case domain.CouponTypeFlat:
		// Not clamped to the subtotal; the final total floor absorbs any excess.
		return coupon.FlatOffCents
	default:
		return 0
	}
}

// resolvePrice prefers the price captured when the item was added, so a
// price hike after adding never silently inflates the cart.
func resolvePrice(item domain.LineItem) (mrp int64, selling int64) {
	mrp, selling = item.PriceAtAdd.MRPCents, item.PriceAtAdd.SellingCents
	if selling <= 0 {
		mrp, selling = item.Price.MRPCents, item.Price.SellingCents
	}
	if mrp <= 0 {
		mrp = selling
	}
	return mrp, selling
}
