// Package backend abstracts where a cart session actually lives. Guest carts
// are held in the service's own KV store; authenticated carts belong to the
// upstream storefront cart API and are reached over HTTP. Both shapes hand
// back the same Snapshot so the rest of the service never cares which one it
// is talking to.
package backend

import (
	"context"
	"math"
	"strings"

	"freshcart/backend/internal/domain"
)

// Snapshot is the backend's view of a cart after an operation. Totals are not
// part of it: they are always recomputed locally from items and coupon.
type Snapshot struct {
	Items  []domain.LineItem
	CartID string
	Coupon *domain.AppliedCoupon
}

type CartBackend interface {
	Fetch(ctx context.Context) (Snapshot, error)
	Add(ctx context.Context, variantID string, quantity int) (Snapshot, error)
	UpdateQuantity(ctx context.Context, lineID string, quantity int) (Snapshot, error)
	Remove(ctx context.Context, lineID string) (Snapshot, error)
	Clear(ctx context.Context) (Snapshot, error)
	ApplyCoupon(ctx context.Context, code string) (Snapshot, error)
	RemoveCoupon(ctx context.Context) (Snapshot, error)
}

// CouponPayload is the loose wire shape coupons arrive in. Different backend
// generations use different field names for the same number, so every numeric
// field is optional and NormalizeCoupon picks through them in order.
type CouponPayload struct {
	Code              string   `json:"code"`
	DiscountType      string   `json:"discount_type,omitempty"`
	Type              string   `json:"type,omitempty"`
	DiscountValue     *float64 `json:"discount_value,omitempty"`
	DiscountAmount    *float64 `json:"discount_amount,omitempty"`
	Discount          *float64 `json:"discount,omitempty"`
	MaxDiscountAmount *float64 `json:"max_discount_amount,omitempty"`
	MaxDiscount       *float64 `json:"max_discount,omitempty"`
	MinCartValue      *float64 `json:"min_cart_value,omitempty"`
}

// NormalizeCoupon converts a wire coupon into the canonical applied shape.
// prev is the coupon currently on the cart, if any: when the wire payload
// carries the same code but omits the value (some backends echo the code
// only), the previous value is reused rather than treating it as zero.
// A nil payload or blank code normalizes to no coupon.
func NormalizeCoupon(p *CouponPayload, prev *domain.AppliedCoupon) *domain.AppliedCoupon {
	if p == nil {
		return nil
	}

	code := strings.ToUpper(strings.TrimSpace(p.Code))
	if code == "" {
		return nil
	}

	sameAsPrev := prev != nil && prev.Code == code

	couponType := normalizeType(p.DiscountType)
	if couponType == "" {
		couponType = normalizeType(p.Type)
	}
	if couponType == "" && sameAsPrev {
		couponType = prev.Type
	}
	if couponType == "" {
		couponType = domain.CouponTypeFlat
	}

	value, ok := firstValue(p.DiscountValue, p.DiscountAmount, p.Discount)
	if !ok && sameAsPrev && prev.Type == couponType {
		switch couponType {
		case domain.CouponTypePercentage:
			value = prev.PercentOff
		default:
			value = float64(prev.FlatOffCents) / 100
		}
		ok = true
	}
	if !ok {
		value = 0
	}

	maxDiscount, _ := firstValue(p.MaxDiscountAmount, p.MaxDiscount)

	coupon := domain.AppliedCoupon{
		Code:             code,
		Type:             couponType,
		MaxDiscountCents: toCents(maxDiscount),
	}
	if p.MinCartValue != nil {
		coupon.MinCartCents = toCents(*p.MinCartValue)
	} else if sameAsPrev {
		coupon.MinCartCents = prev.MinCartCents
	}
	if coupon.MaxDiscountCents == 0 && sameAsPrev {
		coupon.MaxDiscountCents = prev.MaxDiscountCents
	}

	switch couponType {
	case domain.CouponTypePercentage:
		coupon.PercentOff = value
	default:
		coupon.FlatOffCents = toCents(value)
	}

	return &coupon
}

func normalizeType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "percentage", "percent":
		return domain.CouponTypePercentage
	case "flat", "fixed":
		return domain.CouponTypeFlat
	default:
		return ""
	}
}

func firstValue(candidates ...*float64) (float64, bool) {
	for _, c := range candidates {
		if c != nil {
			return *c, true
		}
	}
	return 0, false
}

func toCents(major float64) int64 {
	return int64(math.Round(major * 100))
}
