package backend

import (
	"testing"

	"freshcart/backend/internal/domain"
)

func f64(v float64) *float64 { return &v }

func TestNormalizeCouponNilAndBlank(t *testing.T) {
	if got := NormalizeCoupon(nil, nil); got != nil {
		t.Fatalf("expected nil coupon for nil payload, got %+v", got)
	}
	if got := NormalizeCoupon(&CouponPayload{Code: "   "}, nil); got != nil {
		t.Fatalf("expected nil coupon for blank code, got %+v", got)
	}
}

func TestNormalizeCouponPercentage(t *testing.T) {
	got := NormalizeCoupon(&CouponPayload{
		Code:              " save10 ",
		DiscountType:      "PERCENTAGE",
		DiscountValue:     f64(10),
		MaxDiscountAmount: f64(100),
		MinCartValue:      f64(250),
	}, nil)

	if got == nil {
		t.Fatal("expected coupon")
	}
	if got.Code != "SAVE10" {
		t.Fatalf("code = %q", got.Code)
	}
	if got.Type != domain.CouponTypePercentage || got.PercentOff != 10 {
		t.Fatalf("unexpected type/value: %+v", got)
	}
	if got.MaxDiscountCents != 10000 {
		t.Fatalf("max discount cents = %d", got.MaxDiscountCents)
	}
	if got.MinCartCents != 25000 {
		t.Fatalf("min cart cents = %d", got.MinCartCents)
	}
}

func TestNormalizeCouponValueKeyPrecedence(t *testing.T) {
	got := NormalizeCoupon(&CouponPayload{
		Code:          "FLAT50",
		Type:          "fixed",
		DiscountValue: f64(50),
		Discount:      f64(999),
	}, nil)

	if got.Type != domain.CouponTypeFlat {
		t.Fatalf("type = %q", got.Type)
	}
	if got.FlatOffCents != 5000 {
		t.Fatalf("flat cents = %d, want discount_value to win", got.FlatOffCents)
	}
}

func TestNormalizeCouponLegacyDiscountKey(t *testing.T) {
	got := NormalizeCoupon(&CouponPayload{
		Code:     "FLAT50",
		Type:     "flat",
		Discount: f64(50),
	}, nil)

	if got.FlatOffCents != 5000 {
		t.Fatalf("flat cents = %d", got.FlatOffCents)
	}
}

func TestNormalizeCouponReusesPreviousValueOnEcho(t *testing.T) {
	prev := &domain.AppliedCoupon{
		Code:             "SAVE10",
		Type:             domain.CouponTypePercentage,
		PercentOff:       10,
		MaxDiscountCents: 10000,
		MinCartCents:     25000,
	}

	got := NormalizeCoupon(&CouponPayload{Code: "SAVE10"}, prev)
	if got == nil {
		t.Fatal("expected coupon")
	}
	if got.PercentOff != 10 {
		t.Fatalf("percent = %v, want previous value reused", got.PercentOff)
	}
	if got.MaxDiscountCents != 10000 || got.MinCartCents != 25000 {
		t.Fatalf("caps not carried over: %+v", got)
	}
}

func TestNormalizeCouponDifferentCodeDoesNotReusePrevious(t *testing.T) {
	prev := &domain.AppliedCoupon{Code: "SAVE10", Type: domain.CouponTypePercentage, PercentOff: 10}

	got := NormalizeCoupon(&CouponPayload{Code: "OTHER", Type: "percentage"}, prev)
	if got.PercentOff != 0 {
		t.Fatalf("percent = %v, want 0 for unknown code with no value", got.PercentOff)
	}
}

func TestNormalizeCouponUnknownTypeDefaultsToFlat(t *testing.T) {
	got := NormalizeCoupon(&CouponPayload{Code: "X", DiscountValue: f64(20)}, nil)
	if got.Type != domain.CouponTypeFlat {
		t.Fatalf("type = %q", got.Type)
	}
	if got.FlatOffCents != 2000 {
		t.Fatalf("flat cents = %d", got.FlatOffCents)
	}
}
