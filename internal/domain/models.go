package domain

import "time"

// VariantPrice is the price pair shown to the customer for one purchasable
// variant. MRP is the strike-through price, selling is what is charged.
type VariantPrice struct {
	MRPCents        int64   `json:"mrp_cents"`
	SellingCents    int64   `json:"selling_cents"`
	DiscountPercent float64 `json:"discount_percent,omitempty"`
}

type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	ImageURL string `json:"image_url,omitempty"`
	Active   bool   `json:"active"`
}

type Variant struct {
	ID        string       `json:"id"`
	ProductID string       `json:"product_id"`
	Label     string       `json:"label"`
	Price     VariantPrice `json:"price"`
	Active    bool         `json:"active"`
}

// CatalogEntry is a variant joined with its parent product for display.
type CatalogEntry struct {
	Variant Variant `json:"variant"`
	Product Product `json:"product"`
}

// LineItem is one entry in a cart. PriceAtAdd freezes what the customer was
// shown when the item went in; Price is the live catalog price.
type LineItem struct {
	ID          string       `json:"id"`
	VariantID   string       `json:"variant_id"`
	Label       string       `json:"label"`
	ProductID   string       `json:"product_id,omitempty"`
	ProductName string       `json:"product_name,omitempty"`
	ImageURL    string       `json:"image_url,omitempty"`
	PriceAtAdd  VariantPrice `json:"price_at_add"`
	Price       VariantPrice `json:"price"`
	Quantity    int          `json:"quantity"`
}

const (
	CouponTypePercentage = "percentage"
	CouponTypeFlat       = "flat"
)

// AppliedCoupon is the canonical in-cart coupon shape. Exactly one of
// PercentOff / FlatOffCents is meaningful depending on Type.
type AppliedCoupon struct {
	Code             string  `json:"code"`
	Type             string  `json:"type"`
	PercentOff       float64 `json:"percent_off,omitempty"`
	FlatOffCents     int64   `json:"flat_off_cents,omitempty"`
	MaxDiscountCents int64   `json:"max_discount_cents,omitempty"`
	MinCartCents     int64   `json:"min_cart_cents,omitempty"`
}

// CartTotals is fully derived from (items, coupon) and never stored on its own.
type CartTotals struct {
	TotalMRPCents       int64 `json:"total_mrp_cents"`
	SubtotalCents       int64 `json:"subtotal_cents"`
	SavingsCents        int64 `json:"savings_cents"`
	DeliveryFeeCents    int64 `json:"delivery_fee_cents"`
	TotalItems          int   `json:"total_items"`
	CouponDiscountCents int64 `json:"coupon_discount_cents"`
	FinalTotalCents     int64 `json:"final_total_cents"`
}

type CartState struct {
	Items   []LineItem     `json:"items"`
	CartID  string         `json:"cart_id,omitempty"`
	IsGuest bool           `json:"is_guest"`
	Coupon  *AppliedCoupon `json:"coupon,omitempty"`
	Totals  CartTotals     `json:"totals"`
}

// CouponRule is an admin-managed coupon definition in the catalog.
type CouponRule struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"`
	Type             string    `json:"type"`
	PercentOff       float64   `json:"percent_off,omitempty"`
	FlatOffCents     int64     `json:"flat_off_cents,omitempty"`
	MaxDiscountCents int64     `json:"max_discount_cents,omitempty"`
	MinCartCents     int64     `json:"min_cart_cents,omitempty"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
}

// Applied converts a rule into the in-cart coupon shape.
func (r CouponRule) Applied() AppliedCoupon {
	return AppliedCoupon{
		Code:             r.Code,
		Type:             r.Type,
		PercentOff:       r.PercentOff,
		FlatOffCents:     r.FlatOffCents,
		MaxDiscountCents: r.MaxDiscountCents,
		MinCartCents:     r.MinCartCents,
	}
}

// CouponDescriptor is the read-only listing shape for the coupon picker.
// It has no effect on cart state until one of the codes is applied.
type CouponDescriptor struct {
	Code             string  `json:"code"`
	Type             string  `json:"type"`
	PercentOff       float64 `json:"percent_off,omitempty"`
	FlatOffCents     int64   `json:"flat_off_cents,omitempty"`
	MaxDiscountCents int64   `json:"max_discount_cents,omitempty"`
	MinCartCents     int64   `json:"min_cart_cents,omitempty"`
	Eligible         bool    `json:"eligible"`
}

type AddItemRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type ApplyCouponRequest struct {
	Code string `json:"code"`
}

type CouponCreateRequest struct {
	Code             string  `json:"code"`
	Type             string  `json:"type"`
	PercentOff       float64 `json:"percent_off,omitempty"`
	FlatOffCents     int64   `json:"flat_off_cents,omitempty"`
	MaxDiscountCents int64   `json:"max_discount_cents,omitempty"`
	MinCartCents     int64   `json:"min_cart_cents,omitempty"`
}

type CouponToggleRequest struct {
	Active bool `json:"active"`
}

type ProductCreateRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	ImageURL string `json:"image_url,omitempty"`
}

type VariantCreateRequest struct {
	ProductID    string  `json:"product_id"`
	Label        string  `json:"label"`
	MRPCents     int64   `json:"mrp_cents"`
	SellingCents int64   `json:"selling_cents"`
	DiscountPct  float64 `json:"discount_percent,omitempty"`
}

type CartResponse struct {
	Cart CartState `json:"cart"`
}

type CouponListResponse struct {
	Coupons []CouponDescriptor `json:"coupons"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for admin-console credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
