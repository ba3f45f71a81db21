package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"freshcart/backend/internal/backend/guest"
	"freshcart/backend/internal/backend/server"
	"freshcart/backend/internal/domain"
	"freshcart/backend/internal/store"
	"freshcart/backend/internal/store/memory"
)

func newGuestService(t *testing.T) (*Service, Session) {
	t.Helper()
	svc := New(memory.NewSeeded(), guest.NewMemoryKV(), server.NewClient("http://unused.invalid"))
	sess := Session{Key: "guest:g-1", Guest: true, GuestID: "g-1"}
	return svc, sess
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func TestGuestAddUpdateRemoveFlow(t *testing.T) {
	svc, sess := newGuestService(t)
	ctx := context.Background()

	state, err := svc.AddItem(ctx, sess, domain.AddItemRequest{VariantID: "var-atta-5kg", Quantity: 2})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if state.Totals.SubtotalCents != 55000 {
		t.Fatalf("subtotal = %d", state.Totals.SubtotalCents)
	}
	if state.Totals.SavingsCents != 9000 {
		t.Fatalf("savings = %d", state.Totals.SavingsCents)
	}
	if state.Totals.DeliveryFeeCents != 0 {
		t.Fatalf("delivery fee = %d for subtotal above the free threshold", state.Totals.DeliveryFeeCents)
	}
	if !state.IsGuest || state.CartID != "g-1" {
		t.Fatalf("identity wrong: %+v", state)
	}

	state, err = svc.UpdateQuantity(ctx, sess, "var-atta-5kg", domain.UpdateQuantityRequest{Quantity: 1})
	if err != nil {
		t.Fatalf("UpdateQuantity: %v", err)
	}
	if state.Totals.SubtotalCents != 27500 {
		t.Fatalf("subtotal = %d", state.Totals.SubtotalCents)
	}
	if state.Totals.DeliveryFeeCents != 4000 {
		t.Fatalf("delivery fee = %d for subtotal below the free threshold", state.Totals.DeliveryFeeCents)
	}

	state, err = svc.RemoveItem(ctx, sess, "var-atta-5kg")
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(state.Items) != 0 || state.Totals.FinalTotalCents != 0 {
		t.Fatalf("expected empty cart, got %+v", state)
	}
}

func TestAddItemValidation(t *testing.T) {
	svc, sess := newGuestService(t)

	if _, err := svc.AddItem(context.Background(), sess, domain.AddItemRequest{VariantID: "", Quantity: 1}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
	if _, err := svc.AddItem(context.Background(), sess, domain.AddItemRequest{VariantID: "var-atta-5kg", Quantity: 0}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestApplyCouponHappyPath(t *testing.T) {
	svc, sess := newGuestService(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, sess, domain.AddItemRequest{VariantID: "var-atta-5kg", Quantity: 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	state, err := svc.ApplyCoupon(ctx, sess, domain.ApplyCouponRequest{Code: " save10 "})
	if err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}
	if state.Coupon == nil || state.Coupon.Code != "SAVE10" {
		t.Fatalf("coupon = %+v", state.Coupon)
	}
	// 10% of 55000 = 5500, under the 10000 cap.
	if state.Totals.CouponDiscountCents != 5500 {
		t.Fatalf("discount = %d", state.Totals.CouponDiscountCents)
	}
	if state.Totals.FinalTotalCents != 49500 {
		t.Fatalf("final = %d", state.Totals.FinalTotalCents)
	}
}

func TestApplyCouponRejectsUnknownInactiveAndBelowMinimum(t *testing.T) {
	svc, sess := newGuestService(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, sess, domain.AddItemRequest{VariantID: "var-milk-500ml", Quantity: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	if _, err := svc.ApplyCoupon(ctx, sess, domain.ApplyCouponRequest{Code: "NOPE"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown code err = %v", err)
	}
	if _, err := svc.ApplyCoupon(ctx, sess, domain.ApplyCouponRequest{Code: "OLD20"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("inactive code err = %v", err)
	}
	// FRESH50 needs 40000 in the cart; milk alone is 2800.
	if _, err := svc.ApplyCoupon(ctx, sess, domain.ApplyCouponRequest{Code: "FRESH50"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("below minimum err = %v", err)
	}

	state, err := svc.Cart(ctx, sess)
	if err != nil {
		t.Fatalf("Cart: %v", err)
	}
	if state.Coupon != nil {
		t.Fatalf("failed applies must leave the cart unchanged, got %+v", state.Coupon)
	}
}

func TestCouponPurgedWhenCartDropsBelowMinimum(t *testing.T) {
	svc, sess := newGuestService(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, sess, domain.AddItemRequest{VariantID: "var-atta-5kg", Quantity: 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := svc.ApplyCoupon(ctx, sess, domain.ApplyCouponRequest{Code: "FRESH50"}); err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}

	state, err := svc.UpdateQuantity(ctx, sess, "var-atta-5kg", domain.UpdateQuantityRequest{Quantity: 1})
	if err != nil {
		t.Fatalf("UpdateQuantity: %v", err)
	}
	if state.Coupon != nil {
		t.Fatalf("coupon should be purged below its minimum, got %+v", state.Coupon)
	}
	if state.Totals.CouponDiscountCents != 0 {
		t.Fatalf("discount = %d", state.Totals.CouponDiscountCents)
	}
}

func TestRemoveCoupon(t *testing.T) {
	svc, sess := newGuestService(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, sess, domain.AddItemRequest{VariantID: "var-atta-5kg", Quantity: 2}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := svc.ApplyCoupon(ctx, sess, domain.ApplyCouponRequest{Code: "SAVE10"}); err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}

	state, err := svc.RemoveCoupon(ctx, sess)
	if err != nil {
		t.Fatalf("RemoveCoupon: %v", err)
	}
	if state.Coupon != nil || state.Totals.CouponDiscountCents != 0 {
		t.Fatalf("coupon survived removal: %+v", state)
	}
	if len(state.Items) != 1 {
		t.Fatalf("items lost on coupon removal: %+v", state.Items)
	}
}

func TestGuestCouponGoneAfterCartEmptied(t *testing.T) {
	svc, sess := newGuestService(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, sess, domain.AddItemRequest{VariantID: "var-milk-500ml", Quantity: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if _, err := svc.ApplyCoupon(ctx, sess, domain.ApplyCouponRequest{Code: "SAVE10"}); err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}

	state, err := svc.UpdateQuantity(ctx, sess, "var-milk-500ml", domain.UpdateQuantityRequest{Quantity: 0})
	if err != nil {
		t.Fatalf("UpdateQuantity: %v", err)
	}
	if len(state.Items) != 0 || state.Coupon != nil {
		t.Fatalf("emptied cart not clean: %+v", state)
	}

	state, err = svc.AddItem(ctx, sess, domain.AddItemRequest{VariantID: "var-milk-500ml", Quantity: 1})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if state.Coupon != nil || state.Totals.CouponDiscountCents != 0 {
		t.Fatalf("old coupon came back on a fresh add: %+v", state)
	}
}

func TestAvailableCouponsEligibility(t *testing.T) {
	svc, sess := newGuestService(t)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, sess, domain.AddItemRequest{VariantID: "var-milk-500ml", Quantity: 1}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	coupons, err := svc.AvailableCoupons(ctx, sess)
	if err != nil {
		t.Fatalf("AvailableCoupons: %v", err)
	}

	byCode := map[string]domain.CouponDescriptor{}
	for _, c := range coupons {
		byCode[c.Code] = c
	}
	if _, ok := byCode["OLD20"]; ok {
		t.Fatal("inactive coupon listed")
	}
	if !byCode["SAVE10"].Eligible {
		t.Fatal("SAVE10 should be eligible with no minimum")
	}
	if byCode["FRESH50"].Eligible {
		t.Fatal("FRESH50 should be ineligible below its minimum")
	}
}

func TestServerSessionFlowAndEmptyCartCouponCleanup(t *testing.T) {
	var mu sync.Mutex
	var couponDeletes int
	items := 1

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/api/cart/coupon":
			couponDeletes++
			_, _ = w.Write([]byte(`{"success":true}`))
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/cart/items/"):
			items = 0
			fallthrough
		default:
			body := `{"success":true,"cart_id":"cart-9","items":[],"coupon":null}`
			if items > 0 {
				body = `{"success":true,"cart_id":"cart-9",
					"items":[{"id":"line-1","variant_id":"var-1","quantity":1,
						"price":{"mrp_cents":10000,"selling_cents":9000},
						"price_at_add":{"mrp_cents":10000,"selling_cents":9000}}],
					"coupon":{"code":"SAVE10","discount_type":"percentage","discount_value":10}}`
			} else {
				// Coupon still attached upstream after the cart emptied.
				body = `{"success":true,"cart_id":"cart-9","items":[],
					"coupon":{"code":"SAVE10","discount_type":"percentage","discount_value":10}}`
			}
			_, _ = w.Write([]byte(body))
		}
	}))
	defer upstream.Close()

	svc := New(memory.NewSeeded(), guest.NewMemoryKV(), server.NewClient(upstream.URL))
	sess := Session{Key: "user:tok-1", Token: "tok-1"}
	ctx := context.Background()

	state, err := svc.Cart(ctx, sess)
	if err != nil {
		t.Fatalf("Cart: %v", err)
	}
	if !strings.EqualFold(state.CartID, "cart-9") || state.IsGuest {
		t.Fatalf("identity wrong: %+v", state)
	}
	if state.Coupon == nil || state.Totals.CouponDiscountCents != 900 {
		t.Fatalf("coupon totals wrong: %+v", state.Totals)
	}

	state, err = svc.RemoveItem(ctx, sess, "line-1")
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(state.Items) != 0 || state.Coupon != nil {
		t.Fatalf("expected empty cart without coupon, got %+v", state)
	}

	mu.Lock()
	deletes := couponDeletes
	mu.Unlock()
	if deletes != 1 {
		t.Fatalf("coupon cleanup calls = %d, want 1", deletes)
	}
}

func TestCouponRemovedUpstreamDropsLocally(t *testing.T) {
	var mu sync.Mutex
	withCoupon := true

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		coupon := "null"
		if withCoupon {
			coupon = `{"code":"SAVE10","discount_type":"percentage","discount_value":10}`
		}
		_, _ = w.Write([]byte(`{"success":true,"cart_id":"cart-9",
			"items":[{"id":"line-1","variant_id":"var-1","quantity":1,
				"price":{"mrp_cents":10000,"selling_cents":9000},
				"price_at_add":{"mrp_cents":10000,"selling_cents":9000}}],
			"coupon":` + coupon + `}`))
	}))
	defer upstream.Close()

	svc := New(memory.NewSeeded(), guest.NewMemoryKV(), server.NewClient(upstream.URL))
	sess := Session{Key: "user:tok-3", Token: "tok-3"}
	ctx := context.Background()

	state, err := svc.Cart(ctx, sess)
	if err != nil {
		t.Fatalf("Cart: %v", err)
	}
	if state.Coupon == nil {
		t.Fatalf("expected coupon on first fetch, got %+v", state)
	}

	// The upstream dropped the coupon on its side. The next echo reports
	// no coupon, and the session must not hold on to the stale one.
	mu.Lock()
	withCoupon = false
	mu.Unlock()

	state, err = svc.Cart(ctx, sess)
	if err != nil {
		t.Fatalf("Cart: %v", err)
	}
	if state.Coupon != nil || state.Totals.CouponDiscountCents != 0 {
		t.Fatalf("stale coupon survived: %+v", state)
	}
}

func TestEmptyCartCleanupWhenEchoOmitsCoupon(t *testing.T) {
	var mu sync.Mutex
	var couponDeletes int
	items := 1

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/api/cart/coupon":
			couponDeletes++
			_, _ = w.Write([]byte(`{"success":true}`))
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/cart/items/"):
			items = 0
			fallthrough
		default:
			// Emptied echoes say nothing about the coupon at all.
			body := `{"success":true,"cart_id":"cart-9","items":[],"coupon":null}`
			if items > 0 {
				body = `{"success":true,"cart_id":"cart-9",
					"items":[{"id":"line-1","variant_id":"var-1","quantity":1,
						"price":{"mrp_cents":10000,"selling_cents":9000},
						"price_at_add":{"mrp_cents":10000,"selling_cents":9000}}],
					"coupon":{"code":"SAVE10","discount_type":"percentage","discount_value":10}}`
			}
			_, _ = w.Write([]byte(body))
		}
	}))
	defer upstream.Close()

	svc := New(memory.NewSeeded(), guest.NewMemoryKV(), server.NewClient(upstream.URL))
	sess := Session{Key: "user:tok-4", Token: "tok-4"}
	ctx := context.Background()

	if _, err := svc.Cart(ctx, sess); err != nil {
		t.Fatalf("Cart: %v", err)
	}

	state, err := svc.RemoveItem(ctx, sess, "line-1")
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(state.Items) != 0 || state.Coupon != nil {
		t.Fatalf("expected empty cart without coupon, got %+v", state)
	}

	mu.Lock()
	deletes := couponDeletes
	mu.Unlock()
	if deletes != 1 {
		t.Fatalf("coupon cleanup calls = %d, want 1", deletes)
	}
}

func TestBackendFailureLeavesStateUnchanged(t *testing.T) {
	var fail bool
	var mu sync.Mutex

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"success":false,"message":"upstream down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"cart_id":"cart-9",
			"items":[{"id":"line-1","variant_id":"var-1","quantity":2,
				"price":{"mrp_cents":5000,"selling_cents":4500},
				"price_at_add":{"mrp_cents":5000,"selling_cents":4500}}]}`))
	}))
	defer upstream.Close()

	svc := New(memory.NewSeeded(), guest.NewMemoryKV(), server.NewClient(upstream.URL))
	sess := Session{Key: "user:tok-2", Token: "tok-2"}
	ctx := context.Background()

	before, err := svc.Cart(ctx, sess)
	if err != nil {
		t.Fatalf("Cart: %v", err)
	}

	mu.Lock()
	fail = true
	mu.Unlock()

	after, err := svc.AddItem(ctx, sess, domain.AddItemRequest{VariantID: "var-2", Quantity: 1})
	if err == nil {
		t.Fatal("expected error from failing upstream")
	}
	if after.Totals.SubtotalCents != before.Totals.SubtotalCents || len(after.Items) != len(before.Items) {
		t.Fatalf("state changed on failure: before=%+v after=%+v", before.Totals, after.Totals)
	}
}

func TestAdminCouponLifecycle(t *testing.T) {
	svc, _ := newGuestService(t)
	ctx := adminCtx()

	created, err := svc.CreateCoupon(ctx, domain.CouponCreateRequest{
		Code: "weekend5", Type: "percentage", PercentOff: 5, MaxDiscountCents: 5000,
	})
	if err != nil {
		t.Fatalf("CreateCoupon: %v", err)
	}
	if created.Code != "WEEKEND5" || !created.Active {
		t.Fatalf("created = %+v", created)
	}

	toggled, err := svc.SetCouponActive(ctx, created.ID, false)
	if err != nil {
		t.Fatalf("SetCouponActive: %v", err)
	}
	if toggled.Active {
		t.Fatal("coupon still active after toggle")
	}

	all, err := svc.ListCoupons(ctx)
	if err != nil {
		t.Fatalf("ListCoupons: %v", err)
	}
	found := false
	for _, rule := range all {
		if rule.Code == "WEEKEND5" {
			found = true
		}
	}
	if !found {
		t.Fatal("created coupon missing from list")
	}
}

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	svc, _ := newGuestService(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "staff", Role: "staff"})

	if _, err := svc.CreateCoupon(ctx, domain.CouponCreateRequest{Code: "X", Type: "flat", FlatOffCents: 100}); err == nil {
		t.Fatal("expected role error")
	}
	if _, err := svc.ListCoupons(ctx); err == nil {
		t.Fatal("expected role error")
	}
	if _, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "X", Category: "y"}); err == nil {
		t.Fatal("expected role error")
	}
}

func TestCreateCouponValidation(t *testing.T) {
	svc, _ := newGuestService(t)
	ctx := adminCtx()

	cases := []domain.CouponCreateRequest{
		{Code: "", Type: "flat", FlatOffCents: 100},
		{Code: "A", Type: "percentage", PercentOff: 0},
		{Code: "B", Type: "percentage", PercentOff: 150},
		{Code: "C", Type: "flat", FlatOffCents: 0},
		{Code: "D", Type: "bogus", PercentOff: 10},
	}
	for _, req := range cases {
		if _, err := svc.CreateCoupon(ctx, req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("req %+v: err = %v", req, err)
		}
	}
}

func TestCreateProductAndVariant(t *testing.T) {
	svc, _ := newGuestService(t)
	ctx := adminCtx()

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Name: "Basmati Rice", Category: "staples"})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	variant, err := svc.CreateVariant(ctx, domain.VariantCreateRequest{
		ProductID: product.ID, Label: "1 kg", MRPCents: 12000, SellingCents: 10500,
	})
	if err != nil {
		t.Fatalf("CreateVariant: %v", err)
	}
	if variant.Price.SellingCents != 10500 {
		t.Fatalf("variant = %+v", variant)
	}

	sess := Session{Key: "guest:g-9", Guest: true, GuestID: "g-9"}
	state, err := svc.AddItem(context.Background(), sess, domain.AddItemRequest{VariantID: variant.ID, Quantity: 1})
	if err != nil {
		t.Fatalf("AddItem for new variant: %v", err)
	}
	if state.Totals.SubtotalCents != 10500 {
		t.Fatalf("subtotal = %d", state.Totals.SubtotalCents)
	}
}

func TestEvictIdleSessions(t *testing.T) {
	svc, sess := newGuestService(t)

	if _, err := svc.Cart(context.Background(), sess); err != nil {
		t.Fatalf("Cart: %v", err)
	}
	if svc.sessions.len() != 1 {
		t.Fatalf("sessions = %d", svc.sessions.len())
	}

	time.Sleep(5 * time.Millisecond)
	svc.EvictIdleSessions(time.Millisecond)
	if svc.sessions.len() != 0 {
		t.Fatalf("sessions after eviction = %d", svc.sessions.len())
	}
}
