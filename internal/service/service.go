package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"freshcart/backend/internal/backend"
	"freshcart/backend/internal/backend/guest"
	"freshcart/backend/internal/backend/server"
	"freshcart/backend/internal/domain"
	"freshcart/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	guestKV  guest.KV
	upstream *server.Client
	sessions *sessionRegistry
}

func New(repo store.Repository, guestKV guest.KV, upstream *server.Client) *Service {
	return &Service{
		repo:     repo,
		guestKV:  guestKV,
		upstream: upstream,
		sessions: newSessionRegistry(),
	}
}

// EvictIdleSessions drops in-memory cart state for sessions idle longer than
// maxIdle. Called periodically from main.
func (s *Service) EvictIdleSessions(maxIdle time.Duration) {
	if evicted := s.sessions.evictIdle(maxIdle); evicted > 0 {
		log.Printf("[service] evicted %d idle cart sessions, %d remain", evicted, s.sessions.len())
	}
}

func (s *Service) backendFor(sess Session, prevCoupon *domain.AppliedCoupon) backend.CartBackend {
	if sess.Guest {
		return guest.New(s.guestKV, s.repo, sess.GuestID)
	}
	return s.upstream.NewBackend(sess.Token, prevCoupon)
}

// mutate runs one backend operation under the session lock and folds the
// result into the session's cart state. On error the state is untouched and
// the previous snapshot is returned alongside the error.
func (s *Service) mutate(ctx context.Context, sess Session, op func(context.Context, backend.CartBackend) (backend.Snapshot, error)) (domain.CartState, error) {
	entry := s.sessions.acquire(sess.Key)
	defer entry.mu.Unlock()

	prev := entry.state.Snapshot()
	be := s.backendFor(sess, prev.Coupon)

	snap, err := op(ctx, be)
	if err != nil {
		return prev, err
	}

	cartID := snap.CartID
	if cartID == "" {
		cartID = prev.CartID
	}
	isGuest := sess.Guest

	// The backend's view of the coupon is authoritative: the guest path
	// re-reads the KV record and the server path normalizes the echo, so a
	// nil snapshot coupon means "removed", not "unknown". Drop the stored
	// coupon first so SetCart's keep-previous rule cannot resurrect it.
	if snap.Coupon == nil && prev.Coupon != nil {
		entry.state.RemoveCoupon()
	}

	next := entry.state.SetCart(snap.Items, &cartID, &isGuest, snap.Coupon)

	// A server-side cart that just became empty may still have a coupon
	// attached upstream, whether or not the emptied echo mentions it. Clean
	// it up best-effort; the local state is already consistent either way.
	if !sess.Guest && len(snap.Items) == 0 && (snap.Coupon != nil || prev.Coupon != nil) {
		known := snap.Coupon
		if known == nil {
			known = prev.Coupon
		}
		s.removeCouponBestEffort(sess, known)
		next = entry.state.RemoveCoupon()
	}

	return next, nil
}

func (s *Service) removeCouponBestEffort(sess Session, prevCoupon *domain.AppliedCoupon) {
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	be := s.backendFor(sess, prevCoupon)
	if _, err := be.RemoveCoupon(cleanupCtx); err != nil {
		log.Printf("[service] WARN: failed to remove coupon from emptied cart session=%s: %v", sess.Key, err)
	}
}

func (s *Service) Cart(ctx context.Context, sess Session) (domain.CartState, error) {
	return s.mutate(ctx, sess, func(ctx context.Context, be backend.CartBackend) (backend.Snapshot, error) {
		return be.Fetch(ctx)
	})
}

func (s *Service) AddItem(ctx context.Context, sess Session, req domain.AddItemRequest) (domain.CartState, error) {
	req.VariantID = strings.TrimSpace(req.VariantID)
	if req.VariantID == "" || req.Quantity < 1 {
		return domain.CartState{}, store.ErrInvalidInput
	}

	return s.mutate(ctx, sess, func(ctx context.Context, be backend.CartBackend) (backend.Snapshot, error) {
		return be.Add(ctx, req.VariantID, req.Quantity)
	})
}

func (s *Service) UpdateQuantity(ctx context.Context, sess Session, lineID string, req domain.UpdateQuantityRequest) (domain.CartState, error) {
	lineID = strings.TrimSpace(lineID)
	if lineID == "" || req.Quantity < 0 {
		return domain.CartState{}, store.ErrInvalidInput
	}

	return s.mutate(ctx, sess, func(ctx context.Context, be backend.CartBackend) (backend.Snapshot, error) {
		return be.UpdateQuantity(ctx, lineID, req.Quantity)
	})
}

func (s *Service) RemoveItem(ctx context.Context, sess Session, lineID string) (domain.CartState, error) {
	lineID = strings.TrimSpace(lineID)
	if lineID == "" {
		return domain.CartState{}, store.ErrInvalidInput
	}

	return s.mutate(ctx, sess, func(ctx context.Context, be backend.CartBackend) (backend.Snapshot, error) {
		return be.Remove(ctx, lineID)
	})
}

func (s *Service) ClearCart(ctx context.Context, sess Session) (domain.CartState, error) {
	return s.mutate(ctx, sess, func(ctx context.Context, be backend.CartBackend) (backend.Snapshot, error) {
		return be.Clear(ctx)
	})
}

// ApplyCoupon validates the code against the coupon catalog before touching
// the backend, so the customer gets a precise message instead of a silently
// unchanged cart.
func (s *Service) ApplyCoupon(ctx context.Context, sess Session, req domain.ApplyCouponRequest) (domain.CartState, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return domain.CartState{}, fmt.Errorf("%w: coupon code is required", store.ErrInvalidInput)
	}

	rule, err := s.repo.GetCouponByCode(ctx, code)
	if err != nil {
		return domain.CartState{}, err
	}
	if !rule.Active {
		return domain.CartState{}, fmt.Errorf("%w: coupon %s is no longer active", store.ErrInvalidInput, code)
	}

	current, err := s.Cart(ctx, sess)
	if err != nil {
		return domain.CartState{}, err
	}
	if rule.MinCartCents > 0 && current.Totals.SubtotalCents < rule.MinCartCents {
		return domain.CartState{}, fmt.Errorf("%w: coupon %s needs a cart of at least %d", store.ErrInvalidInput, code, rule.MinCartCents)
	}

	return s.mutate(ctx, sess, func(ctx context.Context, be backend.CartBackend) (backend.Snapshot, error) {
		return be.ApplyCoupon(ctx, code)
	})
}

func (s *Service) RemoveCoupon(ctx context.Context, sess Session) (domain.CartState, error) {
	return s.mutate(ctx, sess, func(ctx context.Context, be backend.CartBackend) (backend.Snapshot, error) {
		return be.RemoveCoupon(ctx)
	})
}

// AvailableCoupons lists active coupon rules with eligibility computed
// against the session's current subtotal.
func (s *Service) AvailableCoupons(ctx context.Context, sess Session) ([]domain.CouponDescriptor, error) {
	current, err := s.Cart(ctx, sess)
	if err != nil {
		return nil, err
	}

	rules, err := s.repo.ListCoupons(ctx, true)
	if err != nil {
		return nil, err
	}

	descriptors := make([]domain.CouponDescriptor, 0, len(rules))
	for _, rule := range rules {
		descriptors = append(descriptors, domain.CouponDescriptor{
			Code:             rule.Code,
			Type:             rule.Type,
			PercentOff:       rule.PercentOff,
			FlatOffCents:     rule.FlatOffCents,
			MaxDiscountCents: rule.MaxDiscountCents,
			MinCartCents:     rule.MinCartCents,
			Eligible:         current.Totals.SubtotalCents >= rule.MinCartCents,
		})
	}
	return descriptors, nil
}

func (s *Service) ListCatalog(ctx context.Context) ([]domain.CatalogEntry, error) {
	return s.repo.ListCatalog(ctx)
}

func (s *Service) CreateCoupon(ctx context.Context, req domain.CouponCreateRequest) (domain.CouponRule, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.CouponRule{}, fmt.Errorf("admin role required")
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))

	if req.Code == "" {
		return domain.CouponRule{}, fmt.Errorf("%w: coupon code is required", store.ErrInvalidInput)
	}
	switch req.Type {
	case domain.CouponTypePercentage:
		if req.PercentOff <= 0 || req.PercentOff > 100 {
			return domain.CouponRule{}, fmt.Errorf("%w: percent must be in (0,100]", store.ErrInvalidInput)
		}
	case domain.CouponTypeFlat:
		if req.FlatOffCents < 1 {
			return domain.CouponRule{}, fmt.Errorf("%w: flat discount must be positive", store.ErrInvalidInput)
		}
	default:
		return domain.CouponRule{}, fmt.Errorf("%w: unknown coupon type %q", store.ErrInvalidInput, req.Type)
	}
	if req.MaxDiscountCents < 0 || req.MinCartCents < 0 {
		return domain.CouponRule{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateCoupon(ctx, domain.CouponRule{
		Code:             req.Code,
		Type:             req.Type,
		PercentOff:       req.PercentOff,
		FlatOffCents:     req.FlatOffCents,
		MaxDiscountCents: req.MaxDiscountCents,
		MinCartCents:     req.MinCartCents,
		Active:           true,
	})
	if err != nil {
		return domain.CouponRule{}, err
	}
	return *created, nil
}

func (s *Service) ListCoupons(ctx context.Context) ([]domain.CouponRule, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	return s.repo.ListCoupons(ctx, false)
}

func (s *Service) SetCouponActive(ctx context.Context, couponID string, active bool) (domain.CouponRule, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.CouponRule{}, fmt.Errorf("admin role required")
	}

	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.CouponRule{}, store.ErrInvalidInput
	}

	updated, err := s.repo.SetCouponActive(ctx, couponID, active)
	if err != nil {
		return domain.CouponRule{}, err
	}
	return *updated, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:     req.Name,
		Category: req.Category,
		ImageURL: strings.TrimSpace(req.ImageURL),
		Active:   true,
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) CreateVariant(ctx context.Context, req domain.VariantCreateRequest) (domain.Variant, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Variant{}, fmt.Errorf("admin role required")
	}

	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Label = strings.TrimSpace(req.Label)
	if req.ProductID == "" || req.Label == "" || req.SellingCents < 1 {
		return domain.Variant{}, store.ErrInvalidInput
	}
	if req.MRPCents < req.SellingCents {
		req.MRPCents = req.SellingCents
	}

	created, err := s.repo.CreateVariant(ctx, domain.Variant{
		ProductID: req.ProductID,
		Label:     req.Label,
		Price: domain.VariantPrice{
			MRPCents:        req.MRPCents,
			SellingCents:    req.SellingCents,
			DiscountPercent: req.DiscountPct,
		},
		Active: true,
	})
	if err != nil {
		return domain.Variant{}, err
	}
	return *created, nil
}
