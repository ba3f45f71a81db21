package cartstate

import (
	"sync"

	"freshcart/backend/internal/domain"
	"freshcart/backend/internal/pricing"
)

// Store is the single owner of one session's cart state. All mutation goes
// through SetCart, ApplyCoupon, RemoveCoupon and ClearCart; totals are
// recomputed by the pricing engine on every write and never accepted from
// callers. Operations cannot fail: invalid input degrades to "no discount".
type Store struct {
	mu          sync.Mutex
	state       domain.CartState
	nextSubID   int
	subscribers map[int]func(domain.CartState)
}

func New() *Store {
	return &Store{
		state:       domain.CartState{Items: []domain.LineItem{}},
		subscribers: make(map[int]func(domain.CartState)),
	}
}

// Snapshot returns a copy of the current state. The items slice and coupon
// are copied so callers can hold the result across later mutations.
func (s *Store) Snapshot() domain.CartState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyState()
}

// SetCart replaces the cart with the authoritative post-mutation item list.
// Items with non-positive quantity are filtered out before storage. Nil
// cartID/isGuest mean "leave unchanged", so flows that only know part of the
// identity can still commit. A supplied coupon takes precedence over the
// stored one; whichever wins, it survives only if it still yields a
// discount. This is the one place a stale or ineligible coupon gets purged.
func (s *Store) SetCart(items []domain.LineItem, cartID *string, isGuest *bool, coupon *domain.AppliedCoupon) domain.CartState {
	s.mu.Lock()

	kept := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		if item.Quantity > 0 {
			kept = append(kept, item)
		}
	}

	if cartID != nil {
		s.state.CartID = *cartID
	}
	if isGuest != nil {
		s.state.IsGuest = *isGuest
	}

	candidate := coupon
	if candidate == nil {
		candidate = s.state.Coupon
	}

	totals := pricing.Calculate(kept, candidate)
	if totals.CouponDiscountCents <= 0 {
		candidate = nil
		totals.CouponDiscountCents = 0
		totals.FinalTotalCents = totals.SubtotalCents + totals.DeliveryFeeCents
	}

	s.state.Items = kept
	s.state.Coupon = cloneCoupon(candidate)
	s.state.Totals = totals

	return s.commit()
}

// ApplyCoupon recomputes totals with the new coupon against the current
// items and stores it only when the resulting discount is positive. An
// ineligible coupon is a silent no-op on the state; callers surface the
// user-facing error before getting here.
func (s *Store) ApplyCoupon(coupon domain.AppliedCoupon) (domain.CartState, bool) {
	s.mu.Lock()

	totals := pricing.Calculate(s.state.Items, &coupon)
	kept := totals.CouponDiscountCents > 0
	if kept {
		s.state.Coupon = cloneCoupon(&coupon)
	} else {
		s.state.Coupon = nil
		totals.CouponDiscountCents = 0
		totals.FinalTotalCents = totals.SubtotalCents + totals.DeliveryFeeCents
	}
	s.state.Totals = totals

	return s.commit(), kept
}

// RemoveCoupon unconditionally clears the coupon and recomputes totals.
func (s *Store) RemoveCoupon() domain.CartState {
	s.mu.Lock()

	s.state.Coupon = nil
	s.state.Totals = pricing.Calculate(s.state.Items, nil)

	return s.commit()
}

// ClearCart resets to the zero-value initial state.
func (s *Store) ClearCart() domain.CartState {
	s.mu.Lock()

	s.state = domain.CartState{Items: []domain.LineItem{}}

	return s.commit()
}

// Subscribe registers a callback invoked with a state snapshot after every
// committed mutation. The returned cancel func removes the subscription.
func (s *Store) Subscribe(fn func(domain.CartState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// commit snapshots the state, releases the lock and notifies subscribers.
// Callers must hold s.mu.
func (s *Store) commit() domain.CartState {
	snapshot := s.copyState()
	subs := make([]func(domain.CartState), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	return snapshot
}

func (s *Store) copyState() domain.CartState {
	out := s.state
	out.Items = make([]domain.LineItem, len(s.state.Items))
	copy(out.Items, s.state.Items)
	out.Coupon = cloneCoupon(s.state.Coupon)
	return out
}

func cloneCoupon(coupon *domain.AppliedCoupon) *domain.AppliedCoupon {
	if coupon == nil {
		return nil
	}
	clone := *coupon
	return &clone
}
