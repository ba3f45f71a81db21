// Package guest stores anonymous carts in a key-value store owned by this
// service. Lines are stored as variant references with a frozen price; the
// catalog is joined in on every read so labels and live prices stay fresh.
package guest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"freshcart/backend/internal/backend"
	"freshcart/backend/internal/domain"
	"freshcart/backend/internal/store"
)

const cartTTL = 30 * 24 * time.Hour

// KV is the minimal key-value surface the guest backend needs. Redis in
// production, MemoryKV in tests and when Redis is unreachable at boot.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(ctx context.Context, addr, password string, db int) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisKV{client: client}, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}

type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: map[string]string{}}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.values[key]
	return val, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

// storedLine is the persisted shape of one guest cart line. Only the variant
// reference, quantity and the price frozen at add time are stored.
type storedLine struct {
	VariantID  string              `json:"variant_id"`
	Quantity   int                 `json:"quantity"`
	PriceAtAdd domain.VariantPrice `json:"price_at_add"`
}

// couponRecord is the persisted coupon. Version 1 records used a bare
// "discount" key; both shapes decode.
type couponRecord struct {
	Version      int      `json:"version,omitempty"`
	Code         string   `json:"code"`
	Type         string   `json:"type,omitempty"`
	DiscountType string   `json:"discount_type,omitempty"`
	Value        *float64 `json:"discount_value,omitempty"`
	Discount     *float64 `json:"discount,omitempty"`
	MaxDiscount  *float64 `json:"max_discount_amount,omitempty"`
	MinCartValue *float64 `json:"min_cart_value,omitempty"`
}

type Backend struct {
	kv        KV
	catalog   store.Repository
	sessionID string
}

func New(kv KV, catalog store.Repository, sessionID string) *Backend {
	return &Backend{kv: kv, catalog: catalog, sessionID: sessionID}
}

func (b *Backend) cartKey() string   { return "guestcart:" + b.sessionID }
func (b *Backend) couponKey() string { return "guestcart:coupon:" + b.sessionID }

func (b *Backend) Fetch(ctx context.Context) (backend.Snapshot, error) {
	lines, err := b.loadLines(ctx)
	if err != nil {
		return backend.Snapshot{}, err
	}
	return b.snapshot(ctx, lines)
}

func (b *Backend) Add(ctx context.Context, variantID string, quantity int) (backend.Snapshot, error) {
	if quantity < 1 {
		return backend.Snapshot{}, store.ErrInvalidInput
	}

	entry, err := b.catalog.GetCatalogEntry(ctx, variantID)
	if err != nil {
		return backend.Snapshot{}, err
	}

	lines, err := b.loadLines(ctx)
	if err != nil {
		return backend.Snapshot{}, err
	}

	found := false
	for i := range lines {
		if lines[i].VariantID == variantID {
			lines[i].Quantity += quantity
			found = true
			break
		}
	}
	if !found {
		lines = append(lines, storedLine{
			VariantID:  variantID,
			Quantity:   quantity,
			PriceAtAdd: entry.Variant.Price,
		})
	}

	if err := b.saveLines(ctx, lines); err != nil {
		return backend.Snapshot{}, err
	}
	return b.snapshot(ctx, lines)
}

// UpdateQuantity sets the quantity for one line. Guest line ids are the
// variant ids. A quantity of zero or less removes the line.
func (b *Backend) UpdateQuantity(ctx context.Context, lineID string, quantity int) (backend.Snapshot, error) {
	lines, err := b.loadLines(ctx)
	if err != nil {
		return backend.Snapshot{}, err
	}

	next := make([]storedLine, 0, len(lines))
	found := false
	for _, line := range lines {
		if line.VariantID != lineID {
			next = append(next, line)
			continue
		}
		found = true
		if quantity > 0 {
			line.Quantity = quantity
			next = append(next, line)
		}
	}
	if !found {
		return backend.Snapshot{}, store.ErrNotFound
	}

	if err := b.saveLines(ctx, next); err != nil {
		return backend.Snapshot{}, err
	}
	return b.snapshot(ctx, next)
}

func (b *Backend) Remove(ctx context.Context, lineID string) (backend.Snapshot, error) {
	return b.UpdateQuantity(ctx, lineID, 0)
}

func (b *Backend) Clear(ctx context.Context) (backend.Snapshot, error) {
	if err := b.kv.Del(ctx, b.cartKey(), b.couponKey()); err != nil {
		return backend.Snapshot{}, err
	}
	return backend.Snapshot{Items: []domain.LineItem{}, CartID: b.sessionID}, nil
}

func (b *Backend) ApplyCoupon(ctx context.Context, code string) (backend.Snapshot, error) {
	rule, err := b.catalog.GetCouponByCode(ctx, code)
	if err != nil {
		return backend.Snapshot{}, err
	}

	value := rule.PercentOff
	if rule.Type == domain.CouponTypeFlat {
		value = float64(rule.FlatOffCents) / 100
	}
	maxDiscount := float64(rule.MaxDiscountCents) / 100
	minCart := float64(rule.MinCartCents) / 100

	record := couponRecord{
		Version:      2,
		Code:         rule.Code,
		Type:         rule.Type,
		Value:        &value,
		MaxDiscount:  &maxDiscount,
		MinCartValue: &minCart,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return backend.Snapshot{}, err
	}
	if err := b.kv.Set(ctx, b.couponKey(), string(raw), cartTTL); err != nil {
		return backend.Snapshot{}, err
	}

	lines, err := b.loadLines(ctx)
	if err != nil {
		return backend.Snapshot{}, err
	}
	return b.snapshot(ctx, lines)
}

func (b *Backend) RemoveCoupon(ctx context.Context) (backend.Snapshot, error) {
	if err := b.kv.Del(ctx, b.couponKey()); err != nil {
		return backend.Snapshot{}, err
	}
	lines, err := b.loadLines(ctx)
	if err != nil {
		return backend.Snapshot{}, err
	}
	return b.snapshot(ctx, lines)
}

func (b *Backend) loadLines(ctx context.Context) ([]storedLine, error) {
	raw, ok, err := b.kv.Get(ctx, b.cartKey())
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return []storedLine{}, nil
	}

	var lines []storedLine
	if err := json.Unmarshal([]byte(raw), &lines); err != nil {
		log.Printf("[guest-cart] WARN: corrupt cart blob for session %s, starting empty: %v", b.sessionID, err)
		return []storedLine{}, nil
	}
	return lines, nil
}

// saveLines persists the line set. An emptied cart deletes the coupon record
// too, so a later add starts without a leftover coupon.
func (b *Backend) saveLines(ctx context.Context, lines []storedLine) error {
	if len(lines) == 0 {
		return b.kv.Del(ctx, b.cartKey(), b.couponKey())
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	return b.kv.Set(ctx, b.cartKey(), string(raw), cartTTL)
}

// loadCoupon decodes the stored coupon defensively. A malformed record is
// treated as no coupon rather than failing the whole cart read.
func (b *Backend) loadCoupon(ctx context.Context) (*domain.AppliedCoupon, error) {
	raw, ok, err := b.kv.Get(ctx, b.couponKey())
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var record couponRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		log.Printf("[guest-cart] WARN: corrupt coupon record for session %s, dropping: %v", b.sessionID, err)
		return nil, nil
	}

	payload := backend.CouponPayload{
		Code:              record.Code,
		Type:              record.Type,
		DiscountType:      record.DiscountType,
		DiscountValue:     record.Value,
		Discount:          record.Discount,
		MaxDiscountAmount: record.MaxDiscount,
		MinCartValue:      record.MinCartValue,
	}
	return backend.NormalizeCoupon(&payload, nil), nil
}

// snapshot joins stored lines against the live catalog. Lines whose variant
// has disappeared from the catalog are dropped with a warning.
func (b *Backend) snapshot(ctx context.Context, lines []storedLine) (backend.Snapshot, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.VariantID)
	}

	entries, err := b.catalog.GetCatalogEntries(ctx, ids)
	if err != nil {
		return backend.Snapshot{}, err
	}

	items := make([]domain.LineItem, 0, len(lines))
	for _, line := range lines {
		entry, ok := entries[line.VariantID]
		if !ok {
			log.Printf("[guest-cart] WARN: variant %s no longer in catalog, dropping line for session %s", line.VariantID, b.sessionID)
			continue
		}
		items = append(items, domain.LineItem{
			ID:          line.VariantID,
			VariantID:   line.VariantID,
			Label:       entry.Variant.Label,
			ProductID:   entry.Product.ID,
			ProductName: entry.Product.Name,
			ImageURL:    entry.Product.ImageURL,
			PriceAtAdd:  line.PriceAtAdd,
			Price:       entry.Variant.Price,
			Quantity:    line.Quantity,
		})
	}

	coupon, err := b.loadCoupon(ctx)
	if err != nil {
		return backend.Snapshot{}, err
	}

	return backend.Snapshot{Items: items, CartID: b.sessionID, Coupon: coupon}, nil
}
