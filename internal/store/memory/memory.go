package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"freshcart/backend/internal/domain"
	"freshcart/backend/internal/store"
	"freshcart/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	productsByID    map[string]domain.Product
	variantsByID    map[string]domain.Variant
	couponsByID     map[string]domain.CouponRule
	couponIDByCode  map[string]string
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		productsByID:    map[string]domain.Product{},
		variantsByID:    map[string]domain.Variant{},
		couponsByID:     map[string]domain.CouponRule{},
		couponIDByCode:  map[string]string{},
		usersByUsername: seedUsers(),
	}
}

// NewSeeded builds a store pre-loaded with a small grocery catalog and a few
// coupon rules for dev/demo mode and tests.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{ID: "prod-atta", Name: "Whole Wheat Atta", Category: "staples", Active: true},
		{ID: "prod-milk", Name: "Toned Milk", Category: "dairy", Active: true},
		{ID: "prod-banana", Name: "Robusta Banana", Category: "fruits", Active: true},
	}
	variants := []domain.Variant{
		{ID: "var-atta-5kg", ProductID: "prod-atta", Label: "5 kg", Price: domain.VariantPrice{MRPCents: 32000, SellingCents: 27500, DiscountPercent: 14}, Active: true},
		{ID: "var-atta-1kg", ProductID: "prod-atta", Label: "1 kg", Price: domain.VariantPrice{MRPCents: 7000, SellingCents: 6200}, Active: true},
		{ID: "var-milk-500ml", ProductID: "prod-milk", Label: "500 ml", Price: domain.VariantPrice{MRPCents: 3000, SellingCents: 2800}, Active: true},
		{ID: "var-banana-6", ProductID: "prod-banana", Label: "6 pcs", Price: domain.VariantPrice{MRPCents: 4500, SellingCents: 3900}, Active: true},
	}
	coupons := []domain.CouponRule{
		{ID: "coupon-save10", Code: "SAVE10", Type: domain.CouponTypePercentage, PercentOff: 10, MaxDiscountCents: 10000, Active: true, CreatedAt: now},
		{ID: "coupon-fresh50", Code: "FRESH50", Type: domain.CouponTypeFlat, FlatOffCents: 5000, MinCartCents: 40000, Active: true, CreatedAt: now},
		{ID: "coupon-old20", Code: "OLD20", Type: domain.CouponTypePercentage, PercentOff: 20, Active: false, CreatedAt: now},
	}

	for _, p := range products {
		s.productsByID[p.ID] = p
	}
	for _, v := range variants {
		s.variantsByID[v.ID] = v
	}
	for _, c := range coupons {
		s.couponsByID[c.ID] = c
		s.couponIDByCode[c.Code] = c.ID
	}

	return s
}

// seedUsers builds the initial admin-console accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD; a hardcoded dev default is used
// with a warning when unset. Production deployments use PostgreSQL.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := os.Getenv("SEED_ADMIN_PASSWORD")
	if adminPwd == "" {
		adminPwd = "admin123"
		log.Println("[memory-store] WARNING: using default dev admin credentials. Set SEED_ADMIN_PASSWORD to override.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPwd), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[memory-store] WARN: failed to hash seed password: %v", err)
		return map[string]domain.UserAccount{}
	}

	return map[string]domain.UserAccount{
		"admin": {
			Username:  "admin",
			Password:  string(hash),
			Role:      "admin",
			Active:    true,
			CreatedAt: time.Now().UTC(),
		},
	}
}

func (s *Store) ListCatalog(_ context.Context) ([]domain.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.CatalogEntry, 0, len(s.variantsByID))
	for _, v := range s.variantsByID {
		if !v.Active {
			continue
		}
		product, ok := s.productsByID[v.ProductID]
		if !ok || !product.Active {
			continue
		}
		entries = append(entries, domain.CatalogEntry{Variant: v, Product: product})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Product.Name == entries[j].Product.Name {
			return entries[i].Variant.Label < entries[j].Variant.Label
		}
		return entries[i].Product.Name < entries[j].Product.Name
	})
	return entries, nil
}

func (s *Store) GetCatalogEntry(_ context.Context, variantID string) (*domain.CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	variant, ok := s.variantsByID[variantID]
	if !ok || !variant.Active {
		return nil, store.ErrNotFound
	}
	product, ok := s.productsByID[variant.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}

	return &domain.CatalogEntry{Variant: variant, Product: product}, nil
}

func (s *Store) GetCatalogEntries(ctx context.Context, variantIDs []string) (map[string]domain.CatalogEntry, error) {
	out := make(map[string]domain.CatalogEntry, len(variantIDs))
	for _, id := range variantIDs {
		entry, err := s.GetCatalogEntry(ctx, id)
		if err != nil {
			continue
		}
		out[id] = *entry
	}
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Category == "" {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product.Active = true

	s.mu.Lock()
	defer s.mu.Unlock()
	s.productsByID[product.ID] = product

	created := product
	return &created, nil
}

func (s *Store) CreateVariant(_ context.Context, variant domain.Variant) (*domain.Variant, error) {
	if variant.ProductID == "" || variant.Label == "" || variant.Price.SellingCents < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.productsByID[variant.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	if variant.ID == "" {
		variant.ID = xid.New("var")
	}
	variant.Active = true
	s.variantsByID[variant.ID] = variant

	created := variant
	return &created, nil
}

func (s *Store) GetCouponByCode(_ context.Context, code string) (*domain.CouponRule, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.couponIDByCode[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	rule := s.couponsByID[id]
	return &rule, nil
}

func (s *Store) ListCoupons(_ context.Context, activeOnly bool) ([]domain.CouponRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]domain.CouponRule, 0, len(s.couponsByID))
	for _, rule := range s.couponsByID {
		if activeOnly && !rule.Active {
			continue
		}
		rules = append(rules, rule)
	}

	sort.Slice(rules, func(i, j int) bool { return rules[i].Code < rules[j].Code })
	return rules, nil
}

func (s *Store) CreateCoupon(_ context.Context, rule domain.CouponRule) (*domain.CouponRule, error) {
	if rule.Code == "" || (rule.Type != domain.CouponTypePercentage && rule.Type != domain.CouponTypeFlat) {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.couponIDByCode[rule.Code]; exists {
		return nil, store.ErrInvalidInput
	}
	if rule.ID == "" {
		rule.ID = xid.New("coupon")
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	s.couponsByID[rule.ID] = rule
	s.couponIDByCode[rule.Code] = rule.ID

	created := rule
	return &created, nil
}

func (s *Store) SetCouponActive(_ context.Context, couponID string, active bool) (*domain.CouponRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.couponsByID[couponID]
	if !ok {
		return nil, store.ErrNotFound
	}
	rule.Active = active
	s.couponsByID[couponID] = rule

	updated := rule
	return &updated, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
