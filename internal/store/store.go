package store

import (
	"context"
	"errors"

	"freshcart/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Repository is the catalog and coupon-definition store shared with the rest
// of the storefront platform. Cart contents never live here: guest carts are
// in the session KV and authenticated carts belong to the upstream cart API.
type Repository interface {
	ListCatalog(ctx context.Context) ([]domain.CatalogEntry, error)
	GetCatalogEntry(ctx context.Context, variantID string) (*domain.CatalogEntry, error)
	GetCatalogEntries(ctx context.Context, variantIDs []string) (map[string]domain.CatalogEntry, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	CreateVariant(ctx context.Context, variant domain.Variant) (*domain.Variant, error)

	GetCouponByCode(ctx context.Context, code string) (*domain.CouponRule, error)
	ListCoupons(ctx context.Context, activeOnly bool) ([]domain.CouponRule, error)
	CreateCoupon(ctx context.Context, rule domain.CouponRule) (*domain.CouponRule, error)
	SetCouponActive(ctx context.Context, couponID string, active bool) (*domain.CouponRule, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
