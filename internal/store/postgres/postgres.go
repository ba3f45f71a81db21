package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"freshcart/backend/internal/domain"
	"freshcart/backend/internal/store"
	"freshcart/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListCatalog(ctx context.Context) ([]domain.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.product_id, v.label, v.mrp_cents, v.selling_cents, v.discount_percent, v.active,
		       p.id, p.name, p.category, p.image_url, p.active
		FROM variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.active = true AND p.active = true
		ORDER BY p.name, v.label
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CatalogEntry, 0, 128)
	for rows.Next() {
		entry, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func (s *Store) GetCatalogEntry(ctx context.Context, variantID string) (*domain.CatalogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT v.id, v.product_id, v.label, v.mrp_cents, v.selling_cents, v.discount_percent, v.active,
		       p.id, p.name, p.category, p.image_url, p.active
		FROM variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.active = true AND v.id = $1
	`, variantID)

	entry, err := scanCatalogEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Store) GetCatalogEntries(ctx context.Context, variantIDs []string) (map[string]domain.CatalogEntry, error) {
	if len(variantIDs) == 0 {
		return map[string]domain.CatalogEntry{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.product_id, v.label, v.mrp_cents, v.selling_cents, v.discount_percent, v.active,
		       p.id, p.name, p.category, p.image_url, p.active
		FROM variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.active = true AND v.id = ANY($1)
	`, variantIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make(map[string]domain.CatalogEntry, len(variantIDs))
	for rows.Next() {
		entry, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		entries[entry.Variant.ID] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Category == "" {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, image_url, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
	`, product.ID, product.Name, product.Category, product.ImageURL, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) CreateVariant(ctx context.Context, variant domain.Variant) (*domain.Variant, error) {
	if variant.ProductID == "" || variant.Label == "" || variant.Price.SellingCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if variant.ID == "" {
		variant.ID = xid.New("var")
	}
	variant.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variants (id, product_id, label, mrp_cents, selling_cents, discount_percent, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
	`, variant.ID, variant.ProductID, variant.Label, variant.Price.MRPCents, variant.Price.SellingCents, variant.Price.DiscountPercent, variant.Active)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := variant
	return &created, nil
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*domain.CouponRule, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	var rule domain.CouponRule
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, type, percent_off, flat_off_cents, max_discount_cents, min_cart_cents, active, created_at
		FROM coupons
		WHERE code = $1
	`, code).Scan(
		&rule.ID, &rule.Code, &rule.Type, &rule.PercentOff, &rule.FlatOffCents,
		&rule.MaxDiscountCents, &rule.MinCartCents, &rule.Active, &rule.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	return &rule, nil
}

func (s *Store) ListCoupons(ctx context.Context, activeOnly bool) ([]domain.CouponRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, type, percent_off, flat_off_cents, max_discount_cents, min_cart_cents, active, created_at
		FROM coupons
		WHERE active = true OR $1 = false
		ORDER BY code ASC
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]domain.CouponRule, 0, 16)
	for rows.Next() {
		var rule domain.CouponRule
		if err := rows.Scan(
			&rule.ID, &rule.Code, &rule.Type, &rule.PercentOff, &rule.FlatOffCents,
			&rule.MaxDiscountCents, &rule.MinCartCents, &rule.Active, &rule.CreatedAt,
		); err != nil {
			return nil, err
		}
		rule.CreatedAt = rule.CreatedAt.UTC()
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *Store) CreateCoupon(ctx context.Context, rule domain.CouponRule) (*domain.CouponRule, error) {
	rule.Code = strings.ToUpper(strings.TrimSpace(rule.Code))
	if rule.Code == "" || (rule.Type != domain.CouponTypePercentage && rule.Type != domain.CouponTypeFlat) {
		return nil, store.ErrInvalidInput
	}
	if rule.ID == "" {
		rule.ID = xid.New("coupon")
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coupons (id, code, type, percent_off, flat_off_cents, max_discount_cents, min_cart_cents, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, rule.ID, rule.Code, rule.Type, rule.PercentOff, rule.FlatOffCents, rule.MaxDiscountCents, rule.MinCartCents, rule.Active, rule.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := rule
	return &created, nil
}

func (s *Store) SetCouponActive(ctx context.Context, couponID string, active bool) (*domain.CouponRule, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE coupons
		SET active = $2, updated_at = now()
		WHERE id = $1
	`, couponID, active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	var rule domain.CouponRule
	err = s.db.QueryRowContext(ctx, `
		SELECT id, code, type, percent_off, flat_off_cents, max_discount_cents, min_cart_cents, active, created_at
		FROM coupons
		WHERE id = $1
	`, couponID).Scan(
		&rule.ID, &rule.Code, &rule.Type, &rule.PercentOff, &rule.FlatOffCents,
		&rule.MaxDiscountCents, &rule.MinCartCents, &rule.Active, &rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	return &rule, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCatalogEntry(row rowScanner) (domain.CatalogEntry, error) {
	var entry domain.CatalogEntry
	err := row.Scan(
		&entry.Variant.ID, &entry.Variant.ProductID, &entry.Variant.Label,
		&entry.Variant.Price.MRPCents, &entry.Variant.Price.SellingCents,
		&entry.Variant.Price.DiscountPercent, &entry.Variant.Active,
		&entry.Product.ID, &entry.Product.Name, &entry.Product.Category,
		&entry.Product.ImageURL, &entry.Product.Active,
	)
	return entry, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
