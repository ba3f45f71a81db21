// Package server talks to the upstream storefront cart API. Authenticated
// customers have a durable server-side cart there; this backend is a thin
// client that forwards operations and normalizes the responses.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"freshcart/backend/internal/backend"
	"freshcart/backend/internal/domain"
)

// ErrUpstream marks failures reported by the upstream cart API, as opposed to
// transport or decoding problems on our side.
var ErrUpstream = errors.New("cart api")

// Client holds the shared transport configuration for the upstream cart API.
// One Client serves all sessions; per-session state lives on Backend.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type Backend struct {
	client *Client
	token  string
	prev   *domain.AppliedCoupon
}

// NewBackend binds the client to one customer session. prevCoupon is the
// coupon currently known to be on the cart; it seeds the value-reuse
// heuristic when the upstream echoes a coupon code without its value.
func (c *Client) NewBackend(token string, prevCoupon *domain.AppliedCoupon) *Backend {
	return &Backend{client: c, token: token, prev: prevCoupon}
}

// cartEnvelope is the upstream response shape. Success is a pointer because
// some endpoints omit it entirely and report failure through status codes.
type cartEnvelope struct {
	Success *bool                  `json:"success,omitempty"`
	Message string                 `json:"message,omitempty"`
	CartID  string                 `json:"cart_id,omitempty"`
	Items   []domain.LineItem      `json:"items"`
	Coupon  *backend.CouponPayload `json:"coupon,omitempty"`
}

type ackEnvelope struct {
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
}

func (b *Backend) Fetch(ctx context.Context) (backend.Snapshot, error) {
	return b.cartCall(ctx, http.MethodGet, "/api/cart", nil)
}

func (b *Backend) Add(ctx context.Context, variantID string, quantity int) (backend.Snapshot, error) {
	body := map[string]any{"variant_id": variantID, "quantity": quantity}
	return b.cartCall(ctx, http.MethodPost, "/api/cart/items", body)
}

func (b *Backend) UpdateQuantity(ctx context.Context, lineID string, quantity int) (backend.Snapshot, error) {
	body := map[string]any{"quantity": quantity}
	return b.cartCall(ctx, http.MethodPatch, "/api/cart/items/"+lineID, body)
}

func (b *Backend) Remove(ctx context.Context, lineID string) (backend.Snapshot, error) {
	return b.cartCall(ctx, http.MethodDelete, "/api/cart/items/"+lineID, nil)
}

func (b *Backend) Clear(ctx context.Context) (backend.Snapshot, error) {
	return b.cartCall(ctx, http.MethodDelete, "/api/cart", nil)
}

// ApplyCoupon posts the code and then re-fetches the cart. The coupon
// endpoints return an acknowledgement rather than the full cart.
func (b *Backend) ApplyCoupon(ctx context.Context, code string) (backend.Snapshot, error) {
	if err := b.ackCall(ctx, http.MethodPost, "/api/cart/coupon", map[string]any{"code": code}); err != nil {
		return backend.Snapshot{}, err
	}
	return b.Fetch(ctx)
}

func (b *Backend) RemoveCoupon(ctx context.Context) (backend.Snapshot, error) {
	if err := b.ackCall(ctx, http.MethodDelete, "/api/cart/coupon", nil); err != nil {
		return backend.Snapshot{}, err
	}
	return b.Fetch(ctx)
}

func (b *Backend) cartCall(ctx context.Context, method, path string, body any) (backend.Snapshot, error) {
	resp, err := b.do(ctx, method, path, body)
	if err != nil {
		return backend.Snapshot{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return backend.Snapshot{}, fmt.Errorf("cart api: read response: %w", err)
	}

	var envelope cartEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return backend.Snapshot{}, fmt.Errorf("cart api: decode response: %w", err)
		}
	}

	if err := upstreamError(resp.StatusCode, envelope.Success, envelope.Message); err != nil {
		return backend.Snapshot{}, err
	}

	coupon := backend.NormalizeCoupon(envelope.Coupon, b.prev)
	b.prev = coupon

	items := envelope.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	return backend.Snapshot{Items: items, CartID: envelope.CartID, Coupon: coupon}, nil
}

func (b *Backend) ackCall(ctx context.Context, method, path string, body any) error {
	resp, err := b.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("cart api: read response: %w", err)
	}

	var envelope ackEnvelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return fmt.Errorf("cart api: decode response: %w", err)
		}
	}
	return upstreamError(resp.StatusCode, envelope.Success, envelope.Message)
}

func (b *Backend) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.client.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cart api: %w", err)
	}
	return resp, nil
}

func upstreamError(status int, success *bool, message string) error {
	failed := status >= 400 || (success != nil && !*success)
	if !failed {
		return nil
	}
	if message == "" {
		message = fmt.Sprintf("returned status %d", status)
	}
	return fmt.Errorf("%w: %s", ErrUpstream, message)
}
