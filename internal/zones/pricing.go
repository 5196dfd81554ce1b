package zones

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"zonedispatch/internal/geo"
	"zonedispatch/internal/logger"
	"zonedispatch/internal/model"
	"zonedispatch/internal/store"
)

// Pricing is the sparse (zone, deposit) -> price table plus the per-deposit
// free-shipping threshold.
type Pricing struct {
	Store    store.Store
	Registry *Registry
}

func NewPricing(s store.Store, r *Registry) *Pricing { return &Pricing{Store: s, Registry: r} }

// GetPrice returns the configured price and true, or false when no price is
// set. Rows whose deposit no longer exists count as absent.
func (p *Pricing) GetPrice(ctx context.Context, zoneID, depositID string) (float64, bool, error) {
	zp, err := p.Store.GetPrice(ctx, zoneID, depositID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if _, err := p.Store.GetDeposit(ctx, depositID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return zp.Price, true, nil
}

// SetPrice upserts the price for the pair. Deposits live in another system;
// a local record is created on first use so lookups can tell a deleted
// deposit from a live one.
func (p *Pricing) SetPrice(ctx context.Context, zoneID, depositID string, price float64) (model.ZonePrice, error) {
	if err := checkAmount("price", price); err != nil {
		return model.ZonePrice{}, err
	}
	if zoneID == "" || depositID == "" {
		return model.ZonePrice{}, invalid("zone and deposit are required")
	}
	if _, err := p.Store.GetZone(ctx, zoneID); err != nil {
		return model.ZonePrice{}, fmt.Errorf("zone %s: %w", zoneID, err)
	}
	if _, err := p.ensureDeposit(ctx, depositID); err != nil {
		return model.ZonePrice{}, err
	}
	zp, err := p.Store.PutPrice(ctx, model.ZonePrice{ZoneID: zoneID, DepositID: depositID, Price: price})
	if err != nil {
		return model.ZonePrice{}, fmt.Errorf("put price: %w", err)
	}
	logger.L().Info("zone_price_set", "zone_id", zoneID, "deposit_id", depositID, "price", price)
	return zp, nil
}

func (p *Pricing) DeletePrice(ctx context.Context, id string) error {
	return p.Store.DeletePrice(ctx, id)
}

// ListPrices lists the rows of one deposit, or all rows when depositID is
// empty.
func (p *Pricing) ListPrices(ctx context.Context, depositID string) ([]model.ZonePrice, error) {
	return p.Store.ListPrices(ctx, depositID)
}

// PutDeposit records the deposit fields pricing needs.
func (p *Pricing) PutDeposit(ctx context.Context, d model.Deposit) (model.Deposit, error) {
	if d.ID == "" {
		return model.Deposit{}, invalid("deposit id is required")
	}
	if err := checkAmount("free shipping minimum", d.FreeShippingMin); err != nil {
		return model.Deposit{}, err
	}
	return p.Store.PutDeposit(ctx, d)
}

func (p *Pricing) SetFreeShippingThreshold(ctx context.Context, depositID string, value float64) (model.Deposit, error) {
	if err := checkAmount("free shipping minimum", value); err != nil {
		return model.Deposit{}, err
	}
	d, err := p.ensureDeposit(ctx, depositID)
	if err != nil {
		return model.Deposit{}, err
	}
	d.FreeShippingMin = value
	return p.Store.PutDeposit(ctx, d)
}

func (p *Pricing) ensureDeposit(ctx context.Context, id string) (model.Deposit, error) {
	if id == "" {
		return model.Deposit{}, invalid("deposit id is required")
	}
	d, err := p.Store.GetDeposit(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return p.Store.PutDeposit(ctx, model.Deposit{ID: id})
	}
	return d, err
}

// Quote is the fee for one order.
type Quote struct {
	ZoneID       string  `json:"zoneId,omitempty"`
	DepositID    string  `json:"depositId"`
	Subtotal     float64 `json:"subtotal"`
	Fee          float64 `json:"fee"`
	Configured   bool    `json:"configured"`
	FreeShipping bool    `json:"freeShipping"`
}

// DeliveryFee applies the free-shipping rule on top of the zone price: with a
// threshold T > 0 and subtotal >= T the fee is 0, otherwise the zone price
// applies unchanged. Configured is false when no price is set for the pair.
func (p *Pricing) DeliveryFee(ctx context.Context, zoneID, depositID string, subtotal float64) (Quote, error) {
	if err := checkAmount("subtotal", subtotal); err != nil {
		return Quote{}, err
	}
	q := Quote{ZoneID: zoneID, DepositID: depositID, Subtotal: subtotal}
	price, ok, err := p.GetPrice(ctx, zoneID, depositID)
	if err != nil {
		return Quote{}, err
	}
	q.Configured = ok
	q.Fee = price

	d, err := p.Store.GetDeposit(ctx, depositID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Quote{}, err
	}
	if d.FreeShippingMin > 0 && subtotal >= d.FreeShippingMin {
		q.Fee = 0
		q.FreeShipping = true
	}
	return q, nil
}

// QuoteAt resolves the zone containing pt and quotes it.
func (p *Pricing) QuoteAt(ctx context.Context, pt geo.Point, depositID string, subtotal float64) (Quote, error) {
	z, err := p.Registry.ZoneAt(ctx, pt)
	if err != nil {
		return Quote{}, err
	}
	return p.DeliveryFee(ctx, z.ID, depositID, subtotal)
}

// ParsePrice reads an operator-typed amount. It accepts "8.50", "8,50",
// "R$ 8,50" and thousands separators such as "1.234,56" or "1,234.56": the
// last separator is the decimal mark and the other must group by three.
// Empty input is a validation error; callers that want a default of 0 must
// check first.
func ParsePrice(text string) (float64, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return 0, invalid("price is empty")
	}
	num, ok := decimalPoint(s)
	if !ok {
		return 0, invalid("price %q is ambiguous", text)
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, invalid("price %q is not a number", text)
	}
	if err := checkAmount("price", v); err != nil {
		return 0, err
	}
	return v, nil
}

// decimalPoint rewrites s with "." as the only separator.
func decimalPoint(s string) (string, bool) {
	dec := strings.LastIndexAny(s, ".,")
	if dec < 0 {
		return s, true
	}
	whole, frac := s[:dec], s[dec+1:]
	if strings.IndexByte(whole, s[dec]) >= 0 {
		return "", false
	}
	if strings.ContainsAny(whole, ".,") {
		groups := strings.FieldsFunc(whole, func(r rune) bool { return r == '.' || r == ',' })
		if len(groups) < 2 || strings.Count(whole, ".")+strings.Count(whole, ",") != len(groups)-1 {
			return "", false
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return "", false
			}
		}
		whole = strings.Join(groups, "")
	}
	return whole + "." + frac, true
}

func checkAmount(what string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid("%s must be a finite number", what)
	}
	if v < 0 {
		return invalid("%s must not be negative", what)
	}
	return nil
}
