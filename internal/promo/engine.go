package promo

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/slot-reservations/internal/pricing"
)

var (
	// ErrNotFound is returned when no rule matches the supplied code.
	ErrNotFound = errors.New("promo code not found")
	// ErrInvalidRule indicates a rule that cannot be placed in a table.
	ErrInvalidRule = errors.New("promo rule invalid")
)

// Kind selects how a rule derives its discount.
type Kind string

const (
	// KindPercent discounts a percentage of the subtotal.
	KindPercent Kind = "percent"
	// KindFlat discounts a fixed amount regardless of the subtotal.
	KindFlat Kind = "flat"
)

// Rule captures a single promo code definition.
type Rule struct {
	Code  string `json:"code" toml:"code"`
	Kind  Kind   `json:"kind" toml:"kind"`
	Value int64  `json:"value" toml:"value"`
}

func (r Rule) validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidRule)
	}
	if r.Value < 0 {
		return fmt.Errorf("%w: %s value must not be negative", ErrInvalidRule, r.Code)
	}
	switch r.Kind {
	case KindPercent:
		if r.Value > 100 {
			return fmt.Errorf("%w: %s percent exceeds 100", ErrInvalidRule, r.Code)
		}
	case KindFlat:
	default:
		return fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidRule, r.Code, r.Kind)
	}
	return nil
}

// DefaultRules returns the built-in promo table.
func DefaultRules() []Rule {
	return []Rule{
		{Code: "SAVE10", Kind: KindPercent, Value: 10},
		{Code: "FLAT100", Kind: KindFlat, Value: 100},
	}
}

// Calculator resolves codes against an immutable rule table.
type Calculator struct {
	rules map[string]Rule
}

// NewCalculator copies rules into a new Calculator. Codes are matched
// case-insensitively, so two codes differing only in case collide.
func NewCalculator(rules []Rule) (*Calculator, error) {
	table := make(map[string]Rule, len(rules))
	for _, r := range rules {
		r.Code = normalize(r.Code)
		r.Kind = Kind(strings.ToLower(strings.TrimSpace(string(r.Kind))))
		if err := r.validate(); err != nil {
			return nil, err
		}
		if _, dup := table[r.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate code %s", ErrInvalidRule, r.Code)
		}
		table[r.Code] = r
	}
	return &Calculator{rules: table}, nil
}

// MustNewCalculator panics when the rule table is invalid.
func MustNewCalculator(rules []Rule) *Calculator {
	c, err := NewCalculator(rules)
	if err != nil {
		panic(err)
	}
	return c
}

// Resolve returns the rule registered for code.
func (c *Calculator) Resolve(code string) (Rule, error) {
	key := normalize(code)
	if c == nil || key == "" {
		return Rule{}, ErrNotFound
	}
	r, ok := c.rules[key]
	if !ok {
		return Rule{}, ErrNotFound
	}
	return r, nil
}

// Rules lists the table ordered by code.
func (c *Calculator) Rules() []Rule {
	if c == nil {
		return nil
	}
	out := make([]Rule, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ComputeDiscount determines the discount a rule grants on subtotal. The
// amount is never negative and never exceeds the subtotal.
func ComputeDiscount(r Rule, subtotal pricing.Money) pricing.Money {
	if subtotal <= 0 || r.Value <= 0 {
		return 0
	}
	var discount pricing.Money
	switch r.Kind {
	case KindPercent:
		discount = pricing.RoundHalfUp(subtotal*r.Value, 100)
	case KindFlat:
		discount = r.Value
	default:
		return 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		return 0
	}
	return discount
}

// Result is the outcome of a standalone promo validation.
type Result struct {
	Valid    bool           `json:"valid"`
	Code     string         `json:"code,omitempty"`
	Kind     Kind           `json:"kind,omitempty"`
	Value    int64          `json:"value,omitempty"`
	Discount *pricing.Money `json:"discount,omitempty"`
}

// Validate previews the discount code would grant on subtotal.
func (c *Calculator) Validate(code string, subtotal pricing.Money) Result {
	r, err := c.Resolve(code)
	if err != nil {
		return Result{Valid: false}
	}
	discount := ComputeDiscount(r, subtotal)
	return Result{Valid: true, Code: r.Code, Kind: r.Kind, Value: r.Value, Discount: &discount}
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
