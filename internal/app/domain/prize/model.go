// Package prize defines the prize value object owned by a raffle.
package prize

import "fmt"

// Type classifies what a prize pays out.
type Type string

const (
	TypeCash     Type = "cash"
	TypeCredit   Type = "credit"
	TypePhysical Type = "physical"
	TypeDiscount Type = "discount"
)

// Prize is a single prize tier within a raffle's prize pool. Tier 1 is the
// best prize. A prize belongs to exactly one raffle and is never shared.
type Prize struct {
	ID          string `json:"id"`
	Tier        int    `json:"tier"`
	Type        Type   `json:"type"`
	Description string `json:"description"`
	Value       int64  `json:"value"`    // amount in smallest currency unit, or unit value for physical
	Quantity    int    `json:"quantity"` // units available
	Awarded     int    `json:"awarded"`  // units already awarded, never exceeds Quantity
}

// Remaining returns the number of units still available to award.
func (p Prize) Remaining() int {
	return p.Quantity - p.Awarded
}

// Validate checks the prize's internal invariants.
func (p Prize) Validate() error {
	if p.Tier < 1 {
		return fmt.Errorf("prize tier must be >= 1, got %d", p.Tier)
	}
	switch p.Type {
	case TypeCash, TypeCredit, TypePhysical, TypeDiscount:
	default:
		return fmt.Errorf("unknown prize type %q", p.Type)
	}
	if p.Quantity < 1 {
		return fmt.Errorf("prize quantity must be >= 1, got %d", p.Quantity)
	}
	if p.Awarded < 0 || p.Awarded > p.Quantity {
		return fmt.Errorf("awarded %d out of range [0, %d]", p.Awarded, p.Quantity)
	}
	return nil
}
