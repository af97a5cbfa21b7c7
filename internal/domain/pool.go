// Package domain holds the settlement core for binary-outcome prediction
// markets: pooled stake accounting, complement pricing, the match and proposal
// state machines, and the shared pari-mutuel payout math. Everything here is
// pure in-memory logic; persistence, locking and oracle reads live behind the
// interfaces in store.go and oracle.go.
package domain

import "math/bits"

// PriceScale is the fixed-point denominator for implied prices: a price of
// 10_000 is 100%, 5_000 is 50%.
const PriceScale = 10_000

// Side identifies one of the two mutually exclusive stake buckets of a Pool.
type Side int

const (
	SideA Side = 0 // Higher / Pass
	SideB Side = 1 // Lower / Fail
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	return 1 - s
}

// Pool tracks two-sided stake accounting for a binary market. The zero value
// is an empty pool. All amounts are integer base units (lamports); arithmetic
// is checked, never wrapping.
type Pool struct {
	Stakes [2]uint64
}

// Stake returns the stake held on one side.
func (p Pool) Stake(side Side) uint64 {
	return p.Stakes[side]
}

// Total returns the combined stake of both sides. AddStake guarantees the sum
// never overflows, so Total is always exact.
func (p Pool) Total() uint64 {
	return p.Stakes[SideA] + p.Stakes[SideB]
}

// AddStake adds amount to the chosen side. It fails with ErrInvalidAmount for
// a zero amount and ErrOverflow if either the side or the combined total would
// overflow uint64. On failure the pool is unchanged.
func (p *Pool) AddStake(side Side, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	next, ok := checkedAdd(p.Stakes[side], amount)
	if !ok {
		return ErrOverflow
	}
	if _, ok := checkedAdd(next, p.Stakes[side.Opposite()]); !ok {
		return ErrOverflow
	}
	p.Stakes[side] = next
	return nil
}

// Price returns the implied price of a side in [0, PriceScale]. Under
// complement pricing a side's price is the opposite side's share of the pool:
// the more capital backing a side, the cheaper it is to bet on it. An empty
// pool prices both sides at 50%. Side A is priced by floor division and side
// B as its exact complement, so Price(SideA) + Price(SideB) == PriceScale
// always holds.
func (p Pool) Price(side Side) uint32 {
	total := p.Total()
	if total == 0 {
		return PriceScale / 2
	}
	// stakeB * PriceScale fits in 128 bits; quotient <= PriceScale.
	hi, lo := bits.Mul64(p.Stakes[SideB], PriceScale)
	q, _ := bits.Div64(hi, lo, total)
	priceA := uint32(q)
	if side == SideA {
		return priceA
	}
	return PriceScale - priceA
}

// PriceImpact returns the signed change in Price(side) if amount were added to
// that side, without mutating the pool. Used for trade previews.
func (p Pool) PriceImpact(side Side, amount uint64) (int32, error) {
	preview := p
	if err := preview.AddStake(side, amount); err != nil {
		return 0, err
	}
	return int32(preview.Price(side)) - int32(p.Price(side)), nil
}

func checkedAdd(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

func checkedSub(a, b uint64) (uint64, bool) {
	diff, borrow := bits.Sub64(a, b, 0)
	return diff, borrow == 0
}

// mulDiv computes a*b/div with 128-bit intermediate precision. It fails with
// ErrOverflow when div is zero or the quotient does not fit in uint64.
func mulDiv(a, b, div uint64) (uint64, error) {
	if div == 0 {
		return 0, ErrOverflow
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= div {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, div)
	return q, nil
}
