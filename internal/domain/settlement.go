package domain

// BasisPoints is the denominator for fee rates.
const BasisPoints = 10_000

// Fee returns amount * feeBps / 10_000 with floor rounding.
func Fee(amount uint64, feeBps uint16) (uint64, error) {
	return mulDiv(amount, uint64(feeBps), BasisPoints)
}

// Settlement is the pool-level outcome of a resolved market: the protocol fee
// taken from the losing side and the amount left for winners to share.
type Settlement struct {
	Fee           uint64
	Distributable uint64
}

// Settle computes the protocol fee and distributable amount for a losing pool.
func Settle(losingPool uint64, feeBps uint16) (Settlement, error) {
	fee, err := Fee(losingPool, feeBps)
	if err != nil {
		return Settlement{}, err
	}
	distributable, ok := checkedSub(losingPool, fee)
	if !ok {
		return Settlement{}, ErrOverflow
	}
	return Settlement{Fee: fee, Distributable: distributable}, nil
}

// Payout computes a single winner's pari-mutuel payout: their own stake plus
// a share of the losing pool (net of the protocol fee) proportional to their
// share of the winning pool. Division is floored, so across all winners up to
// winnerCount-1 base units of dust remain with the protocol.
//
// winningPool must be > 0; callers settle a zero winning pool via the refund
// path instead.
func Payout(winningPool, losingPool, stake uint64, feeBps uint16) (uint64, error) {
	if winningPool == 0 {
		return 0, ErrOverflow
	}
	s, err := Settle(losingPool, feeBps)
	if err != nil {
		return 0, err
	}
	share, err := mulDiv(s.Distributable, stake, winningPool)
	if err != nil {
		return 0, err
	}
	total, ok := checkedAdd(stake, share)
	if !ok {
		return 0, ErrOverflow
	}
	return total, nil
}
