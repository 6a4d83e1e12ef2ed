package rico

import "math/big"

// UnlockPrecision is the fixed-point exponent used for unlock ratios
// throughout the engine: a ratio of 10^UnlockPrecision means fully unlocked.
const UnlockPrecision = 20

var unlockOne = pow10(UnlockPrecision)

func pow10(n uint) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(uint64(n)), nil)
}

// GlobalUnlockRatio returns the elapsed share of the buy phase at block scaled
// by 10^precisionPow: zero up to and including the buy phase start, the full
// scale from the buy phase end onward, linear in between.
func (s *Schedule) GlobalUnlockRatio(block uint64, precisionPow uint) *big.Int {
	return s.UnlockRatioSince(s.BuyPhaseStartBlock(), block, precisionPow)
}

// UnlockRatioSince is GlobalUnlockRatio for a vesting range that starts at
// max(from, buy phase start) instead of the buy phase start. Amounts that were
// fully locked at block from unlock by this ratio at block.
func (s *Schedule) UnlockRatioSince(from, block uint64, precisionPow uint) *big.Int {
	start := s.BuyPhaseStartBlock()
	if from > start {
		start = from
	}
	end := s.BuyPhaseEndBlock()
	if block >= end {
		return pow10(precisionPow)
	}
	if block <= start {
		return big.NewInt(0)
	}
	ratio := new(big.Int).SetUint64(block - start)
	ratio.Mul(ratio, pow10(precisionPow))
	return ratio.Quo(ratio, new(big.Int).SetUint64(end-start))
}

// unlockedSince returns the part of amount, fully locked at block from, that
// has unlocked by block.
func (s *Schedule) unlockedSince(amount *big.Int, from, block uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, s.UnlockRatioSince(from, block, UnlockPrecision))
	return out.Quo(out, unlockOne)
}

// lockedSince is the complement of unlockedSince.
func (s *Schedule) lockedSince(amount *big.Int, from, block uint64) *big.Int {
	locked := cloneBigInt(amount)
	return locked.Sub(locked, s.unlockedSince(amount, from, block))
}

// LockedTokens returns the participant's locked token amount at block. For a
// participant who never returned tokens this is BoughtTokens scaled by one
// minus the global unlock ratio. Blocks before p.CheckpointBlock are treated
// as the checkpoint itself.
func (s *Schedule) LockedTokens(p *Participant, block uint64) *big.Int {
	total := big.NewInt(0)
	if p == nil {
		return total
	}
	for _, rec := range p.ByStage {
		total.Add(total, s.lockedSince(rec.LockedTokens, p.CheckpointBlock, block))
	}
	return total
}

// UnlockedTokens returns the participant's unlocked token amount at block.
func (s *Schedule) UnlockedTokens(p *Participant, block uint64) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	unlocked := cloneBigInt(p.Totals.BoughtTokens)
	unlocked.Sub(unlocked, s.LockedTokens(p, block))
	if unlocked.Sign() < 0 {
		return big.NewInt(0)
	}
	return unlocked
}

// checkpoint freezes everything that unlocked between the participant's last
// checkpoint and block, and rebases the remaining locked amounts on block.
// The unlocked balance is unchanged by a checkpoint.
func (s *Schedule) checkpoint(p *Participant, block uint64) {
	if block <= p.CheckpointBlock {
		return
	}
	for i := range p.ByStage {
		rec := &p.ByStage[i]
		if rec.LockedTokens.Sign() == 0 {
			continue
		}
		released := s.unlockedSince(rec.LockedTokens, p.CheckpointBlock, block)
		if released.Sign() == 0 {
			continue
		}
		rec.LockedTokens.Sub(rec.LockedTokens, released)
		p.Totals.LockedTokens.Sub(p.Totals.LockedTokens, released)
		p.UnlockedTokens.Add(p.UnlockedTokens, released)

		allocated := s.ethForTokens(released, i)
		rec.AllocatedETH.Add(rec.AllocatedETH, allocated)
		p.Totals.AllocatedETH.Add(p.Totals.AllocatedETH, allocated)
	}
	p.CheckpointBlock = block
}
