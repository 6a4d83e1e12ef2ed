package rico

import (
	"fmt"
	"math/big"
)

// availableProjectETH returns what the project wallet may withdraw at block.
// The part of committed ETH that was neither withdrawn by the project nor
// allocated to it yet unlocks from the project checkpoint onward; the
// allocated remainder is available in full.
func (s *Schedule) availableProjectETH(t *Totals, block uint64) *big.Int {
	withdrawn := bigOrZero(t.ProjectWithdrawnETH)
	remaining := new(big.Int).Sub(bigOrZero(t.ProjectAllocatedETH), withdrawn)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	global := new(big.Int).Sub(bigOrZero(t.CommittedETH), bigOrZero(t.WithdrawnETH))
	global.Sub(global, withdrawn)
	global.Sub(global, remaining)
	if global.Sign() < 0 {
		global.SetInt64(0)
	}
	unlocked := global.Mul(global, s.UnlockRatioSince(t.ProjectCheckpointBlock, block, UnlockPrecision))
	unlocked.Quo(unlocked, unlockOne)
	return unlocked.Add(unlocked, remaining)
}

// checkpointProject allocates everything unlocked so far to the project and
// rebases the still locked pool on block. Must run before the committed pool
// changes.
func (s *Schedule) checkpointProject(t *Totals, block uint64) {
	if block <= t.ProjectCheckpointBlock {
		return
	}
	available := s.availableProjectETH(t, block)
	t.ProjectAllocatedETH = available.Add(available, bigOrZero(t.ProjectWithdrawnETH))
	t.ProjectCheckpointBlock = block
}

// AvailableProjectETH returns the ETH the project wallet may withdraw at the
// current block.
func (e *Engine) AvailableProjectETH() (*big.Int, error) {
	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	return sale.Schedule.availableProjectETH(totals, e.block()), nil
}

// ProjectWithdraw pays amount wei of unlocked committed ETH to the project
// wallet and returns what stays available afterwards.
func (e *Engine) ProjectWithdraw(sender [20]byte, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	if sender != sale.Roles.ProjectWallet {
		return nil, ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	block := e.block()
	sale.Schedule.checkpointProject(totals, block)
	available := sale.Schedule.availableProjectETH(totals, block)
	if amount.Cmp(available) > 0 {
		return nil, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientAvailable, amount, available)
	}
	totals.ProjectWithdrawnETH.Add(totals.ProjectWithdrawnETH, amount)
	totals.ProjectWithdrawCount++
	if err := e.state.RicoTotalsPut(totals); err != nil {
		return nil, err
	}
	remaining := available.Sub(available, amount)
	if err := e.transferETH(sale.Address, sender, amount); err != nil {
		return nil, err
	}
	e.emit(ProjectWithdrawnEvent(sender, amount, remaining))
	e.logger.Info("project withdrawal",
		"wallet", hexAddr(sender),
		"amount", amount.String(),
		"available", remaining.String(),
		"count", totals.ProjectWithdrawCount)
	return remaining, nil
}
