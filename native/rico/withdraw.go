package rico

import (
	"errors"
	"math/big"
)

// OnTokensReceived is the token ledger's receive hook for the sale address.
// Tokens sent to the sale by a participant are treated as a return.
func (e *Engine) OnTokensReceived(from, to [20]byte, amount *big.Int) error {
	sale, err := e.loadSale()
	if err != nil {
		return err
	}
	if to != sale.Address || from == sale.Address {
		return nil
	}
	_, err = e.Withdraw(from, amount)
	return err
}

// Withdraw processes a return of amount tokens that the sale address already
// received from participant. Only locked tokens are refunded; anything above
// the locked amount is sent back. Tokens are taken from the most recent stage
// first and each stage refunds at its own price. The refunded ETH is
// returned.
func (e *Engine) Withdraw(participant [20]byte, amount *big.Int) (*big.Int, error) {
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
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	p, _, err := e.loadParticipant(sale, participant, false)
	if err != nil {
		if errors.Is(err, ErrUnknownParticipant) {
			return nil, ErrNoLockedTokens
		}
		return nil, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	schedule := sale.Schedule
	block := e.block()
	schedule.checkpoint(p, block)
	schedule.checkpointProject(totals, block)

	locked := cloneBigInt(p.Totals.LockedTokens)
	if locked.Sign() == 0 {
		return nil, ErrNoLockedTokens
	}
	returned := minBig(amount, locked)
	excess := new(big.Int).Sub(amount, returned)

	refund := big.NewInt(0)
	left := cloneBigInt(returned)
	for s := len(p.ByStage) - 1; s >= 0 && left.Sign() > 0; s-- {
		rec := &p.ByStage[s]
		if rec.LockedTokens.Sign() == 0 {
			continue
		}
		take := minBig(rec.LockedTokens, left)
		left.Sub(left, take)

		rec.LockedTokens.Sub(rec.LockedTokens, take)
		rec.BoughtTokens.Sub(rec.BoughtTokens, take)
		rec.ReturnedTokens.Add(rec.ReturnedTokens, take)

		eth := schedule.ethForTokens(take, s)
		rec.CommittedETH.Sub(rec.CommittedETH, eth)
		rec.ReturnedETH.Add(rec.ReturnedETH, eth)
		rec.WithdrawnETH.Add(rec.WithdrawnETH, eth)
		refund.Add(refund, eth)
	}
	p.Totals.LockedTokens.Sub(p.Totals.LockedTokens, returned)
	p.Totals.BoughtTokens.Sub(p.Totals.BoughtTokens, returned)
	p.Totals.ReturnedTokens.Add(p.Totals.ReturnedTokens, returned)
	p.Totals.CommittedETH.Sub(p.Totals.CommittedETH, refund)
	p.Totals.ReturnedETH.Add(p.Totals.ReturnedETH, refund)
	p.Totals.WithdrawnETH.Add(p.Totals.WithdrawnETH, refund)
	totals.WithdrawnETH.Add(totals.WithdrawnETH, refund)

	if err := e.state.RicoParticipantPut(p); err != nil {
		return nil, err
	}
	if err := e.state.RicoTotalsPut(totals); err != nil {
		return nil, err
	}

	if excess.Sign() > 0 {
		if err := e.ledger.Transfer(sale.Address, participant, excess); err != nil {
			return nil, err
		}
	}
	if err := e.transferETH(sale.Address, participant, refund); err != nil {
		return nil, err
	}
	e.emit(TokensReturnedEvent(participant, returned, excess, refund))
	e.logger.Info("tokens returned",
		"participant", hexAddr(participant),
		"tokens", returned.String(),
		"excess", excess.String(),
		"refund", refund.String())
	return refund, nil
}
