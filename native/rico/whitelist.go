package rico

import (
	"errors"
	"math/big"
)

// Whitelist records the controller's decision for each address. Accepting
// settles every pending contribution up to the current stage; rejecting
// refunds them. Tokens settled earlier are never taken back by a rejection.
// Repeating a rejection has no further effect.
func (e *Engine) Whitelist(sender [20]byte, addresses [][20]byte, accept bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()

	sale, err := e.loadSale()
	if err != nil {
		return err
	}
	if sender != sale.Roles.WhitelistController {
		return ErrUnauthorized
	}
	block := e.block()
	current, err := sale.Schedule.StageAtBlock(block)
	if err != nil {
		return err
	}
	for _, addr := range addresses {
		if addr == sale.Address || isZeroAddress(addr) {
			return ErrUnauthorized
		}
		totals, err := e.loadTotals()
		if err != nil {
			return err
		}
		p, _, err := e.loadParticipant(sale, addr, true)
		if err != nil {
			return err
		}
		p.Whitelisted = accept
		var settled []settlement
		if accept {
			settled, err = e.acceptPending(sale, totals, p, current, block)
			if err != nil {
				return err
			}
		} else {
			settled = e.rejectPending(totals, p, RefundReasonRejected)
		}
		if err := e.state.RicoParticipantPut(p); err != nil {
			return err
		}
		if err := e.state.RicoTotalsPut(totals); err != nil {
			return err
		}
		e.emit(WhitelistUpdatedEvent(addr, accept))
		if err := e.settle(sale, addr, settled); err != nil {
			return err
		}
	}
	e.logger.Info("whitelist updated", "count", len(addresses), "accepted", accept, "stage", current)
	return nil
}

// Cancel returns all of the sender's pending ETH. Settled contributions are
// not affected; those can only be reversed by returning tokens.
func (e *Engine) Cancel(sender [20]byte) (*big.Int, error) {
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
	p, _, err := e.loadParticipant(sale, sender, false)
	if err != nil {
		if errors.Is(err, ErrUnknownParticipant) {
			return nil, ErrNothingPending
		}
		return nil, err
	}
	if p.PendingETH().Sign() == 0 {
		return nil, ErrNothingPending
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	settled := e.rejectPending(totals, p, RefundReasonCancelled)
	if err := e.state.RicoParticipantPut(p); err != nil {
		return nil, err
	}
	if err := e.state.RicoTotalsPut(totals); err != nil {
		return nil, err
	}
	refund := big.NewInt(0)
	for _, st := range settled {
		refund.Add(refund, st.refund)
	}
	if err := e.settle(sale, sender, settled); err != nil {
		return nil, err
	}
	return refund, nil
}
