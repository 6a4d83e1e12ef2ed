package rico

import (
	"math/big"
)

// settlement is the outcome of processing the pending ETH of one stage.
type settlement struct {
	stage    int
	accepted *big.Int
	tokens   *big.Int
	refund   *big.Int
	reason   string
}

// Commit records a contribution of value wei sent by sender at the current
// block. Whitelisted participants are settled immediately; everybody else
// keeps the contribution pending until the whitelist controller decides.
// The ETH must already be held by the sale address.
func (e *Engine) Commit(sender [20]byte, value *big.Int) (*Participant, error) {
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
	block := e.block()
	stage, err := sale.Schedule.StageAtBlock(block)
	if err != nil {
		return nil, err
	}
	if value == nil || value.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if sender == sale.Address {
		return nil, ErrUnauthorized
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	p, _, err := e.loadParticipant(sale, sender, true)
	if err != nil {
		return nil, err
	}

	if p.ContributionsCount == 0 {
		totals.ContributorCount++
	}
	p.ContributionsCount++
	rec := &p.ByStage[stage]
	rec.TotalReceivedETH.Add(rec.TotalReceivedETH, value)
	p.Totals.TotalReceivedETH.Add(p.Totals.TotalReceivedETH, value)
	totals.TotalReceivedETH.Add(totals.TotalReceivedETH, value)

	tokens := sale.Schedule.tokensForEth(value, stage)
	rec.ReservedTokens.Add(rec.ReservedTokens, tokens)
	p.Totals.ReservedTokens.Add(p.Totals.ReservedTokens, tokens)

	var settled []settlement
	if p.Whitelisted {
		settled, err = e.acceptPending(sale, totals, p, stage, block)
		if err != nil {
			return nil, err
		}
	}

	if err := e.state.RicoParticipantPut(p); err != nil {
		return nil, err
	}
	if err := e.state.RicoTotalsPut(totals); err != nil {
		return nil, err
	}
	e.emit(ContributionReceivedEvent(sender, stage, value, tokens))
	e.logger.Debug("contribution received",
		"participant", hexAddr(sender),
		"stage", stage,
		"amount", value.String(),
		"whitelisted", p.Whitelisted)
	if err := e.settle(sale, sender, settled); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// acceptPending commits the pending ETH of every stage up to current. The
// sale supply caps what can be settled: in the commit phase a stage that
// does not fit is refunded in full, in the buy phase the affordable part is
// accepted and the rest refunded. Records are updated in place; tokens and
// refunds are handed out later by settle.
func (e *Engine) acceptPending(sale *Sale, totals *Totals, p *Participant, current int, block uint64) ([]settlement, error) {
	schedule := sale.Schedule
	supply, err := e.ledger.BalanceOf(sale.Address)
	if err != nil {
		return nil, err
	}
	available := cloneBigInt(supply)

	schedule.checkpoint(p, block)
	schedule.checkpointProject(totals, block)
	ratio := schedule.GlobalUnlockRatio(block, UnlockPrecision)

	var out []settlement
	for s := 0; s <= current && s < len(p.ByStage); s++ {
		rec := &p.ByStage[s]
		pending := rec.PendingETH()
		if pending.Sign() == 0 {
			continue
		}
		accepted := pending
		tokens := schedule.tokensForEth(pending, s)
		if tokens.Cmp(available) > 0 {
			if current == 0 {
				accepted = big.NewInt(0)
			} else {
				accepted = schedule.ethForTokens(available, s)
			}
			tokens = schedule.tokensForEth(accepted, s)
		}
		if tokens.Sign() == 0 {
			accepted = big.NewInt(0)
		}
		refund := new(big.Int).Sub(pending, accepted)
		available.Sub(available, tokens)

		p.Totals.ReservedTokens.Sub(p.Totals.ReservedTokens, rec.ReservedTokens)
		rec.ReservedTokens.SetInt64(0)

		rec.CommittedETH.Add(rec.CommittedETH, accepted)
		p.Totals.CommittedETH.Add(p.Totals.CommittedETH, accepted)
		totals.CommittedETH.Add(totals.CommittedETH, accepted)

		rec.ReturnedETH.Add(rec.ReturnedETH, refund)
		p.Totals.ReturnedETH.Add(p.Totals.ReturnedETH, refund)
		totals.ReturnedETH.Add(totals.ReturnedETH, refund)

		// Tokens bought after the buy phase started are partly unlocked at
		// once, as is the matching share of ETH for the project.
		unlockedTokens := new(big.Int).Mul(tokens, ratio)
		unlockedTokens.Quo(unlockedTokens, unlockOne)
		lockedTokens := new(big.Int).Sub(tokens, unlockedTokens)
		unlockedETH := new(big.Int).Mul(accepted, ratio)
		unlockedETH.Quo(unlockedETH, unlockOne)

		rec.BoughtTokens.Add(rec.BoughtTokens, tokens)
		p.Totals.BoughtTokens.Add(p.Totals.BoughtTokens, tokens)
		rec.LockedTokens.Add(rec.LockedTokens, lockedTokens)
		p.Totals.LockedTokens.Add(p.Totals.LockedTokens, lockedTokens)
		p.UnlockedTokens.Add(p.UnlockedTokens, unlockedTokens)
		rec.AllocatedETH.Add(rec.AllocatedETH, unlockedETH)
		p.Totals.AllocatedETH.Add(p.Totals.AllocatedETH, unlockedETH)
		totals.ProjectAllocatedETH.Add(totals.ProjectAllocatedETH, unlockedETH)

		out = append(out, settlement{stage: s, accepted: accepted, tokens: tokens, refund: refund, reason: RefundReasonCap})
	}
	return out, nil
}

// rejectPending returns every pending stage amount. Settled tokens are left
// untouched.
func (e *Engine) rejectPending(totals *Totals, p *Participant, reason string) []settlement {
	var out []settlement
	for s := range p.ByStage {
		rec := &p.ByStage[s]
		pending := rec.PendingETH()
		if pending.Sign() == 0 {
			continue
		}
		p.Totals.ReservedTokens.Sub(p.Totals.ReservedTokens, rec.ReservedTokens)
		rec.ReservedTokens.SetInt64(0)

		rec.ReturnedETH.Add(rec.ReturnedETH, pending)
		p.Totals.ReturnedETH.Add(p.Totals.ReturnedETH, pending)
		totals.ReturnedETH.Add(totals.ReturnedETH, pending)

		out = append(out, settlement{stage: s, accepted: big.NewInt(0), tokens: big.NewInt(0), refund: pending, reason: reason})
	}
	return out
}

// settle performs the external effects of already stored settlements:
// tokens from the sale supply and refunds to the participant.
func (e *Engine) settle(sale *Sale, participant [20]byte, settled []settlement) error {
	tokens := big.NewInt(0)
	refund := big.NewInt(0)
	reason := ""
	for _, st := range settled {
		tokens.Add(tokens, st.tokens)
		if st.refund.Sign() > 0 {
			refund.Add(refund, st.refund)
			reason = st.reason
		}
		if st.accepted.Sign() > 0 {
			e.emit(ContributionAcceptedEvent(participant, st.stage, st.accepted, st.tokens))
		}
	}
	if tokens.Sign() > 0 {
		if err := e.ledger.Transfer(sale.Address, participant, tokens); err != nil {
			return err
		}
	}
	if refund.Sign() > 0 {
		if err := e.transferETH(sale.Address, participant, refund); err != nil {
			return err
		}
		e.emit(RefundedEvent(participant, refund, reason))
		e.logger.Info("contribution refunded",
			"participant", hexAddr(participant),
			"amount", refund.String(),
			"reason", reason)
	}
	return nil
}
