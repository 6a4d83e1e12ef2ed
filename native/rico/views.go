package rico

import (
	"errors"
	"fmt"
	"math/big"
)

// IsInitialized reports whether a sale has been initialised.
func (e *Engine) IsInitialized() (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	_, ok, err := e.state.RicoSaleGet()
	return ok, err
}

// Sale returns a copy of the sale record.
func (e *Engine) Sale() (*Sale, error) {
	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	return sale.Clone(), nil
}

// Schedule returns a copy of the stage schedule.
func (e *Engine) Schedule() (*Schedule, error) {
	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	return sale.Schedule.Clone(), nil
}

// Totals returns the sale-wide counters.
func (e *Engine) Totals() (*Totals, error) {
	if _, err := e.loadSale(); err != nil {
		return nil, err
	}
	return e.loadTotals()
}

// Participant returns the record of addr. Unknown addresses yield
// ErrUnknownParticipant.
func (e *Engine) Participant(addr [20]byte) (*Participant, error) {
	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	p, _, err := e.loadParticipant(sale, addr, false)
	return p, err
}

// Participants lists every address that ever contributed or was whitelisted.
func (e *Engine) Participants() ([][20]byte, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.RicoParticipantList()
}

// CurrentStage returns the id of the stage active at the current block.
func (e *Engine) CurrentStage() (int, error) {
	sale, err := e.loadSale()
	if err != nil {
		return 0, err
	}
	return sale.Schedule.StageAtBlock(e.block())
}

// CurrentPrice returns the token price of the current stage in wei.
func (e *Engine) CurrentPrice() (*big.Int, error) {
	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	return sale.Schedule.PriceAtBlock(e.block())
}

// LockedTokenAmount returns the tokens of addr that are still locked at
// block. Addresses that never bought hold no locked tokens. Balances are
// rebased at the participant's last checkpoint, so earlier blocks fail with
// ErrBlockBeforeCheckpoint.
func (e *Engine) LockedTokenAmount(addr [20]byte, block uint64) (*big.Int, error) {
	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	p, _, err := e.loadParticipant(sale, addr, false)
	if errors.Is(err, ErrUnknownParticipant) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	if block < p.CheckpointBlock {
		return nil, fmt.Errorf("%w: block %d, checkpoint %d", ErrBlockBeforeCheckpoint, block, p.CheckpointBlock)
	}
	return sale.Schedule.LockedTokens(p, block), nil
}

// UnlockedBalance returns the bought tokens of addr that are unlocked at
// block. Blocks before the participant's last checkpoint fail with
// ErrBlockBeforeCheckpoint.
func (e *Engine) UnlockedBalance(addr [20]byte, block uint64) (*big.Int, error) {
	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	p, _, err := e.loadParticipant(sale, addr, false)
	if errors.Is(err, ErrUnknownParticipant) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	if block < p.CheckpointBlock {
		return nil, fmt.Errorf("%w: block %d, checkpoint %d", ErrBlockBeforeCheckpoint, block, p.CheckpointBlock)
	}
	return sale.Schedule.UnlockedTokens(p, block), nil
}

// PendingETH returns the contributions of addr awaiting a whitelist decision.
func (e *Engine) PendingETH(addr [20]byte) (*big.Int, error) {
	sale, err := e.loadSale()
	if err != nil {
		return nil, err
	}
	p, _, err := e.loadParticipant(sale, addr, false)
	if errors.Is(err, ErrUnknownParticipant) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return p.PendingETH(), nil
}
