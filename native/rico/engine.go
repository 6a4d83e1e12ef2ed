package rico

import (
	"fmt"
	"log/slog"
	"math/big"

	"rico/core/events"
	"rico/core/types"
)

// Clock supplies the current block height. Heights never decrease.
type Clock interface {
	CurrentBlock() uint64
}

// TokenLedger is the fungible token the sale distributes. The sale supply is
// the ledger balance of the sale address.
type TokenLedger interface {
	BalanceOf(addr [20]byte) (*big.Int, error)
	Transfer(from, to [20]byte, amount *big.Int) error
}

type engineState interface {
	RicoSaleGet() (*Sale, bool, error)
	RicoSalePut(sale *Sale) error
	RicoTotalsGet() (*Totals, bool, error)
	RicoTotalsPut(totals *Totals) error
	RicoParticipantGet(addr [20]byte) (*Participant, bool, error)
	RicoParticipantPut(p *Participant) error
	RicoParticipantList() ([][20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Engine implements the reversible token sale: staged pricing, whitelist
// gated commitments, linear unlocking during the buy phase, token returns for
// refunds and the project wallet's withdrawal allowance.
type Engine struct {
	state   engineState
	ledger  TokenLedger
	clock   Clock
	emitter events.Emitter
	logger  *slog.Logger

	// inCall is set for the duration of a mutating call; see guard.go.
	inCall bool
}

// NewEngine constructs a sale engine with a no-op emitter and the default
// logger. State, ledger and clock must be configured before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokenLedger configures the token the sale distributes.
func (e *Engine) SetTokenLedger(ledger TokenLedger) { e.ledger = ledger }

// SetClock configures the block height source.
func (e *Engine) SetClock(clock Clock) { e.clock = clock }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger configures the structured logger. Passing nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With("component", "rico")
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if e.clock == nil {
		return errNilClock
	}
	return nil
}

func (e *Engine) block() uint64 { return e.clock.CurrentBlock() }

// Initialize derives the stage schedule at the current block and records the
// sale roles. Only the deployer named in roles may call it, exactly once.
func (e *Engine) Initialize(sender, saleAddress [20]byte, roles Roles, params ScheduleParams) (*Sale, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if _, ok, err := e.state.RicoSaleGet(); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyInitialized
	}
	if isZeroAddress(roles.Deployer) || isZeroAddress(roles.WhitelistController) || isZeroAddress(roles.ProjectWallet) {
		return nil, fmt.Errorf("%w: roles must be set", ErrConfig)
	}
	if isZeroAddress(saleAddress) {
		return nil, fmt.Errorf("%w: sale address must be set", ErrConfig)
	}
	if sender != roles.Deployer {
		return nil, ErrUnauthorized
	}
	now := e.block()
	schedule, err := NewSchedule(now, params)
	if err != nil {
		return nil, err
	}
	sale := &Sale{Address: saleAddress, Roles: roles, Schedule: schedule, InitBlock: now}
	if err := e.state.RicoSalePut(sale); err != nil {
		return nil, err
	}
	totals := newTotals()
	totals.ProjectCheckpointBlock = schedule.BuyPhaseStartBlock()
	if err := e.state.RicoTotalsPut(totals); err != nil {
		return nil, err
	}
	e.emit(InitializedEvent(sale))
	e.logger.Info("sale initialized",
		"sale", hexAddr(saleAddress),
		"commitStart", schedule.CommitPhaseStartBlock(),
		"buyEnd", schedule.BuyPhaseEndBlock(),
		"stages", schedule.StageCount())
	return sale.Clone(), nil
}

func (e *Engine) loadSale() (*Sale, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	sale, ok, err := e.state.RicoSaleGet()
	if err != nil {
		return nil, err
	}
	if !ok || sale == nil || sale.Schedule == nil {
		return nil, ErrNotInitialized
	}
	if err := sale.Schedule.validate(); err != nil {
		return nil, err
	}
	return sale, nil
}

func (e *Engine) loadTotals() (*Totals, error) {
	totals, ok, err := e.state.RicoTotalsGet()
	if err != nil {
		return nil, err
	}
	if !ok || totals == nil {
		return newTotals(), nil
	}
	return totals.Clone(), nil
}

// loadParticipant returns the stored record or, when create is set, a fresh
// one. The boolean reports whether the record was newly created.
func (e *Engine) loadParticipant(sale *Sale, addr [20]byte, create bool) (*Participant, bool, error) {
	p, ok, err := e.state.RicoParticipantGet(addr)
	if err != nil {
		return nil, false, err
	}
	if ok && p != nil {
		p = p.Clone()
		p.normalize(sale.Schedule.StageCount())
		return p, false, nil
	}
	if !create {
		return nil, false, ErrUnknownParticipant
	}
	return newParticipant(addr, sale.Schedule.StageCount()), true, nil
}

func (e *Engine) transferETH(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("rico: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, hexAddr(from), fromAcc.Balance, amt)
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	toAcc = ensureAccount(toAcc)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(to[:], toAcc); err != nil {
		return err
	}
	e.emitter.Emit(events.ValueTransfer{From: from, To: to, Amount: amt})
	return nil
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func isZeroAddress(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}
