package token

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"rico/core/events"
)

var (
	ErrInvalidAmount       = errors.New("token: amount must be positive")
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrZeroAddress         = errors.New("token: zero address")
	ErrSupplyOverflow      = errors.New("token: supply exceeds 256 bits")
	// ErrTransferRestricted is returned by transfer guards that refuse a
	// movement, e.g. of tokens that are still locked.
	ErrTransferRestricted = errors.New("token: transfer restricted")

	errNilState = errors.New("token ledger: state not configured")
)

// ReceiveHook is invoked after tokens were credited to a registered
// recipient. A returned error fails the transfer.
type ReceiveHook func(from, to [20]byte, amount *big.Int) error

// TransferGuard may veto a transfer before any balance changes.
type TransferGuard func(from, to [20]byte, amount *big.Int) error

type ledgerState interface {
	TokenBalance(addr []byte) (*uint256.Int, error)
	SetTokenBalance(addr []byte, amount *uint256.Int) error
	TokenSupply() (*uint256.Int, error)
	SetTokenSupply(amount *uint256.Int) error
}

// Ledger is the fungible token sold by the sale. Balances are 256-bit
// unsigned integers held in the state store.
type Ledger struct {
	state      ledgerState
	emitter    events.Emitter
	logger     *slog.Logger
	recipients map[[20]byte]ReceiveHook
	guard      TransferGuard
}

// NewLedger constructs a ledger with a no-op emitter.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{
		state:      state,
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
		recipients: make(map[[20]byte]ReceiveHook),
	}
}

// SetState swaps the state backend.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetEmitter configures the event emitter. Passing nil discards events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetLogger configures the structured logger.
func (l *Ledger) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	l.logger = logger.With("component", "token")
}

// RegisterRecipient installs hook for inbound transfers to addr. A nil hook
// removes the registration.
func (l *Ledger) RegisterRecipient(addr [20]byte, hook ReceiveHook) {
	if hook == nil {
		delete(l.recipients, addr)
		return
	}
	l.recipients[addr] = hook
}

// SetTransferGuard installs a guard consulted by Transfer. Mints and burns are
// not guarded.
func (l *Ledger) SetTransferGuard(guard TransferGuard) { l.guard = guard }

// BalanceOf returns the balance of addr.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	bal, err := l.state.TokenBalance(addr[:])
	if err != nil {
		return nil, err
	}
	return bal.ToBig(), nil
}

// TotalSupply returns the amount minted so far.
func (l *Ledger) TotalSupply() (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	supply, err := l.state.TokenSupply()
	if err != nil {
		return nil, err
	}
	return supply.ToBig(), nil
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrSupplyOverflow
	}
	return v, nil
}

// Mint creates amount tokens for to.
func (l *Ledger) Mint(to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if to == ([20]byte{}) {
		return ErrZeroAddress
	}
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	supply, err := l.state.TokenSupply()
	if err != nil {
		return err
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, amt)
	if overflow {
		return ErrSupplyOverflow
	}
	bal, err := l.state.TokenBalance(to[:])
	if err != nil {
		return err
	}
	if err := l.state.SetTokenBalance(to[:], new(uint256.Int).Add(bal, amt)); err != nil {
		return err
	}
	if err := l.state.SetTokenSupply(newSupply); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenTransfer{To: to, Amount: amt.ToBig()})
	l.logger.Debug("tokens minted", "to", hexAddr(to), "amount", amt.Dec())
	return nil
}

// Transfer moves amount tokens from one holder to another. The transfer guard
// runs first; the receive hook of a registered recipient runs after the
// balances moved and its error is returned to the caller, who is expected to
// revert the surrounding state.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if to == ([20]byte{}) {
		return ErrZeroAddress
	}
	amt, err := toUint256(amount)
	if err != nil {
		return err
	}
	if l.guard != nil {
		if err := l.guard(from, to, amt.ToBig()); err != nil {
			return err
		}
	}
	fromBal, err := l.state.TokenBalance(from[:])
	if err != nil {
		return err
	}
	if fromBal.Lt(amt) {
		return fmt.Errorf("%w: %s holds %s, sending %s", ErrInsufficientBalance, hexAddr(from), fromBal.Dec(), amt.Dec())
	}
	if err := l.state.SetTokenBalance(from[:], new(uint256.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	toBal, err := l.state.TokenBalance(to[:])
	if err != nil {
		return err
	}
	if err := l.state.SetTokenBalance(to[:], new(uint256.Int).Add(toBal, amt)); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenTransfer{From: from, To: to, Amount: amt.ToBig()})
	if hook, ok := l.recipients[to]; ok && from != to {
		if err := hook(from, to, amt.ToBig()); err != nil {
			return err
		}
	}
	return nil
}

func hexAddr(addr [20]byte) string { return common.Address(addr).Hex() }
