package token

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"rico/core/events"
	"rico/core/state"
	"rico/storage"
)

type recorder struct{ events []events.Event }

func (r *recorder) Emit(evt events.Event) { r.events = append(r.events, evt) }

var (
	alice = [20]byte{0xa1}
	bob   = [20]byte{0xb0}
	sale  = [20]byte{0x5a}
)

func newTestLedger(t *testing.T) (*Ledger, *state.Manager, *recorder) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	ledger := NewLedger(mgr)
	rec := &recorder{}
	ledger.SetEmitter(rec)
	return ledger, mgr, rec
}

func TestMintAndTransfer(t *testing.T) {
	ledger, _, rec := newTestLedger(t)
	require.NoError(t, ledger.Mint(alice, big.NewInt(100)))
	require.NoError(t, ledger.Transfer(alice, bob, big.NewInt(40)))
	require.NoError(t, ledger.Transfer(bob, alice, big.NewInt(15)))

	bal, err := ledger.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, int64(75), bal.Int64())
	bal, err = ledger.BalanceOf(bob)
	require.NoError(t, err)
	require.Equal(t, int64(25), bal.Int64())
	supply, err := ledger.TotalSupply()
	require.NoError(t, err)
	require.Equal(t, int64(100), supply.Int64())
	require.Len(t, rec.events, 3)
	require.Equal(t, events.TypeTokenTransfer, rec.events[1].EventType())
}

func TestTransferValidations(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	require.NoError(t, ledger.Mint(alice, big.NewInt(10)))

	require.ErrorIs(t, ledger.Transfer(alice, bob, big.NewInt(11)), ErrInsufficientBalance)
	require.ErrorIs(t, ledger.Transfer(alice, bob, big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, ledger.Transfer(alice, [20]byte{}, big.NewInt(1)), ErrZeroAddress)
	require.ErrorIs(t, ledger.Transfer(bob, alice, big.NewInt(1)), ErrInsufficientBalance)
	require.ErrorIs(t, ledger.Mint([20]byte{}, big.NewInt(1)), ErrZeroAddress)

	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	require.ErrorIs(t, ledger.Mint(alice, huge), ErrSupplyOverflow)
}

func TestReceiveHook(t *testing.T) {
	ledger, mgr, _ := newTestLedger(t)
	require.NoError(t, ledger.Mint(alice, big.NewInt(10)))

	var got *big.Int
	ledger.RegisterRecipient(sale, func(from, to [20]byte, amount *big.Int) error {
		require.Equal(t, alice, from)
		got = amount
		return nil
	})
	require.NoError(t, ledger.Transfer(alice, sale, big.NewInt(4)))
	require.Equal(t, int64(4), got.Int64())

	hookErr := errors.New("refused")
	ledger.RegisterRecipient(sale, func(from, to [20]byte, amount *big.Int) error { return hookErr })
	snap := mgr.Snapshot()
	require.ErrorIs(t, ledger.Transfer(alice, sale, big.NewInt(1)), hookErr)
	require.NoError(t, mgr.RevertToSnapshot(snap))
	bal, err := ledger.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, int64(6), bal.Int64())

	ledger.RegisterRecipient(sale, nil)
	require.NoError(t, ledger.Transfer(alice, sale, big.NewInt(1)))
}

func TestTransferGuard(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	require.NoError(t, ledger.Mint(alice, big.NewInt(10)))
	ledger.SetTransferGuard(func(from, to [20]byte, amount *big.Int) error {
		if from == alice && amount.Cmp(big.NewInt(3)) > 0 {
			return ErrTransferRestricted
		}
		return nil
	})
	require.ErrorIs(t, ledger.Transfer(alice, bob, big.NewInt(4)), ErrTransferRestricted)
	require.NoError(t, ledger.Transfer(alice, bob, big.NewInt(3)))
	require.NoError(t, ledger.Transfer(bob, alice, big.NewInt(3)))
}
