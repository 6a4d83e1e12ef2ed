package rico

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"rico/core/events"
	"rico/core/types"
)

type mockState struct {
	sale         *Sale
	totals       *Totals
	participants map[[20]byte]*Participant
	order        [][20]byte
	accounts     map[[20]byte]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		participants: make(map[[20]byte]*Participant),
		accounts:     make(map[[20]byte]*types.Account),
	}
}

func (m *mockState) RicoSaleGet() (*Sale, bool, error) {
	if m.sale == nil {
		return nil, false, nil
	}
	return m.sale.Clone(), true, nil
}

func (m *mockState) RicoSalePut(sale *Sale) error {
	if sale == nil {
		return fmt.Errorf("nil sale")
	}
	m.sale = sale.Clone()
	return nil
}

func (m *mockState) RicoTotalsGet() (*Totals, bool, error) {
	if m.totals == nil {
		return nil, false, nil
	}
	return m.totals.Clone(), true, nil
}

func (m *mockState) RicoTotalsPut(totals *Totals) error {
	m.totals = totals.Clone()
	return nil
}

func (m *mockState) RicoParticipantGet(addr [20]byte) (*Participant, bool, error) {
	p, ok := m.participants[addr]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (m *mockState) RicoParticipantPut(p *Participant) error {
	if p == nil {
		return fmt.Errorf("nil participant")
	}
	if _, ok := m.participants[p.Address]; !ok {
		m.order = append(m.order, p.Address)
	}
	m.participants[p.Address] = p.Clone()
	return nil
}

func (m *mockState) RicoParticipantList() ([][20]byte, error) {
	return append([][20]byte(nil), m.order...), nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	acc, ok := m.accounts[key]
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = account.Clone()
	return nil
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	acc, _ := m.GetAccount(addr[:])
	return new(big.Int).Set(acc.Balance)
}

func (m *mockState) credit(addr [20]byte, amount *big.Int) {
	acc, _ := m.GetAccount(addr[:])
	acc.Balance.Add(acc.Balance, amount)
	_ = m.PutAccount(addr[:], acc)
}

type mockLedger struct {
	balances map[[20]byte]*big.Int
	hooks    map[[20]byte]func(from, to [20]byte, amount *big.Int) error
	// onTransfer runs after every successful balance move.
	onTransfer func(from, to [20]byte, amount *big.Int)
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		balances: make(map[[20]byte]*big.Int),
		hooks:    make(map[[20]byte]func(from, to [20]byte, amount *big.Int) error),
	}
}

func (l *mockLedger) BalanceOf(addr [20]byte) (*big.Int, error) {
	bal, ok := l.balances[addr]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

func (l *mockLedger) move(from, to [20]byte, amount *big.Int) error {
	fromBal, _ := l.BalanceOf(from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("mock ledger: insufficient tokens")
	}
	toBal, _ := l.BalanceOf(to)
	l.balances[from] = fromBal.Sub(fromBal, amount)
	l.balances[to] = toBal.Add(toBal, amount)
	return nil
}

func (l *mockLedger) Transfer(from, to [20]byte, amount *big.Int) error {
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	if l.onTransfer != nil {
		l.onTransfer(from, to, amount)
	}
	if hook, ok := l.hooks[to]; ok {
		if err := hook(from, to, amount); err != nil {
			_ = l.move(to, from, amount)
			return err
		}
	}
	return nil
}

func (l *mockLedger) mint(to [20]byte, amount *big.Int) {
	bal, _ := l.BalanceOf(to)
	l.balances[to] = bal.Add(bal, amount)
}

type testClock struct{ height uint64 }

func (c *testClock) CurrentBlock() uint64 { return c.height }

type captureEmitter struct{ events []events.Event }

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *captureEmitter) ofType(typ string) []*types.Event {
	var out []*types.Event
	for _, evt := range c.events {
		if evt.EventType() != typ {
			continue
		}
		if payload, ok := evt.(events.Payload); ok {
			out = append(out, payload.Event())
		}
	}
	return out
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	deployerAddr   = newTestAddress(0x01)
	controllerAddr = newTestAddress(0x02)
	projectAddr    = newTestAddress(0x03)
	saleAddr       = newTestAddress(0x10)
	aliceAddr      = newTestAddress(0x21)
	bobAddr        = newTestAddress(0x22)
)

func testRoles() Roles {
	return Roles{Deployer: deployerAddr, WhitelistController: controllerAddr, ProjectWallet: projectAddr}
}

// testParams produce, for a sale initialised at block 100:
// commit phase 110..122, stage 1 123..129, stage 2 130..136, stage 3 137..143.
// The buy phase spans 20 blocks so every two blocks unlock 10%.
func testParams() ScheduleParams {
	return ScheduleParams{
		StartBlockDelay:    10,
		BlocksPerDay:       6,
		CommitPhaseDays:    2,
		StageCount:         3,
		StageDays:          1,
		CommitPhasePrice:   big.NewInt(2_000_000_000_000_000),
		StagePriceIncrease: big.NewInt(100_000_000_000_000),
	}
}

func amount(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "invalid amount %q", s)
	return v
}

func token(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), tokenUnit)
}

type testEnv struct {
	engine  *Engine
	state   *mockState
	ledger  *mockLedger
	clock   *testClock
	emitter *captureEmitter
	sale    *Sale
}

func newTestEnv(t *testing.T, supply *big.Int) *testEnv {
	t.Helper()
	env := &testEnv{
		engine:  NewEngine(),
		state:   newMockState(),
		ledger:  newMockLedger(),
		clock:   &testClock{height: 100},
		emitter: &captureEmitter{},
	}
	env.engine.SetState(env.state)
	env.engine.SetTokenLedger(env.ledger)
	env.engine.SetClock(env.clock)
	env.engine.SetEmitter(env.emitter)
	env.ledger.mint(saleAddr, supply)
	env.ledger.hooks[saleAddr] = env.engine.OnTokensReceived

	sale, err := env.engine.Initialize(deployerAddr, saleAddr, testRoles(), testParams())
	require.NoError(t, err)
	env.sale = sale
	return env
}

func (env *testEnv) at(block uint64) { env.clock.height = block }

// commit moves value wei to the sale address and records the contribution.
func (env *testEnv) commit(t *testing.T, sender [20]byte, value *big.Int) *Participant {
	t.Helper()
	env.state.credit(saleAddr, value)
	p, err := env.engine.Commit(sender, value)
	require.NoError(t, err)
	return p
}

func (env *testEnv) whitelist(t *testing.T, accept bool, addrs ...[20]byte) {
	t.Helper()
	require.NoError(t, env.engine.Whitelist(controllerAddr, addrs, accept))
}

func (env *testEnv) tokens(t *testing.T, addr [20]byte) *big.Int {
	t.Helper()
	bal, err := env.ledger.BalanceOf(addr)
	require.NoError(t, err)
	return bal
}

func (env *testEnv) unlocked(t *testing.T, addr [20]byte) *big.Int {
	t.Helper()
	bal, err := env.engine.UnlockedBalance(addr, env.clock.height)
	require.NoError(t, err)
	return bal
}

func (env *testEnv) locked(t *testing.T, addr [20]byte) *big.Int {
	t.Helper()
	bal, err := env.engine.LockedTokenAmount(addr, env.clock.height)
	require.NoError(t, err)
	return bal
}

func TestInitializeValidations(t *testing.T) {
	engine := NewEngine()
	_, err := engine.Initialize(deployerAddr, saleAddr, testRoles(), testParams())
	require.Error(t, err)

	state := newMockState()
	engine.SetState(state)
	engine.SetTokenLedger(newMockLedger())
	engine.SetClock(&testClock{height: 1})

	_, err = engine.Initialize(aliceAddr, saleAddr, testRoles(), testParams())
	require.ErrorIs(t, err, ErrUnauthorized)

	roles := testRoles()
	roles.ProjectWallet = [20]byte{}
	_, err = engine.Initialize(deployerAddr, saleAddr, roles, testParams())
	require.ErrorIs(t, err, ErrConfig)

	bad := testParams()
	bad.StageCount = 0
	_, err = engine.Initialize(deployerAddr, saleAddr, testRoles(), bad)
	require.ErrorIs(t, err, ErrConfig)

	sale, err := engine.Initialize(deployerAddr, saleAddr, testRoles(), testParams())
	require.NoError(t, err)
	require.Equal(t, uint64(11), sale.Schedule.CommitPhaseStartBlock())

	_, err = engine.Initialize(deployerAddr, saleAddr, testRoles(), testParams())
	require.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestOperationsRequireInitialization(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	engine.SetTokenLedger(newMockLedger())
	engine.SetClock(&testClock{height: 120})

	_, err := engine.Commit(aliceAddr, big.NewInt(1))
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, engine.Whitelist(controllerAddr, [][20]byte{aliceAddr}, true), ErrNotInitialized)
	_, err = engine.ProjectWithdraw(projectAddr, big.NewInt(1))
	require.ErrorIs(t, err, ErrNotInitialized)
	ok, err := engine.IsInitialized()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCommitOutsidePeriod(t *testing.T) {
	env := newTestEnv(t, token(100))
	env.at(109)
	_, err := env.engine.Commit(aliceAddr, big.NewInt(1))
	require.ErrorIs(t, err, ErrOutOfRange)
	env.at(144)
	_, err = env.engine.Commit(aliceAddr, big.NewInt(1))
	require.ErrorIs(t, err, ErrOutOfRange)
	env.at(143)
	_, err = env.engine.Commit(aliceAddr, big.NewInt(0))
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCommitStageOneTokenAmount(t *testing.T) {
	env := newTestEnv(t, token(10_000))
	env.at(123)
	env.whitelist(t, true, aliceAddr)
	price, err := env.engine.CurrentPrice()
	require.NoError(t, err)
	require.Equal(t, "2100000000000000", price.String())

	p := env.commit(t, aliceAddr, amount(t, "1000000000000000000"))
	require.Equal(t, "476190476190476190476", p.ByStage[1].BoughtTokens.String())
	require.Equal(t, "476190476190476190476", env.tokens(t, aliceAddr).String())
	require.Equal(t, 0, p.ByStage[1].PendingETH().Sign())
	require.Len(t, env.emitter.ofType(EventTypeContributionAccepted), 1)
}

func TestPendingUntilWhitelisted(t *testing.T) {
	env := newTestEnv(t, token(100))
	env.at(110)
	value := big.NewInt(2_000_000_000_000_000)
	p := env.commit(t, aliceAddr, value)

	require.False(t, p.Whitelisted)
	require.Equal(t, 0, env.tokens(t, aliceAddr).Sign())
	require.Equal(t, 0, env.unlocked(t, aliceAddr).Sign())
	pending, err := env.engine.PendingETH(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, value, pending)
	require.Equal(t, token(1), p.Totals.ReservedTokens)

	env.at(115)
	env.whitelist(t, true, aliceAddr)
	require.Equal(t, token(1), env.tokens(t, aliceAddr))
	pending, err = env.engine.PendingETH(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, 0, pending.Sign())

	stored, err := env.engine.Participant(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, 0, stored.Totals.ReservedTokens.Sign())
	require.Equal(t, value, stored.Totals.CommittedETH)
}

func TestWhitelistRequiresController(t *testing.T) {
	env := newTestEnv(t, token(100))
	env.at(110)
	err := env.engine.Whitelist(aliceAddr, [][20]byte{aliceAddr}, true)
	require.ErrorIs(t, err, ErrUnauthorized)
	env.at(150)
	err = env.engine.Whitelist(controllerAddr, [][20]byte{aliceAddr}, true)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestRejectIsIdempotent(t *testing.T) {
	env := newTestEnv(t, token(100))
	env.at(112)
	value := big.NewInt(4_000_000_000_000_000)
	env.commit(t, aliceAddr, value)

	env.whitelist(t, false, aliceAddr)
	require.Equal(t, value, env.state.balance(aliceAddr))
	require.Equal(t, 0, env.state.balance(saleAddr).Sign())

	env.whitelist(t, false, aliceAddr)
	require.Equal(t, value, env.state.balance(aliceAddr))
	require.Len(t, env.emitter.ofType(EventTypeRefunded), 1)

	p, err := env.engine.Participant(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, value, p.Totals.ReturnedETH)
	require.Equal(t, 0, p.Totals.CommittedETH.Sign())
	require.Equal(t, 0, p.Totals.ReservedTokens.Sign())
}

func TestRejectKeepsSettledTokens(t *testing.T) {
	env := newTestEnv(t, token(100))
	env.at(110)
	env.whitelist(t, true, aliceAddr)
	env.commit(t, aliceAddr, big.NewInt(2_000_000_000_000_000))
	env.whitelist(t, false, aliceAddr)

	env.commit(t, aliceAddr, big.NewInt(2_000_000_000_000_000))
	env.whitelist(t, false, aliceAddr)

	require.Equal(t, token(1), env.tokens(t, aliceAddr))
	require.Equal(t, big.NewInt(2_000_000_000_000_000), env.state.balance(aliceAddr))
}

func TestCancelReturnsPending(t *testing.T) {
	env := newTestEnv(t, token(100))
	env.at(111)
	_, err := env.engine.Cancel(aliceAddr)
	require.ErrorIs(t, err, ErrNothingPending)

	value := big.NewInt(3_000_000_000_000_000)
	env.commit(t, aliceAddr, value)
	refund, err := env.engine.Cancel(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, value, refund)
	require.Equal(t, value, env.state.balance(aliceAddr))

	_, err = env.engine.Cancel(aliceAddr)
	require.ErrorIs(t, err, ErrNothingPending)
	evts := env.emitter.ofType(EventTypeRefunded)
	require.Len(t, evts, 1)
	require.Equal(t, RefundReasonCancelled, evts[0].Attr("reason"))
}

func TestCommitPhaseCapRefundsWholeStage(t *testing.T) {
	env := newTestEnv(t, token(1))
	env.at(110)
	env.whitelist(t, true, aliceAddr)
	value := big.NewInt(4_000_000_000_000_000) // 2 tokens
	p := env.commit(t, aliceAddr, value)

	require.Equal(t, 0, p.Totals.CommittedETH.Sign())
	require.Equal(t, value, p.Totals.ReturnedETH)
	require.Equal(t, value, env.state.balance(aliceAddr))
	require.Equal(t, token(1), env.tokens(t, saleAddr))
}

func TestBuyPhasePartialAcceptance(t *testing.T) {
	supply := amount(t, "1500000000000000000")
	env := newTestEnv(t, supply)
	env.at(124)
	env.whitelist(t, true, bobAddr)
	value := big.NewInt(4_200_000_000_000_000) // 2 tokens at stage 1
	p := env.commit(t, bobAddr, value)

	accepted := big.NewInt(3_150_000_000_000_000)
	refund := big.NewInt(1_050_000_000_000_000)
	require.Equal(t, accepted, p.Totals.CommittedETH)
	require.Equal(t, refund, p.Totals.ReturnedETH)
	require.Equal(t, supply, env.tokens(t, bobAddr))
	require.Equal(t, 0, env.tokens(t, saleAddr).Sign())
	require.Equal(t, refund, env.state.balance(bobAddr))
	require.Equal(t, accepted, env.state.balance(saleAddr))

	evts := env.emitter.ofType(EventTypeRefunded)
	require.Len(t, evts, 1)
	require.Equal(t, RefundReasonCap, evts[0].Attr("reason"))

	// One block into the 20 block buy phase 5% is already unlocked.
	require.Equal(t, "75000000000000000", env.unlocked(t, bobAddr).String())
	totals, err := env.engine.Totals()
	require.NoError(t, err)
	require.Equal(t, "157500000000000", totals.ProjectAllocatedETH.String())
}

func TestUnlockAfterTenPercent(t *testing.T) {
	env := newTestEnv(t, token(100))
	env.at(110)
	env.whitelist(t, true, aliceAddr)
	env.commit(t, aliceAddr, big.NewInt(2_000_000_000_000_000))

	env.at(125)
	require.Equal(t, "900000000000000000", env.locked(t, aliceAddr).String())
	require.Equal(t, "100000000000000000", env.unlocked(t, aliceAddr).String())

	require.NoError(t, env.ledger.Transfer(aliceAddr, saleAddr, token(1)))

	require.Equal(t, "100000000000000000", env.unlocked(t, aliceAddr).String())
	require.Equal(t, 0, env.locked(t, aliceAddr).Sign())
	require.Equal(t, "100000000000000000", env.tokens(t, aliceAddr).String())
	require.Equal(t, big.NewInt(1_800_000_000_000_000), env.state.balance(aliceAddr))

	p, err := env.engine.Participant(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(200_000_000_000_000), p.Totals.CommittedETH)
	require.Equal(t, big.NewInt(1_800_000_000_000_000), p.Totals.WithdrawnETH)
	require.Equal(t, "900000000000000000", p.Totals.ReturnedTokens.String())

	evts := env.emitter.ofType(EventTypeTokensReturned)
	require.Len(t, evts, 1)
	require.Equal(t, "100000000000000000", evts[0].Attr("excess"))

	_, err = env.engine.Withdraw(aliceAddr, token(1))
	require.ErrorIs(t, err, ErrNoLockedTokens)
}

func TestWithdrawIsLastInFirstOut(t *testing.T) {
	env := newTestEnv(t, token(100))
	env.at(110)
	env.whitelist(t, true, aliceAddr)
	env.commit(t, aliceAddr, big.NewInt(2_000_000_000_000_000)) // stage 0
	env.at(123)
	env.commit(t, aliceAddr, big.NewInt(2_100_000_000_000_000)) // stage 1

	require.NoError(t, env.ledger.Transfer(aliceAddr, saleAddr, amount(t, "500000000000000000")))
	p, err := env.engine.Participant(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, 0, p.ByStage[0].ReturnedTokens.Sign())
	require.Equal(t, "500000000000000000", p.ByStage[1].ReturnedTokens.String())
	require.Equal(t, big.NewInt(1_050_000_000_000_000), p.ByStage[1].WithdrawnETH)

	require.NoError(t, env.ledger.Transfer(aliceAddr, saleAddr, token(1)))
	p, err = env.engine.Participant(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, token(1), p.ByStage[1].ReturnedTokens)
	require.Equal(t, "500000000000000000", p.ByStage[0].ReturnedTokens.String())
	require.Equal(t, big.NewInt(1_000_000_000_000_000), p.ByStage[0].WithdrawnETH)
}

func TestWithdrawWithoutParticipation(t *testing.T) {
	env := newTestEnv(t, token(100))
	env.at(120)
	_, err := env.engine.Withdraw(bobAddr, token(1))
	require.ErrorIs(t, err, ErrNoLockedTokens)

	env.ledger.mint(bobAddr, token(1))
	err = env.ledger.Transfer(bobAddr, saleAddr, token(1))
	require.ErrorIs(t, err, ErrNoLockedTokens)
	require.Equal(t, token(1), env.tokens(t, bobAddr))
}

func TestUnlockedBalanceIsMonotonic(t *testing.T) {
	env := newTestEnv(t, token(100))
	env.at(110)
	env.whitelist(t, true, aliceAddr)

	prev := big.NewInt(0)
	for block := uint64(110); block <= 150; block++ {
		env.at(block)
		switch block {
		case 110:
			env.commit(t, aliceAddr, big.NewInt(6_000_000_000_000_000))
		case 131:
			env.commit(t, aliceAddr, big.NewInt(2_200_000_000_000_000))
		case 128, 139:
			half := new(big.Int).Rsh(env.locked(t, aliceAddr), 1)
			before := env.unlocked(t, aliceAddr)
			require.NoError(t, env.ledger.Transfer(aliceAddr, saleAddr, half))
			require.Equal(t, before, env.unlocked(t, aliceAddr), "block %d", block)
		}
		cur := env.unlocked(t, aliceAddr)
		require.True(t, cur.Cmp(prev) >= 0, "unlocked decreased at block %d: %s < %s", block, cur, prev)
		prev = cur
	}
	p, err := env.engine.Participant(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, p.Totals.BoughtTokens, prev)
	require.Equal(t, 0, env.locked(t, aliceAddr).Sign())
}

func TestProjectWithdraw(t *testing.T) {
	env := newTestEnv(t, token(100))
	env.at(110)
	env.whitelist(t, true, aliceAddr)
	env.commit(t, aliceAddr, big.NewInt(2_000_000_000_000_000))

	_, err := env.engine.ProjectWithdraw(projectAddr, big.NewInt(1))
	require.ErrorIs(t, err, ErrInsufficientAvailable)
	_, err = env.engine.ProjectWithdraw(aliceAddr, big.NewInt(1))
	require.ErrorIs(t, err, ErrUnauthorized)

	env.at(133)
	available, err := env.engine.AvailableProjectETH()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000_000_000_000), available)

	remaining, err := env.engine.ProjectWithdraw(projectAddr, big.NewInt(400_000_000_000_000))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(600_000_000_000_000), remaining)
	_, err = env.engine.ProjectWithdraw(projectAddr, big.NewInt(700_000_000_000_000))
	require.ErrorIs(t, err, ErrInsufficientAvailable)

	env.at(143)
	available, err = env.engine.AvailableProjectETH()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_600_000_000_000_000), available)
	_, err = env.engine.ProjectWithdraw(projectAddr, available)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(2_000_000_000_000_000), env.state.balance(projectAddr))
	require.Equal(t, 0, env.state.balance(saleAddr).Sign())

	totals, err := env.engine.Totals()
	require.NoError(t, err)
	require.Equal(t, uint64(2), totals.ProjectWithdrawCount)
}

func TestProjectWithdrawAfterParticipantReturn(t *testing.T) {
	env := newTestEnv(t, token(100))
	env.at(110)
	env.whitelist(t, true, aliceAddr)
	env.commit(t, aliceAddr, big.NewInt(2_000_000_000_000_000))

	env.at(133)
	_, err := env.engine.ProjectWithdraw(projectAddr, big.NewInt(400_000_000_000_000))
	require.NoError(t, err)
	require.NoError(t, env.ledger.Transfer(aliceAddr, saleAddr, token(1)))
	require.Equal(t, big.NewInt(1_000_000_000_000_000), env.state.balance(aliceAddr))

	env.at(138)
	available, err := env.engine.AvailableProjectETH()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(600_000_000_000_000), available)

	env.at(143)
	available, err = env.engine.AvailableProjectETH()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(600_000_000_000_000), available)
	_, err = env.engine.ProjectWithdraw(projectAddr, available)
	require.NoError(t, err)
	require.Equal(t, 0, env.state.balance(saleAddr).Sign())
}

func TestConservation(t *testing.T) {
	env := newTestEnv(t, token(3))
	env.at(110)
	env.whitelist(t, true, aliceAddr)
	env.commit(t, aliceAddr, big.NewInt(2_000_000_000_000_000))
	env.commit(t, bobAddr, big.NewInt(5_000_000_000_000_000))
	env.at(126)
	env.commit(t, aliceAddr, big.NewInt(2_100_000_000_000_000))
	env.whitelist(t, true, bobAddr)
	env.at(131)
	require.NoError(t, env.ledger.Transfer(aliceAddr, saleAddr, amount(t, "700000000000000000")))
	env.commit(t, bobAddr, big.NewInt(1_000_000_000_000_000))
	env.at(135)
	available, err := env.engine.AvailableProjectETH()
	require.NoError(t, err)
	_, err = env.engine.ProjectWithdraw(projectAddr, available)
	require.NoError(t, err)

	totals, err := env.engine.Totals()
	require.NoError(t, err)
	addrs, err := env.engine.Participants()
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	require.Equal(t, uint64(2), totals.ContributorCount)

	sum := big.NewInt(0)
	for _, addr := range addrs {
		p, err := env.engine.Participant(addr)
		require.NoError(t, err)
		sum.Add(sum, p.Totals.CommittedETH)
		sum.Add(sum, p.Totals.ReturnedETH)
		sum.Add(sum, p.PendingETH())

		stageSum := big.NewInt(0)
		for _, rec := range p.ByStage {
			stageSum.Add(stageSum, rec.CommittedETH)
		}
		require.Equal(t, p.Totals.CommittedETH, stageSum)
	}
	require.Equal(t, totals.TotalReceivedETH, sum)
	require.True(t, totals.CommittedETH.Cmp(totals.WithdrawnETH) >= 0)
	require.True(t, totals.TotalReceivedETH.Cmp(totals.CommittedETH) >= 0)

	held := new(big.Int).Set(totals.TotalReceivedETH)
	held.Sub(held, totals.ReturnedETH)
	held.Sub(held, totals.WithdrawnETH)
	held.Sub(held, totals.ProjectWithdrawnETH)
	require.Equal(t, held, env.state.balance(saleAddr))

	issued := new(big.Int).Add(env.tokens(t, aliceAddr), env.tokens(t, bobAddr))
	require.Equal(t, token(3), issued.Add(issued, env.tokens(t, saleAddr)))
}

func TestReentrantCallFails(t *testing.T) {
	env := newTestEnv(t, token(100))
	env.at(110)
	env.whitelist(t, true, aliceAddr)

	var nested error
	env.ledger.onTransfer = func(from, to [20]byte, amount *big.Int) {
		if from == saleAddr {
			_, nested = env.engine.Commit(bobAddr, big.NewInt(1))
		}
	}
	env.commit(t, aliceAddr, big.NewInt(2_000_000_000_000_000))
	require.True(t, errors.Is(nested, ErrReentrantCall))
	require.False(t, env.engine.Busy())

	_, err := env.engine.Participant(bobAddr)
	require.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestLockedTokenAmountForStranger(t *testing.T) {
	env := newTestEnv(t, token(100))
	locked, err := env.engine.LockedTokenAmount(bobAddr, 120)
	require.NoError(t, err)
	require.Equal(t, 0, locked.Sign())
}

func TestBalanceViewsRejectBlocksBeforeCheckpoint(t *testing.T) {
	env := newTestEnv(t, token(1_000))
	env.at(110)
	env.whitelist(t, true, aliceAddr)
	env.commit(t, aliceAddr, big.NewInt(1_000_000_000_000_000_000))
	require.Equal(t, token(500), env.locked(t, aliceAddr))

	env.at(133)
	require.NoError(t, env.ledger.Transfer(aliceAddr, saleAddr, token(100)))
	require.Equal(t, token(150), env.locked(t, aliceAddr))
	require.Equal(t, token(250), env.unlocked(t, aliceAddr))

	_, err := env.engine.LockedTokenAmount(aliceAddr, 123)
	require.ErrorIs(t, err, ErrBlockBeforeCheckpoint)
	_, err = env.engine.UnlockedBalance(aliceAddr, 123)
	require.ErrorIs(t, err, ErrBlockBeforeCheckpoint)

	locked, err := env.engine.LockedTokenAmount(aliceAddr, 143)
	require.NoError(t, err)
	require.Zero(t, locked.Sign())
}
