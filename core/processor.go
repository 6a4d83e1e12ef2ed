package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"rico/core/events"
	"rico/core/state"
	"rico/core/types"
	"rico/native/rico"
	"rico/native/token"
	"rico/observability/logging"
	"rico/observability/metrics"
	"rico/storage"
)

var (
	// ErrInsufficientFunds is returned when a sender cannot cover the ETH it
	// sends to the sale.
	ErrInsufficientFunds = errors.New("core: insufficient funds")
	ErrAlreadyDeployed   = errors.New("core: sale already deployed")
	ErrNotDeployed       = errors.New("core: sale not deployed")
)

// EventSink persists the events of a committed call.
type EventSink interface {
	Append(ctx context.Context, callID string, block uint64, evts []events.Event) error
}

// Options configures a SaleProcessor.
type Options struct {
	// GenesisBlock is the clock height used when the database holds none.
	GenesisBlock uint64
	Logger       *slog.Logger
	// Emitter receives the events of committed calls.
	Emitter events.Emitter
	Sink    EventSink
	// RedactAddresses masks addresses in every log line of the runtime.
	RedactAddresses bool
}

// SaleProcessor hosts a single sale on top of a key/value database. Every
// mutating call runs inside a state snapshot: on failure all writes and
// buffered events are discarded, on success the writes are flushed in one
// batch and the events are delivered.
type SaleProcessor struct {
	mu sync.Mutex

	state   *state.Manager
	clock   *ManualClock
	ledger  *token.Ledger
	engine  *rico.Engine
	buffer  *events.Buffer
	emitter events.Emitter
	sink    EventSink
	logger  *slog.Logger

	tracer  trace.Tracer
	calls   metric.Int64Counter
	metrics *metrics.SaleMetrics
}

// NewSaleProcessor wires the token ledger and the sale engine over db. An
// existing sale in db is picked up again, including the block height.
func NewSaleProcessor(db storage.Database, opts Options) (*SaleProcessor, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RedactAddresses {
		logger = slog.New(logging.NewAddressRedactor(logger.Handler()))
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}

	mgr := state.NewManager(db)
	height, ok, err := mgr.BlockHeight()
	if err != nil {
		return nil, fmt.Errorf("core: load block height: %w", err)
	}
	if !ok || height < opts.GenesisBlock {
		height = opts.GenesisBlock
	}

	p := &SaleProcessor{
		state:   mgr,
		clock:   NewManualClock(height),
		buffer:  &events.Buffer{},
		emitter: emitter,
		sink:    opts.Sink,
		logger:  logger.With("component", "processor"),
		tracer:  otel.Tracer("rico/core"),
		metrics: metrics.Sale(),
	}
	p.calls = newCallCounter()

	p.ledger = token.NewLedger(mgr)
	p.ledger.SetEmitter(p.buffer)
	p.ledger.SetLogger(logger)
	p.ledger.SetTransferGuard(p.guardTransfer)

	p.engine = rico.NewEngine()
	p.engine.SetState(mgr)
	p.engine.SetTokenLedger(p.ledger)
	p.engine.SetClock(p.clock)
	p.engine.SetEmitter(p.buffer)
	p.engine.SetLogger(logger)

	sale, err := p.engine.Sale()
	switch {
	case err == nil:
		p.ledger.RegisterRecipient(sale.Address, p.engine.OnTokensReceived)
	case errors.Is(err, rico.ErrNotInitialized):
	default:
		return nil, fmt.Errorf("core: load sale: %w", err)
	}
	return p, nil
}

func newCallCounter() metric.Int64Counter {
	meter := otel.GetMeterProvider().Meter("rico/core")
	counter, err := meter.Int64Counter("rico.sale.calls")
	if err != nil {
		counter, _ = noop.NewMeterProvider().Meter("rico/core").Int64Counter("rico.sale.calls")
	}
	return counter
}

// execute runs fn as one atomic call and returns its call identifier.
func (p *SaleProcessor) execute(ctx context.Context, op string, attrs []attribute.KeyValue, fn func() error) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	callID := uuid.NewString()
	block := p.clock.CurrentBlock()
	attrs = append(attrs,
		attribute.String("call.id", callID),
		attribute.Int64("block", int64(block)))
	ctx, span := p.tracer.Start(ctx, "rico."+op, trace.WithAttributes(attrs...))
	defer span.End()

	snapshot := p.state.Snapshot()
	err := fn()
	if err == nil {
		err = p.state.SetBlockHeight(block)
	}
	if err == nil {
		err = p.state.Commit()
	}
	if err != nil {
		p.buffer.Reset()
		if revertErr := p.state.RevertToSnapshot(snapshot); revertErr != nil {
			p.logger.Error("state revert failed", "operation", op, "call", callID, "error", revertErr)
			p.state.Discard()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.record(ctx, op, start, err)
		p.logger.Warn("sale call failed", "operation", op, "call", callID, "block", block, "error", err)
		return callID, err
	}

	committed := p.buffer.Events()
	p.buffer.Flush(p.emitter)
	for _, evt := range committed {
		if payload, ok := evt.(events.Payload); ok && evt.EventType() == rico.EventTypeRefunded {
			p.metrics.RecordRefund(payload.Event().Attr("reason"))
		}
	}
	if p.sink != nil && len(committed) > 0 {
		if sinkErr := p.sink.Append(ctx, callID, block, committed); sinkErr != nil {
			// State is already committed; the call itself succeeded.
			span.RecordError(sinkErr)
			p.logger.Error("event log append failed", "operation", op, "call", callID, "error", sinkErr)
		}
	}
	p.recordTotals()
	span.SetAttributes(attribute.Int("events", len(committed)))
	span.SetStatus(codes.Ok, "committed")
	p.record(ctx, op, start, nil)
	p.logger.Info("sale call committed", "operation", op, "call", callID, "block", block, "events", len(committed))
	return callID, nil
}

func (p *SaleProcessor) record(ctx context.Context, op string, start time.Time, err error) {
	p.metrics.Observe(op, time.Since(start), err)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	p.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome)))
}

func (p *SaleProcessor) recordTotals() {
	totals, err := p.engine.Totals()
	if err != nil {
		return
	}
	stage, err := p.engine.CurrentStage()
	if err != nil {
		stage = -1
	}
	p.metrics.RecordTotals(metrics.SaleTotals{
		CommittedETH:        totals.CommittedETH,
		WithdrawnETH:        totals.WithdrawnETH,
		ProjectWithdrawnETH: totals.ProjectWithdrawnETH,
		Contributors:        totals.ContributorCount,
		Stage:               stage,
	})
}

// guardTransfer keeps locked sale tokens from leaving a participant other
// than by returning them to the sale.
func (p *SaleProcessor) guardTransfer(from, to [20]byte, amount *big.Int) error {
	sale, err := p.engine.Sale()
	if errors.Is(err, rico.ErrNotInitialized) {
		return nil
	}
	if err != nil {
		return err
	}
	if from == sale.Address || to == sale.Address {
		return nil
	}
	balance, err := p.ledger.BalanceOf(from)
	if err != nil {
		return err
	}
	locked, err := p.engine.LockedTokenAmount(from, p.clock.CurrentBlock())
	if err != nil {
		return err
	}
	free := new(big.Int).Sub(balance, locked)
	if free.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s of %s tokens locked", token.ErrTransferRestricted, locked, balance)
	}
	return nil
}

// Deploy creates the sale: the sale address is derived from the deployer and
// its nonce, the token supply is minted to it and the schedule is derived
// at the current block.
func (p *SaleProcessor) Deploy(ctx context.Context, deployer [20]byte, roles rico.Roles, params rico.ScheduleParams, supply *big.Int) (*rico.Sale, error) {
	var sale *rico.Sale
	_, err := p.execute(ctx, "deploy", []attribute.KeyValue{
		attribute.Int64("stages", int64(params.StageCount)),
	}, func() error {
		initialized, err := p.engine.IsInitialized()
		if err != nil {
			return err
		}
		if initialized {
			return ErrAlreadyDeployed
		}
		acc, err := p.state.GetAccount(deployer[:])
		if err != nil {
			return err
		}
		address := [20]byte(crypto.CreateAddress(common.Address(deployer), acc.Nonce))
		acc.Nonce++
		if err := p.state.PutAccount(deployer[:], acc); err != nil {
			return err
		}
		if err := p.ledger.Mint(address, supply); err != nil {
			return err
		}
		sale, err = p.engine.Initialize(deployer, address, roles, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.ledger.RegisterRecipient(sale.Address, p.engine.OnTokensReceived)
	return sale, nil
}

// Credit adds ETH to an account. The simulator funds participants with it.
func (p *SaleProcessor) Credit(ctx context.Context, addr [20]byte, amount *big.Int) error {
	_, err := p.execute(ctx, "credit", nil, func() error {
		if amount == nil || amount.Sign() <= 0 {
			return rico.ErrInvalidAmount
		}
		acc, err := p.state.GetAccount(addr[:])
		if err != nil {
			return err
		}
		acc.Balance = new(big.Int).Add(acc.Balance, amount)
		return p.state.PutAccount(addr[:], acc)
	})
	return err
}

// Commit sends value wei from sender to the sale and records the
// contribution.
func (p *SaleProcessor) Commit(ctx context.Context, sender [20]byte, value *big.Int) (*rico.Participant, error) {
	var participant *rico.Participant
	_, err := p.execute(ctx, "commit", nil, func() error {
		if value == nil || value.Sign() <= 0 {
			return rico.ErrInvalidAmount
		}
		sale, err := p.engine.Sale()
		if err != nil {
			return err
		}
		if err := p.moveETH(sender, sale.Address, value); err != nil {
			return err
		}
		participant, err = p.engine.Commit(sender, value)
		return err
	})
	return participant, err
}

func (p *SaleProcessor) moveETH(from, to [20]byte, amount *big.Int) error {
	src, err := p.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	if src.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance %s, need %s", ErrInsufficientFunds, src.Balance, amount)
	}
	src.Balance = new(big.Int).Sub(src.Balance, amount)
	src.Nonce++
	if err := p.state.PutAccount(from[:], src); err != nil {
		return err
	}
	dst, err := p.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	dst.Balance = new(big.Int).Add(dst.Balance, amount)
	if err := p.state.PutAccount(to[:], dst); err != nil {
		return err
	}
	p.buffer.Emit(events.ValueTransfer{From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Whitelist accepts or rejects addresses on behalf of sender.
func (p *SaleProcessor) Whitelist(ctx context.Context, sender [20]byte, addresses [][20]byte, accept bool) error {
	_, err := p.execute(ctx, "whitelist", []attribute.KeyValue{
		attribute.Int("addresses", len(addresses)),
		attribute.Bool("accept", accept),
	}, func() error {
		return p.engine.Whitelist(sender, addresses, accept)
	})
	return err
}

// Cancel refunds the pending contributions of sender.
func (p *SaleProcessor) Cancel(ctx context.Context, sender [20]byte) (*big.Int, error) {
	var refund *big.Int
	_, err := p.execute(ctx, "cancel", nil, func() error {
		var err error
		refund, err = p.engine.Cancel(sender)
		return err
	})
	return refund, err
}

// TransferTokens moves tokens between accounts. Tokens sent to the sale
// address are processed as a return of locked tokens.
func (p *SaleProcessor) TransferTokens(ctx context.Context, from, to [20]byte, amount *big.Int) error {
	_, err := p.execute(ctx, "transfer", nil, func() error {
		return p.ledger.Transfer(from, to, amount)
	})
	return err
}

// ReturnTokens sends amount tokens from participant back to the sale and
// returns the ETH refunded for them.
func (p *SaleProcessor) ReturnTokens(ctx context.Context, participant [20]byte, amount *big.Int) (*big.Int, error) {
	var refund *big.Int
	_, err := p.execute(ctx, "return", nil, func() error {
		sale, err := p.engine.Sale()
		if err != nil {
			return err
		}
		before, err := p.ethBalance(participant)
		if err != nil {
			return err
		}
		if err := p.ledger.Transfer(participant, sale.Address, amount); err != nil {
			return err
		}
		after, err := p.ethBalance(participant)
		if err != nil {
			return err
		}
		refund = new(big.Int).Sub(after, before)
		return nil
	})
	return refund, err
}

// ProjectWithdraw withdraws amount wei to the project wallet and returns the
// ETH still available afterwards.
func (p *SaleProcessor) ProjectWithdraw(ctx context.Context, sender [20]byte, amount *big.Int) (*big.Int, error) {
	var remaining *big.Int
	_, err := p.execute(ctx, "project_withdraw", nil, func() error {
		var err error
		remaining, err = p.engine.ProjectWithdraw(sender, amount)
		return err
	})
	return remaining, err
}

// Advance moves the chain forward by n blocks and persists the height.
func (p *SaleProcessor) Advance(n uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	height, err := p.clock.Advance(n)
	if err != nil {
		return height, err
	}
	return height, p.persistHeight(height)
}

// SetBlock moves the chain to height, which must not be in the past.
func (p *SaleProcessor) SetBlock(height uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.clock.Set(height); err != nil {
		return err
	}
	return p.persistHeight(height)
}

func (p *SaleProcessor) persistHeight(height uint64) error {
	if err := p.state.SetBlockHeight(height); err != nil {
		return err
	}
	return p.state.Commit()
}

// CurrentBlock returns the current block height.
func (p *SaleProcessor) CurrentBlock() uint64 { return p.clock.CurrentBlock() }

// Sale returns the deployed sale.
func (p *SaleProcessor) Sale() (*rico.Sale, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sale, err := p.engine.Sale()
	if errors.Is(err, rico.ErrNotInitialized) {
		return nil, ErrNotDeployed
	}
	return sale, err
}

// Account returns the ETH account of addr.
func (p *SaleProcessor) Account(addr [20]byte) (*types.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.GetAccount(addr[:])
}

func (p *SaleProcessor) ethBalance(addr [20]byte) (*big.Int, error) {
	acc, err := p.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

// TokenBalance returns the token balance of addr.
func (p *SaleProcessor) TokenBalance(addr [20]byte) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.BalanceOf(addr)
}

// TokenSupply returns the number of sale tokens minted at deployment.
func (p *SaleProcessor) TokenSupply() (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledger.TotalSupply()
}

// Participant returns the sale record of addr.
func (p *SaleProcessor) Participant(addr [20]byte) (*rico.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Participant(addr)
}

// Participants lists every address known to the sale.
func (p *SaleProcessor) Participants() ([][20]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Participants()
}

// Totals returns the sale-wide counters.
func (p *SaleProcessor) Totals() (*rico.Totals, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Totals()
}

// AvailableProjectETH returns what the project wallet may withdraw now.
func (p *SaleProcessor) AvailableProjectETH() (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.AvailableProjectETH()
}

// UnlockedBalance returns the unlocked bought tokens of addr at the current
// block.
func (p *SaleProcessor) UnlockedBalance(addr [20]byte) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.UnlockedBalance(addr, p.clock.CurrentBlock())
}

// LockedTokens returns the locked tokens of addr at the current block.
func (p *SaleProcessor) LockedTokens(addr [20]byte) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.LockedTokenAmount(addr, p.clock.CurrentBlock())
}
