package rico

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"rico/core/events"
	"rico/core/types"
)

const (
	// EventTypeInitialized is emitted once when the stage schedule is created.
	EventTypeInitialized = "rico.sale.initialized"
	// EventTypeContributionReceived is emitted for every incoming contribution.
	EventTypeContributionReceived = "rico.contribution.received"
	// EventTypeContributionAccepted is emitted when pending ETH of a stage is
	// committed and tokens are sent to the participant.
	EventTypeContributionAccepted = "rico.contribution.accepted"
	// EventTypeRefunded is emitted when pending or over-cap ETH is sent back.
	EventTypeRefunded = "rico.contribution.refunded"
	// EventTypeWhitelistUpdated is emitted when the controller changes a
	// participant's whitelist status.
	EventTypeWhitelistUpdated = "rico.whitelist.updated"
	// EventTypeTokensReturned is emitted when a participant returns locked
	// tokens and receives ETH back.
	EventTypeTokensReturned = "rico.tokens.returned"
	// EventTypeProjectWithdrawn is emitted when the project wallet withdraws.
	EventTypeProjectWithdrawn = "rico.project.withdrawn"
)

// Refund reasons reported on EventTypeRefunded.
const (
	RefundReasonCap       = "cap"
	RefundReasonRejected  = "rejected"
	RefundReasonCancelled = "cancelled"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

// InitializedEvent describes the derived schedule.
func InitializedEvent(sale *Sale) *types.Event {
	s := sale.Schedule
	return &types.Event{
		Type: EventTypeInitialized,
		Attributes: map[string]string{
			"sale":             hexAddr(sale.Address),
			"commitPhaseStart": strconv.FormatUint(s.CommitPhaseStartBlock(), 10),
			"commitPhaseEnd":   strconv.FormatUint(s.CommitPhaseEndBlock(), 10),
			"buyPhaseStart":    strconv.FormatUint(s.BuyPhaseStartBlock(), 10),
			"buyPhaseEnd":      strconv.FormatUint(s.BuyPhaseEndBlock(), 10),
			"stageCount":       strconv.Itoa(s.StageCount()),
		},
	}
}

// ContributionReceivedEvent reports a contribution and the tokens it reserves.
func ContributionReceivedEvent(participant [20]byte, stage int, eth, tokens *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeContributionReceived,
		Attributes: map[string]string{
			"participant": hexAddr(participant),
			"stage":       strconv.Itoa(stage),
			"amount":      amountString(eth),
			"tokens":      amountString(tokens),
		},
	}
}

// ContributionAcceptedEvent reports ETH committed for a stage.
func ContributionAcceptedEvent(participant [20]byte, stage int, eth, tokens *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeContributionAccepted,
		Attributes: map[string]string{
			"participant": hexAddr(participant),
			"stage":       strconv.Itoa(stage),
			"amount":      amountString(eth),
			"tokens":      amountString(tokens),
		},
	}
}

// RefundedEvent reports ETH sent back without a token return.
func RefundedEvent(participant [20]byte, eth *big.Int, reason string) *types.Event {
	return &types.Event{
		Type: EventTypeRefunded,
		Attributes: map[string]string{
			"participant": hexAddr(participant),
			"amount":      amountString(eth),
			"reason":      reason,
		},
	}
}

// WhitelistUpdatedEvent reports a whitelist decision.
func WhitelistUpdatedEvent(participant [20]byte, accepted bool) *types.Event {
	return &types.Event{
		Type: EventTypeWhitelistUpdated,
		Attributes: map[string]string{
			"participant": hexAddr(participant),
			"accepted":    strconv.FormatBool(accepted),
		},
	}
}

// TokensReturnedEvent reports a token return and the ETH refunded for it.
func TokensReturnedEvent(participant [20]byte, tokens, excess, eth *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeTokensReturned,
		Attributes: map[string]string{
			"participant": hexAddr(participant),
			"tokens":      amountString(tokens),
			"excess":      amountString(excess),
			"amount":      amountString(eth),
		},
	}
}

// ProjectWithdrawnEvent reports a project wallet withdrawal.
func ProjectWithdrawnEvent(wallet [20]byte, eth, remaining *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeProjectWithdrawn,
		Attributes: map[string]string{
			"wallet":    hexAddr(wallet),
			"amount":    amountString(eth),
			"available": amountString(remaining),
		},
	}
}

func hexAddr(addr [20]byte) string {
	return common.Address(addr).Hex()
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
