package settlement

import (
	"encoding/hex"
	"strconv"

	"clearport/core/types"
)

const (
	EventTypeSettlementCompleted = "settlement.completed"
	EventTypeCommitRecorded      = "settlement.commit.recorded"
	EventTypeIntentLocked        = "settlement.intent.locked"
	EventTypeIntentSettled       = "settlement.intent.settled"
	EventTypeIntentCancelled     = "settlement.intent.cancelled"
)

// NewSettlementCompletedEvent returns the canonical event payload for a
// completed order settlement: both traders, tokens, gross amounts, fees, and
// the matching validator.
func NewSettlementCompletedEvent(r *Receipt) *types.Event {
	attrs := make(map[string]string)
	if r == nil {
		return &types.Event{Type: EventTypeSettlementCompleted, Attributes: attrs}
	}
	attrs["makerOrder"] = hex.EncodeToString(r.MakerDigest[:])
	attrs["takerOrder"] = hex.EncodeToString(r.TakerDigest[:])
	attrs["maker"] = hex.EncodeToString(r.Maker[:])
	attrs["taker"] = hex.EncodeToString(r.Taker[:])
	attrs["validator"] = hex.EncodeToString(r.Validator[:])
	attrs["tokenBase"] = r.TokenBase
	attrs["tokenQuote"] = r.TokenQuote
	if r.AmountBase != nil {
		attrs["amountBase"] = r.AmountBase.String()
	}
	if r.AmountQuote != nil {
		attrs["amountQuote"] = r.AmountQuote.String()
	}
	if r.FeeBase != nil {
		attrs["feeBase"] = r.FeeBase.String()
	}
	if r.FeeQuote != nil {
		attrs["feeQuote"] = r.FeeQuote.String()
	}
	return &types.Event{Type: EventTypeSettlementCompleted, Attributes: attrs}
}

// NewCommitRecordedEvent returns the event payload for a recorded
// pre-commitment.
func NewCommitRecordedEvent(hash [32]byte, committedAt int64) *types.Event {
	return &types.Event{
		Type: EventTypeCommitRecorded,
		Attributes: map[string]string{
			"hash":        hex.EncodeToString(hash[:]),
			"committedAt": strconv.FormatInt(committedAt, 10),
		},
	}
}

// NewIntentLockedEvent returns the event payload for locked intent
// collateral.
func NewIntentLockedEvent(i *Intent) *types.Event {
	return newIntentEvent(EventTypeIntentLocked, i, nil)
}

// NewIntentSettledEvent returns the event payload for a settled intent,
// including which authorized party triggered execution.
func NewIntentSettledEvent(i *Intent, caller [20]byte) *types.Event {
	return newIntentEvent(EventTypeIntentSettled, i, map[string]string{
		"caller": hex.EncodeToString(caller[:]),
	})
}

// NewIntentCancelledEvent returns the event payload for a cancelled intent.
func NewIntentCancelledEvent(i *Intent) *types.Event {
	return newIntentEvent(EventTypeIntentCancelled, i, nil)
}

func newIntentEvent(eventType string, i *Intent, extra map[string]string) *types.Event {
	attrs := make(map[string]string)
	if i != nil {
		attrs["id"] = hex.EncodeToString(i.ID[:])
		attrs["trader"] = hex.EncodeToString(i.Trader[:])
		attrs["solver"] = hex.EncodeToString(i.Solver[:])
		attrs["tokenIn"] = i.TokenIn
		attrs["tokenOut"] = i.TokenOut
		if i.TraderAmount != nil {
			attrs["traderAmount"] = i.TraderAmount.String()
		}
		if i.SolverAmount != nil {
			attrs["solverAmount"] = i.SolverAmount.String()
		}
		attrs["deadline"] = strconv.FormatInt(i.Deadline, 10)
		attrs["status"] = i.Status.String()
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
