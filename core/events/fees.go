package events

import (
	"encoding/hex"
	"math/big"

	"clearport/core/types"
)

const (
	// TypeFeeAccrued marks a settlement fee split across the configured
	// recipients.
	TypeFeeAccrued = "fees.accrued"
	// TypeFeeClaimed marks a recipient withdrawing its accrued balance.
	TypeFeeClaimed = "fees.claimed"
	// TypeFeeRecipientsRotated marks an admin rotation of a recipient
	// address.
	TypeFeeRecipientsRotated = "fees.recipients.rotated"
)

// FeeAccrued records the outcome of a fee split for analytics pipelines.
type FeeAccrued struct {
	Token     string
	Amount    *big.Int
	Liquidity *big.Int
	Dao       *big.Int
	Validator *big.Int
}

// EventType satisfies the events.Event interface.
func (FeeAccrued) EventType() string { return TypeFeeAccrued }

// Event converts the structured payload into a broadcastable event.
func (e FeeAccrued) Event() *types.Event {
	attrs := map[string]string{"token": e.Token}
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	if e.Liquidity != nil {
		attrs["liquidityShare"] = e.Liquidity.String()
	}
	if e.Dao != nil {
		attrs["daoShare"] = e.Dao.String()
	}
	if e.Validator != nil {
		attrs["validatorShare"] = e.Validator.String()
	}
	return &types.Event{Type: TypeFeeAccrued, Attributes: attrs}
}

// FeeClaimed records a successful pull-based withdrawal.
type FeeClaimed struct {
	Recipient [20]byte
	Token     string
	Amount    *big.Int
}

// EventType satisfies the events.Event interface.
func (FeeClaimed) EventType() string { return TypeFeeClaimed }

// Event converts the structured payload into a broadcastable event.
func (e FeeClaimed) Event() *types.Event {
	attrs := map[string]string{
		"recipient": hex.EncodeToString(e.Recipient[:]),
		"token":     e.Token,
	}
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	return &types.Event{Type: TypeFeeClaimed, Attributes: attrs}
}

// FeeRecipientsRotated records an admin rotation, including the address whose
// accrued balances were migrated.
type FeeRecipientsRotated struct {
	Role     string
	Outgoing [20]byte
	Incoming [20]byte
}

// EventType satisfies the events.Event interface.
func (FeeRecipientsRotated) EventType() string { return TypeFeeRecipientsRotated }

// Event converts the structured payload into a broadcastable event.
func (e FeeRecipientsRotated) Event() *types.Event {
	return &types.Event{
		Type: TypeFeeRecipientsRotated,
		Attributes: map[string]string{
			"role":     e.Role,
			"outgoing": hex.EncodeToString(e.Outgoing[:]),
			"incoming": hex.EncodeToString(e.Incoming[:]),
		},
	}
}
