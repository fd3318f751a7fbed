package settlement

import (
	"fmt"
	"math/big"
	"strings"
)

// Role distinguishes the two sides of a matched order pair.
type Role uint8

const (
	RoleMaker Role = 1
	RoleTaker Role = 2
)

// Valid reports whether the role value is supported.
func (r Role) Valid() bool { return r == RoleMaker || r == RoleTaker }

func (r Role) String() string {
	switch r {
	case RoleMaker:
		return "maker"
	case RoleTaker:
		return "taker"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Order is a signed statement of intent to exchange a fixed amount of TokenIn
// for TokenOut, valid until Deadline and consumed at most once. Orders are
// never persisted; only the digest of a filled order is recorded.
type Order struct {
	Trader            [20]byte
	Role              Role
	TokenIn           string
	TokenOut          string
	AmountIn          *big.Int
	AmountOut         *big.Int
	Salt              [32]byte
	Nonce             uint64
	MatchingValidator [20]byte
	Deadline          int64
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	if o.AmountIn != nil {
		clone.AmountIn = new(big.Int).Set(o.AmountIn)
	} else {
		clone.AmountIn = big.NewInt(0)
	}
	if o.AmountOut != nil {
		clone.AmountOut = new(big.Int).Set(o.AmountOut)
	} else {
		clone.AmountOut = big.NewInt(0)
	}
	return &clone
}

// SanitizeOrder validates and normalises the supplied order, returning a
// cloned instance with canonical token casing and non-nil amounts. The
// original value is not mutated.
func SanitizeOrder(o *Order) (*Order, error) {
	if o == nil {
		return nil, fmt.Errorf("settlement: nil order")
	}
	clone := o.Clone()
	if clone.Trader == ([20]byte{}) {
		return nil, fmt.Errorf("settlement: order trader required")
	}
	if !clone.Role.Valid() {
		return nil, fmt.Errorf("settlement: invalid order role %d", clone.Role)
	}
	tokenIn, err := NormalizeToken(clone.TokenIn)
	if err != nil {
		return nil, err
	}
	tokenOut, err := NormalizeToken(clone.TokenOut)
	if err != nil {
		return nil, err
	}
	if tokenIn == tokenOut {
		return nil, fmt.Errorf("settlement: order tokens must differ")
	}
	clone.TokenIn = tokenIn
	clone.TokenOut = tokenOut
	if clone.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("settlement: amountIn must be positive")
	}
	if clone.AmountOut.Sign() <= 0 {
		return nil, fmt.Errorf("settlement: amountOut must be positive")
	}
	if clone.Deadline <= 0 {
		return nil, fmt.Errorf("settlement: order deadline required")
	}
	return clone, nil
}

// IntentStatus represents the lifecycle phases of an intent record.
type IntentStatus uint8

const (
	IntentLocked IntentStatus = iota + 1
	IntentSettled
	IntentCancelled
)

// Valid reports whether the status value is supported.
func (s IntentStatus) Valid() bool {
	switch s {
	case IntentLocked, IntentSettled, IntentCancelled:
		return true
	default:
		return false
	}
}

func (s IntentStatus) String() string {
	switch s {
	case IntentLocked:
		return "locked"
	case IntentSettled:
		return "settled"
	case IntentCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Intent records the full terms of a delegated trade at lock time: amounts,
// both token identities, and the authorized solver. Whoever triggers
// settlement later can only execute against these recorded terms.
type Intent struct {
	ID           [32]byte
	Trader       [20]byte
	Solver       [20]byte
	TokenIn      string
	TokenOut     string
	TraderAmount *big.Int
	SolverAmount *big.Int
	Deadline     int64
	CreatedAt    int64
	Status       IntentStatus
}

// Clone returns a deep copy of the intent.
func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	clone := *i
	if i.TraderAmount != nil {
		clone.TraderAmount = new(big.Int).Set(i.TraderAmount)
	} else {
		clone.TraderAmount = big.NewInt(0)
	}
	if i.SolverAmount != nil {
		clone.SolverAmount = new(big.Int).Set(i.SolverAmount)
	} else {
		clone.SolverAmount = big.NewInt(0)
	}
	return &clone
}

// SanitizeIntent validates and normalises the supplied intent record.
func SanitizeIntent(i *Intent) (*Intent, error) {
	if i == nil {
		return nil, fmt.Errorf("settlement: nil intent")
	}
	clone := i.Clone()
	if clone.Trader == ([20]byte{}) {
		return nil, fmt.Errorf("settlement: intent trader required")
	}
	if clone.Solver == ([20]byte{}) {
		return nil, fmt.Errorf("settlement: intent solver required")
	}
	tokenIn, err := NormalizeToken(clone.TokenIn)
	if err != nil {
		return nil, err
	}
	tokenOut, err := NormalizeToken(clone.TokenOut)
	if err != nil {
		return nil, err
	}
	if tokenIn == tokenOut {
		return nil, fmt.Errorf("settlement: intent tokens must differ")
	}
	clone.TokenIn = tokenIn
	clone.TokenOut = tokenOut
	if clone.TraderAmount.Sign() <= 0 {
		return nil, fmt.Errorf("settlement: trader amount must be positive")
	}
	if clone.SolverAmount.Sign() <= 0 {
		return nil, fmt.Errorf("settlement: solver amount must be positive")
	}
	if clone.Deadline <= 0 {
		return nil, fmt.Errorf("settlement: intent deadline required")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("settlement: invalid intent status %d", clone.Status)
	}
	return clone, nil
}

// NormalizeToken canonicalises a token symbol: trimmed, upper-cased, 1 to 16
// alphanumeric characters.
func NormalizeToken(token string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(token))
	if normalized == "" {
		return "", fmt.Errorf("settlement: token symbol required")
	}
	if len(normalized) > 16 {
		return "", fmt.Errorf("settlement: token symbol too long")
	}
	for _, r := range normalized {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("settlement: invalid token symbol %q", token)
		}
	}
	return normalized, nil
}
