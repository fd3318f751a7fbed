package settlement

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"clearport/core/events"
	"clearport/core/types"
	nativecommon "clearport/native/common"
	"clearport/observability"
)

const (
	settlementModuleName = "settlement"
	intentModuleName     = "intent"

	maxFeeBps uint32 = 1_000
)

type engineState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	Allowance(owner [20]byte, token string) (*big.Int, error)
	SetAllowance(owner [20]byte, token string, amount *big.Int) error
	OrderFilled(hash [32]byte) (bool, error)
	MarkOrderFilled(hash [32]byte) error
	NonceWord(account [20]byte, word uint64) (uint64, error)
	PutNonceWord(account [20]byte, word uint64, bits uint64) error
	CommitGet(hash [32]byte) (committedAt int64, ok bool, err error)
	CommitPut(hash [32]byte, committedAt int64) error
	VolumeGet(account [20]byte) (nativecommon.VolumeNow, error)
	VolumePut(account [20]byte, volume nativecommon.VolumeNow) error
	IntentGet(id [32]byte) (*Intent, bool, error)
	IntentPut(*Intent) error
	IntentVaultAddress(token string) ([20]byte, error)
}

// FeeBank is the accrual side of the fee ledger. The engine moves fee tokens
// into the bank's vault and reports the observed amount for splitting.
type FeeBank interface {
	VaultAddress(token string) ([20]byte, error)
	Credit(token string, amount *big.Int) error
}

type settlementEvent struct {
	evt *types.Event
}

func (e settlementEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e settlementEvent) Event() *types.Event { return e.evt }

// Receipt summarises a completed order settlement.
type Receipt struct {
	MakerDigest [32]byte
	TakerDigest [32]byte
	Maker       [20]byte
	Taker       [20]byte
	Validator   [20]byte
	TokenBase   string
	TokenQuote  string
	AmountBase  *big.Int
	AmountQuote *big.Int
	FeeBase     *big.Int
	FeeQuote    *big.Int
}

// Engine validates matched order pairs and intents, executes the atomic
// exchange, and routes protocol fees into the fee bank. All state-mutating
// operations serialize behind a single engine mutex: the read-check-write
// ladders on nonces, filled orders, intents, and volume buckets each run as
// one critical section.
type Engine struct {
	mu           sync.Mutex
	state        engineState
	fees         FeeBank
	emitter      events.Emitter
	pauses       nativecommon.PauseView
	metrics      *observability.SettlementMetrics
	nowFn        func() int64
	domain       Domain
	feeBps       uint32
	dailyCap     *big.Int
	commitWindow CommitWindow
}

// NewEngine constructs a settlement engine for the supplied signature domain
// with a no-op emitter.
func NewEngine(domain Domain) *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		domain:  domain,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetFeeBank configures the fee ledger credited by settlements.
func (e *Engine) SetFeeBank(bank FeeBank) { e.fees = bank }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses configures the administrative pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetMetrics configures the metrics sink. A nil sink disables recording.
func (e *Engine) SetMetrics(m *observability.SettlementMetrics) { e.metrics = m }

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetFeeBps configures the protocol fee rate. Rates above the bound are
// rejected; configuration changes affect subsequent calls only.
func (e *Engine) SetFeeBps(bps uint32) error {
	if bps > maxFeeBps {
		return fmt.Errorf("settlement: fee bps %d out of range", bps)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.feeBps = bps
	return nil
}

// SetDailyVolumeCap configures the per-trader daily volume cap. A nil or
// non-positive cap disables the check.
func (e *Engine) SetDailyVolumeCap(cap *big.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cap == nil {
		e.dailyCap = nil
		return
	}
	e.dailyCap = new(big.Int).Set(cap)
}

// SetCommitWindow configures commit-reveal enforcement.
func (e *Engine) SetCommitWindow(w CommitWindow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commitWindow = w
}

// Domain returns the signature domain the engine verifies against.
func (e *Engine) Domain() Domain { return e.domain }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(settlementEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// transferToken moves amount between accounts and returns the balance delta
// observed on the recipient, which is what downstream accounting must trust
// rather than the nominal amount.
func (e *Engine) transferToken(from, to [20]byte, token string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if amt.Sign() < 0 {
		return nil, fmt.Errorf("settlement: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return nil, err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return nil, err
	}
	fromBal := fromAcc.Balance(token)
	if fromBal.Cmp(amt) < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientBalance, token)
	}
	before := toAcc.Balance(token)
	fromAcc.SetBalance(token, new(big.Int).Sub(fromBal, amt))
	toAcc.SetBalance(token, new(big.Int).Add(before, amt))
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(to, toAcc); err != nil {
		return nil, err
	}
	after, err := e.state.GetAccount(to)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(after.Balance(token), before), nil
}

// feeFor computes the protocol fee deducted from an outgoing leg.
func (e *Engine) feeFor(amount *big.Int) *big.Int {
	if e.feeBps == 0 || amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(e.feeBps)))
	return fee.Div(fee, big.NewInt(10_000))
}

// settleLeg moves one leg of the exchange: net amount to the counterparty and
// the fee to the fee bank's vault, credited for splitting, in one logical
// step. The returned values are the observed net and fee deltas.
func (e *Engine) settleLeg(payer, counterparty [20]byte, token string, amount *big.Int) (*big.Int, *big.Int, error) {
	fee := e.feeFor(amount)
	net := new(big.Int).Sub(cloneBigInt(amount), fee)
	received, err := e.transferToken(payer, counterparty, token, net)
	if err != nil {
		return nil, nil, err
	}
	if fee.Sign() == 0 {
		return received, big.NewInt(0), nil
	}
	if e.fees == nil {
		return nil, nil, errNilFees
	}
	vault, err := e.fees.VaultAddress(token)
	if err != nil {
		return nil, nil, err
	}
	collected, err := e.transferToken(payer, vault, token, fee)
	if err != nil {
		return nil, nil, err
	}
	if err := e.fees.Credit(token, collected); err != nil {
		return nil, nil, err
	}
	return received, collected, nil
}

func (e *Engine) consumeAllowance(owner [20]byte, token string, amount *big.Int) error {
	allowance, err := e.state.Allowance(owner, token)
	if err != nil {
		return err
	}
	return e.state.SetAllowance(owner, token, new(big.Int).Sub(allowance, amount))
}

// Settle validates a matched maker/taker order pair and executes the atomic
// bilateral exchange. Every precondition failure aborts before any state is
// written, so a rejected pair leaves no trace.
func (e *Engine) Settle(makerOrder, takerOrder *Order, makerSig, takerSig []byte) (*Receipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.fees == nil {
		return nil, errNilFees
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := nativecommon.Guard(e.pauses, settlementModuleName); err != nil {
		return nil, err
	}
	maker, err := SanitizeOrder(makerOrder)
	if err != nil {
		return nil, err
	}
	taker, err := SanitizeOrder(takerOrder)
	if err != nil {
		return nil, err
	}
	if maker.Role != RoleMaker || taker.Role != RoleTaker {
		return nil, fmt.Errorf("%w: sides must be maker and taker", ErrTermsMismatch)
	}

	now := e.now()
	if maker.Deadline < now || taker.Deadline < now {
		return nil, ErrExpired
	}

	makerDigest, err := OrderDigest(e.domain, maker)
	if err != nil {
		return nil, err
	}
	takerDigest, err := OrderDigest(e.domain, taker)
	if err != nil {
		return nil, err
	}
	makerSigner, err := RecoverSigner(makerDigest, makerSig)
	if err != nil {
		return nil, err
	}
	if makerSigner != maker.Trader {
		return nil, fmt.Errorf("%w: maker signer mismatch", ErrInvalidSignature)
	}
	takerSigner, err := RecoverSigner(takerDigest, takerSig)
	if err != nil {
		return nil, err
	}
	if takerSigner != taker.Trader {
		return nil, fmt.Errorf("%w: taker signer mismatch", ErrInvalidSignature)
	}

	if maker.MatchingValidator == ([20]byte{}) || maker.MatchingValidator != taker.MatchingValidator {
		return nil, ErrValidatorMismatch
	}

	// Terms must cross exactly: partial fills are rejected by construction,
	// so the filled quantity transferred always equals the declared size.
	if maker.Trader == taker.Trader {
		return nil, fmt.Errorf("%w: self trade", ErrTermsMismatch)
	}
	if maker.TokenIn != taker.TokenOut || maker.TokenOut != taker.TokenIn {
		return nil, fmt.Errorf("%w: token legs do not cross", ErrTermsMismatch)
	}
	if maker.AmountIn.Cmp(taker.AmountOut) != 0 || maker.AmountOut.Cmp(taker.AmountIn) != 0 {
		return nil, fmt.Errorf("%w: amounts do not cross", ErrTermsMismatch)
	}

	for _, digest := range [][32]byte{makerDigest, takerDigest} {
		filled, err := e.state.OrderFilled(digest)
		if err != nil {
			return nil, err
		}
		if filled {
			return nil, ErrAlreadyFilled
		}
	}

	for _, side := range []*Order{maker, taker} {
		used, err := e.nonceConsumed(side.Trader, side.Nonce)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, fmt.Errorf("%w: trader %x index %d", ErrNonceUsed, side.Trader, side.Nonce)
		}
	}

	for _, side := range []*Order{maker, taker} {
		acc, err := e.state.GetAccount(side.Trader)
		if err != nil {
			return nil, err
		}
		if acc.Balance(side.TokenIn).Cmp(side.AmountIn) < 0 {
			return nil, fmt.Errorf("%w: %s trader", ErrInsufficientBalance, side.Role)
		}
		allowance, err := e.state.Allowance(side.Trader, side.TokenIn)
		if err != nil {
			return nil, err
		}
		if allowance.Cmp(side.AmountIn) < 0 {
			return nil, fmt.Errorf("%w: %s trader", ErrInsufficientAllowance, side.Role)
		}
	}

	nowDay := nativecommon.DayID(now)
	volumes := make([]nativecommon.VolumeNow, 2)
	for i, side := range []*Order{maker, taker} {
		prev, err := e.state.VolumeGet(side.Trader)
		if err != nil {
			return nil, err
		}
		next, err := nativecommon.CheckVolume(e.dailyCap, nowDay, prev, side.AmountIn)
		if err != nil {
			return nil, err
		}
		volumes[i] = next
	}

	if err := e.checkCommit(PairDigest(makerDigest, takerDigest), now); err != nil {
		return nil, err
	}

	// All preconditions hold; apply the atomic state transition.
	for _, side := range []*Order{maker, taker} {
		if err := e.consumeNonce(side.Trader, side.Nonce); err != nil {
			return nil, err
		}
	}
	for _, digest := range [][32]byte{makerDigest, takerDigest} {
		if err := e.state.MarkOrderFilled(digest); err != nil {
			return nil, err
		}
	}
	for _, side := range []*Order{maker, taker} {
		if err := e.consumeAllowance(side.Trader, side.TokenIn, side.AmountIn); err != nil {
			return nil, err
		}
	}
	baseNet, baseFee, err := e.settleLeg(maker.Trader, taker.Trader, maker.TokenIn, maker.AmountIn)
	if err != nil {
		return nil, err
	}
	quoteNet, quoteFee, err := e.settleLeg(taker.Trader, maker.Trader, taker.TokenIn, taker.AmountIn)
	if err != nil {
		return nil, err
	}
	for i, side := range []*Order{maker, taker} {
		if err := e.state.VolumePut(side.Trader, volumes[i]); err != nil {
			return nil, err
		}
	}

	receipt := &Receipt{
		MakerDigest: makerDigest,
		TakerDigest: takerDigest,
		Maker:       maker.Trader,
		Taker:       taker.Trader,
		Validator:   maker.MatchingValidator,
		TokenBase:   maker.TokenIn,
		TokenQuote:  taker.TokenIn,
		AmountBase:  new(big.Int).Add(baseNet, baseFee),
		AmountQuote: new(big.Int).Add(quoteNet, quoteFee),
		FeeBase:     baseFee,
		FeeQuote:    quoteFee,
	}
	e.emit(NewSettlementCompletedEvent(receipt))
	e.metrics.ObserveOrderSettled()
	return receipt, nil
}
