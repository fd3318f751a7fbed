package fees

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	coreevents "clearport/core/events"
	"clearport/core/types"
	nativecommon "clearport/native/common"
	"clearport/observability"
)

const feesModuleName = "fees"

// RoleFeesAdmin is the role required to rotate recipient addresses.
const RoleFeesAdmin = "fees.admin"

var (
	errLedgerNilState = errors.New("fee ledger: state not configured")

	// ErrRecipientsNotSet marks a credit attempted before the recipient set
	// was configured.
	ErrRecipientsNotSet = errors.New("fees: recipients not configured")
	// ErrRecipientsSet marks a bootstrap write over an existing recipient
	// set; rotation is the only mutation path afterwards.
	ErrRecipientsSet = errors.New("fees: recipients already configured")
	// ErrUnknownRole marks a rotation naming an unsupported recipient role.
	ErrUnknownRole = errors.New("fees: unknown recipient role")
	// ErrRecipientRejected marks a claim whose receiving address rejected
	// the transfer. The accrued balance stays claimable and no other
	// recipient is affected.
	ErrRecipientRejected = errors.New("fees: recipient rejected transfer")
)

// RecipientRole names one slot of the three-way split.
type RecipientRole string

const (
	RoleLiquidity RecipientRole = "liquidity"
	RoleDao       RecipientRole = "dao"
	RoleValidator RecipientRole = "validator"
)

// Valid reports whether the role value is supported.
func (r RecipientRole) Valid() bool {
	switch r {
	case RoleLiquidity, RoleDao, RoleValidator:
		return true
	default:
		return false
	}
}

// Recipients holds the current addresses behind the three split slots.
type Recipients struct {
	Liquidity [20]byte `json:"liquidity"`
	Dao       [20]byte `json:"dao"`
	Validator [20]byte `json:"validator"`
}

// ForRole resolves the address currently holding the role.
func (r Recipients) ForRole(role RecipientRole) ([20]byte, error) {
	switch role {
	case RoleLiquidity:
		return r.Liquidity, nil
	case RoleDao:
		return r.Dao, nil
	case RoleValidator:
		return r.Validator, nil
	default:
		return [20]byte{}, ErrUnknownRole
	}
}

func (r Recipients) withRole(role RecipientRole, addr [20]byte) Recipients {
	switch role {
	case RoleLiquidity:
		r.Liquidity = addr
	case RoleDao:
		r.Dao = addr
	case RoleValidator:
		r.Validator = addr
	}
	return r
}

func (r Recipients) validate() error {
	if r.Liquidity == ([20]byte{}) || r.Dao == ([20]byte{}) || r.Validator == ([20]byte{}) {
		return fmt.Errorf("fees: recipient addresses required")
	}
	return nil
}

type ledgerState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	FeeVaultAddress(token string) ([20]byte, error)
	AccruedGet(addr [20]byte, token string) (*big.Int, error)
	AccruedPut(addr [20]byte, token string, amount *big.Int) error
	AccruedTokens(addr [20]byte) ([]string, error)
	RecipientsGet() (Recipients, bool, error)
	RecipientsPut(Recipients) error
}

// Ledger accrues per-recipient fee balances from every settlement and exposes
// pull-based claims, so one misbehaving recipient can never block fees
// accruing to or being claimed by the others.
type Ledger struct {
	mu      sync.Mutex
	state   ledgerState
	split   Split
	emitter coreevents.Emitter
	pauses  nativecommon.PauseView
	roles   nativecommon.RoleView
	metrics *observability.SettlementMetrics
}

// NewLedger constructs a fee ledger with the supplied immutable split.
func NewLedger(split Split) (*Ledger, error) {
	if err := split.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{split: split, emitter: coreevents.NoopEmitter{}}, nil
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter coreevents.Emitter) {
	if emitter == nil {
		l.emitter = coreevents.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetPauses configures the administrative pause view.
func (l *Ledger) SetPauses(p nativecommon.PauseView) { l.pauses = p }

// SetRoles configures the role view gating the admin surface.
func (l *Ledger) SetRoles(r nativecommon.RoleView) { l.roles = r }

// SetMetrics configures the metrics sink. A nil sink disables recording.
func (l *Ledger) SetMetrics(m *observability.SettlementMetrics) { l.metrics = m }

// Split returns the immutable distribution ratios.
func (l *Ledger) Split() Split { return l.split }

func (l *Ledger) emit(evt coreevents.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(evt)
}

// Bootstrap stores the initial recipient set. It may run exactly once;
// afterwards Rotate is the only mutation path.
func (l *Ledger) Bootstrap(recipients Recipients) error {
	if l == nil || l.state == nil {
		return errLedgerNilState
	}
	if err := recipients.validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok, err := l.state.RecipientsGet(); err != nil {
		return err
	} else if ok {
		return ErrRecipientsSet
	}
	return l.state.RecipientsPut(recipients)
}

// Recipients returns the current recipient set.
func (l *Ledger) Recipients() (Recipients, error) {
	if l == nil || l.state == nil {
		return Recipients{}, errLedgerNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	recipients, ok, err := l.state.RecipientsGet()
	if err != nil {
		return Recipients{}, err
	}
	if !ok {
		return Recipients{}, ErrRecipientsNotSet
	}
	return recipients, nil
}

// VaultAddress resolves the vault account holding collected fees for a token.
func (l *Ledger) VaultAddress(token string) ([20]byte, error) {
	if l == nil || l.state == nil {
		return [20]byte{}, errLedgerNilState
	}
	return l.state.FeeVaultAddress(token)
}

// Credit splits a collected fee across the configured recipients. It is
// called only by settlement paths, with the fee tokens already moved into the
// vault; the accrual is an atomic accumulate under the ledger lock.
func (l *Ledger) Credit(token string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errLedgerNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	recipients, ok, err := l.state.RecipientsGet()
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecipientsNotSet
	}
	shares := l.split.Apply(amount)
	for _, part := range []struct {
		addr  [20]byte
		share *big.Int
	}{
		{recipients.Liquidity, shares.Liquidity},
		{recipients.Dao, shares.Dao},
		{recipients.Validator, shares.Validator},
	} {
		if part.share.Sign() == 0 {
			continue
		}
		if err := l.accrue(part.addr, token, part.share); err != nil {
			return err
		}
	}
	l.emit(coreevents.FeeAccrued{
		Token:     token,
		Amount:    new(big.Int).Set(amount),
		Liquidity: shares.Liquidity,
		Dao:       shares.Dao,
		Validator: shares.Validator,
	})
	l.metrics.ObserveFeeCredit(token)
	return nil
}

// Accrued returns the pending balance claimable by the address for a token.
func (l *Ledger) Accrued(addr [20]byte, token string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errLedgerNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.AccruedGet(addr, token)
}

// Claim withdraws the caller's accrued balance for a token from the fee
// vault. The claim is pull-based and isolated: a rejecting recipient fails
// only its own claim, leaving the accrual intact.
func (l *Ledger) Claim(caller [20]byte, token string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errLedgerNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := nativecommon.Guard(l.pauses, feesModuleName); err != nil {
		return nil, err
	}
	pending, err := l.state.AccruedGet(caller, token)
	if err != nil {
		return nil, err
	}
	if pending.Sign() == 0 {
		return big.NewInt(0), nil
	}
	vault, err := l.state.FeeVaultAddress(token)
	if err != nil {
		return nil, err
	}
	if err := l.transfer(vault, caller, token, pending); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecipientRejected, err)
	}
	if err := l.state.AccruedPut(caller, token, big.NewInt(0)); err != nil {
		return nil, err
	}
	l.emit(coreevents.FeeClaimed{Recipient: caller, Token: token, Amount: new(big.Int).Set(pending)})
	l.metrics.ObserveFeeClaim(token)
	return pending, nil
}

// Rotate replaces the address behind a recipient role. Balances already
// accrued to the outgoing address are migrated to the incoming address
// atomically with the rotation, so no fee ever stays claimable only by an
// address the operator is revoking.
func (l *Ledger) Rotate(caller [20]byte, role RecipientRole, incoming [20]byte) error {
	if l == nil || l.state == nil {
		return errLedgerNilState
	}
	if !role.Valid() {
		return ErrUnknownRole
	}
	if incoming == ([20]byte{}) {
		return fmt.Errorf("fees: incoming recipient address required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := nativecommon.Guard(l.pauses, feesModuleName); err != nil {
		return err
	}
	if err := nativecommon.RequireRole(l.roles, caller, RoleFeesAdmin); err != nil {
		return err
	}
	recipients, ok, err := l.state.RecipientsGet()
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecipientsNotSet
	}
	outgoing, err := recipients.ForRole(role)
	if err != nil {
		return err
	}
	if outgoing == incoming {
		return nil
	}
	tokens, err := l.state.AccruedTokens(outgoing)
	if err != nil {
		return err
	}
	for _, token := range tokens {
		pending, err := l.state.AccruedGet(outgoing, token)
		if err != nil {
			return err
		}
		if pending.Sign() == 0 {
			continue
		}
		if err := l.accrue(incoming, token, pending); err != nil {
			return err
		}
		if err := l.state.AccruedPut(outgoing, token, big.NewInt(0)); err != nil {
			return err
		}
	}
	if err := l.state.RecipientsPut(recipients.withRole(role, incoming)); err != nil {
		return err
	}
	l.emit(coreevents.FeeRecipientsRotated{Role: string(role), Outgoing: outgoing, Incoming: incoming})
	return nil
}

func (l *Ledger) accrue(addr [20]byte, token string, amount *big.Int) error {
	pending, err := l.state.AccruedGet(addr, token)
	if err != nil {
		return err
	}
	return l.state.AccruedPut(addr, token, new(big.Int).Add(pending, amount))
}

func (l *Ledger) transfer(from, to [20]byte, token string, amount *big.Int) error {
	fromAcc, err := l.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := l.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromBal := fromAcc.Balance(token)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("fees: insufficient vault balance for %s", token)
	}
	// Debit before credit: a write failure between the two puts must never
	// leave the amount spendable in both accounts.
	fromAcc.SetBalance(token, new(big.Int).Sub(fromBal, amount))
	if err := l.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	toAcc.SetBalance(token, new(big.Int).Add(toAcc.Balance(token), amount))
	return l.state.PutAccount(to, toAcc)
}
