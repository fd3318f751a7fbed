package settlement

import (
	"bytes"
	"errors"
	"math/big"
	"reflect"
	"strconv"
	"testing"

	"clearport/core/events"
	"clearport/core/types"
	"clearport/crypto"
	nativecommon "clearport/native/common"
	"clearport/native/fees"
)

type mockState struct {
	accounts   map[[20]byte]*types.Account
	allowances map[string]*big.Int
	filled     map[[32]byte]bool
	nonces     map[string]uint64
	commits    map[[32]byte]int64
	volumes    map[[20]byte]nativecommon.VolumeNow
	intents    map[[32]byte]*Intent
	accrued    map[string]*big.Int
	feeTokens  map[[20]byte][]string
	recipients *fees.Recipients
	rejecting  map[[20]byte]bool
}

func newMockState() *mockState {
	return &mockState{
		accounts:   make(map[[20]byte]*types.Account),
		allowances: make(map[string]*big.Int),
		filled:     make(map[[32]byte]bool),
		nonces:     make(map[string]uint64),
		commits:    make(map[[32]byte]int64),
		volumes:    make(map[[20]byte]nativecommon.VolumeNow),
		intents:    make(map[[32]byte]*Intent),
		accrued:    make(map[string]*big.Int),
		feeTokens:  make(map[[20]byte][]string),
		rejecting:  make(map[[20]byte]bool),
	}
}

func tokenKey(addr [20]byte, token string) string {
	return string(addr[:]) + ":" + token
}

func (m *mockState) GetAccount(addr [20]byte) (*types.Account, error) {
	acc, ok := m.accounts[addr]
	if !ok {
		return types.NewAccount(), nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr [20]byte, account *types.Account) error {
	if m.rejecting[addr] {
		return errors.New("account rejects transfers")
	}
	m.accounts[addr] = account.Clone()
	return nil
}

func (m *mockState) Allowance(owner [20]byte, token string) (*big.Int, error) {
	allowance, ok := m.allowances[tokenKey(owner, token)]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(allowance), nil
}

func (m *mockState) SetAllowance(owner [20]byte, token string, amount *big.Int) error {
	m.allowances[tokenKey(owner, token)] = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) OrderFilled(hash [32]byte) (bool, error) { return m.filled[hash], nil }

func (m *mockState) MarkOrderFilled(hash [32]byte) error {
	m.filled[hash] = true
	return nil
}

func nonceMapKey(account [20]byte, word uint64) string {
	return string(account[:]) + ":" + strconv.FormatUint(word, 10)
}

func (m *mockState) NonceWord(account [20]byte, word uint64) (uint64, error) {
	return m.nonces[nonceMapKey(account, word)], nil
}

func (m *mockState) PutNonceWord(account [20]byte, word uint64, bits uint64) error {
	m.nonces[nonceMapKey(account, word)] = bits
	return nil
}

func (m *mockState) CommitGet(hash [32]byte) (int64, bool, error) {
	ts, ok := m.commits[hash]
	return ts, ok, nil
}

func (m *mockState) CommitPut(hash [32]byte, committedAt int64) error {
	m.commits[hash] = committedAt
	return nil
}

func (m *mockState) VolumeGet(account [20]byte) (nativecommon.VolumeNow, error) {
	volume, ok := m.volumes[account]
	if !ok {
		return nativecommon.VolumeNow{Used: big.NewInt(0)}, nil
	}
	return volume.Clone(), nil
}

func (m *mockState) VolumePut(account [20]byte, volume nativecommon.VolumeNow) error {
	m.volumes[account] = volume.Clone()
	return nil
}

func (m *mockState) IntentGet(id [32]byte) (*Intent, bool, error) {
	intent, ok := m.intents[id]
	if !ok {
		return nil, false, nil
	}
	return intent.Clone(), true, nil
}

func (m *mockState) IntentPut(intent *Intent) error {
	sanitized, err := SanitizeIntent(intent)
	if err != nil {
		return err
	}
	m.intents[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) IntentVaultAddress(token string) ([20]byte, error) {
	return newTestAddress(0xC0), nil
}

func (m *mockState) FeeVaultAddress(token string) ([20]byte, error) {
	return newTestAddress(0xF0), nil
}

func (m *mockState) AccruedGet(addr [20]byte, token string) (*big.Int, error) {
	pending, ok := m.accrued[tokenKey(addr, token)]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(pending), nil
}

func (m *mockState) AccruedPut(addr [20]byte, token string, amount *big.Int) error {
	m.accrued[tokenKey(addr, token)] = new(big.Int).Set(amount)
	for _, known := range m.feeTokens[addr] {
		if known == token {
			return nil
		}
	}
	m.feeTokens[addr] = append(m.feeTokens[addr], token)
	return nil
}

func (m *mockState) AccruedTokens(addr [20]byte) ([]string, error) {
	return append([]string(nil), m.feeTokens[addr]...), nil
}

func (m *mockState) RecipientsGet() (fees.Recipients, bool, error) {
	if m.recipients == nil {
		return fees.Recipients{}, false, nil
	}
	return *m.recipients, true, nil
}

func (m *mockState) RecipientsPut(recipients fees.Recipients) error {
	m.recipients = &recipients
	return nil
}

func (m *mockState) snapshot() *mockState {
	clone := newMockState()
	for addr, acc := range m.accounts {
		clone.accounts[addr] = acc.Clone()
	}
	for key, allowance := range m.allowances {
		clone.allowances[key] = new(big.Int).Set(allowance)
	}
	for hash, filled := range m.filled {
		clone.filled[hash] = filled
	}
	for key, bits := range m.nonces {
		clone.nonces[key] = bits
	}
	for hash, ts := range m.commits {
		clone.commits[hash] = ts
	}
	for addr, volume := range m.volumes {
		clone.volumes[addr] = volume.Clone()
	}
	for id, intent := range m.intents {
		clone.intents[id] = intent.Clone()
	}
	for key, pending := range m.accrued {
		clone.accrued[key] = new(big.Int).Set(pending)
	}
	for addr, tokens := range m.feeTokens {
		clone.feeTokens[addr] = append([]string(nil), tokens...)
	}
	if m.recipients != nil {
		recipients := *m.recipients
		clone.recipients = &recipients
	}
	return clone
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

type eventRecorder struct {
	emitted []events.Event
}

func (r *eventRecorder) Emit(evt events.Event) { r.emitted = append(r.emitted, evt) }

func (r *eventRecorder) byType(eventType string) []events.Event {
	var matched []events.Event
	for _, evt := range r.emitted {
		if evt.EventType() == eventType {
			matched = append(matched, evt)
		}
	}
	return matched
}

func tokens(n int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(n), scale)
}

func tenthTokens(n int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)
	return new(big.Int).Mul(big.NewInt(n), scale)
}

type testEnv struct {
	t         *testing.T
	engine    *Engine
	ledger    *fees.Ledger
	state     *mockState
	recorder  *eventRecorder
	now       int64
	makerKey  *crypto.PrivateKey
	takerKey  *crypto.PrivateKey
	maker     [20]byte
	taker     [20]byte
	validator [20]byte
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	state := newMockState()
	ledger, err := fees.NewLedger(fees.Split{LiquidityBps: 5_000, DaoBps: 3_000, ValidatorBps: 2_000})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	ledger.SetState(state)
	if err := ledger.Bootstrap(fees.Recipients{
		Liquidity: newTestAddress(0x01),
		Dao:       newTestAddress(0x02),
		Validator: newTestAddress(0x03),
	}); err != nil {
		t.Fatalf("bootstrap recipients: %v", err)
	}

	recorder := &eventRecorder{}
	engine := NewEngine(Domain{ChainID: 777, Engine: newTestAddress(0xEE)})
	engine.SetState(state)
	engine.SetFeeBank(ledger)
	engine.SetEmitter(recorder)
	if err := engine.SetFeeBps(30); err != nil {
		t.Fatalf("set fee bps: %v", err)
	}

	env := &testEnv{
		t:         t,
		engine:    engine,
		ledger:    ledger,
		state:     state,
		recorder:  recorder,
		now:       1_700_000_000,
		validator: newTestAddress(0xAB),
	}
	engine.SetNowFunc(func() int64 { return env.now })

	env.makerKey = mustKey(t)
	env.takerKey = mustKey(t)
	env.maker = env.makerKey.PubKey().Address()
	env.taker = env.takerKey.PubKey().Address()

	env.fund(env.maker, "TKA", tokens(1_000))
	env.fund(env.taker, "TKB", tokens(1_000))
	env.allow(env.maker, "TKA", tokens(1_000))
	env.allow(env.taker, "TKB", tokens(1_000))
	return env
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func (env *testEnv) fund(addr [20]byte, token string, amount *big.Int) {
	env.t.Helper()
	acc, err := env.state.GetAccount(addr)
	if err != nil {
		env.t.Fatalf("get account: %v", err)
	}
	acc.SetBalance(token, amount)
	if err := env.state.PutAccount(addr, acc); err != nil {
		env.t.Fatalf("put account: %v", err)
	}
}

func (env *testEnv) allow(addr [20]byte, token string, amount *big.Int) {
	env.t.Helper()
	if err := env.state.SetAllowance(addr, token, amount); err != nil {
		env.t.Fatalf("set allowance: %v", err)
	}
}

func (env *testEnv) balance(addr [20]byte, token string) *big.Int {
	env.t.Helper()
	acc, err := env.state.GetAccount(addr)
	if err != nil {
		env.t.Fatalf("get account: %v", err)
	}
	return acc.Balance(token)
}

func (env *testEnv) orders(saltByte byte, makerNonce, takerNonce uint64) (*Order, *Order) {
	makerSalt := [32]byte{saltByte, 0x01}
	takerSalt := [32]byte{saltByte, 0x02}
	maker := &Order{
		Trader:            env.maker,
		Role:              RoleMaker,
		TokenIn:           "TKA",
		TokenOut:          "TKB",
		AmountIn:          tokens(100),
		AmountOut:         tokens(200),
		Salt:              makerSalt,
		Nonce:             makerNonce,
		MatchingValidator: env.validator,
		Deadline:          env.now + 3_600,
	}
	taker := &Order{
		Trader:            env.taker,
		Role:              RoleTaker,
		TokenIn:           "TKB",
		TokenOut:          "TKA",
		AmountIn:          tokens(200),
		AmountOut:         tokens(100),
		Salt:              takerSalt,
		Nonce:             takerNonce,
		MatchingValidator: env.validator,
		Deadline:          env.now + 3_600,
	}
	return maker, taker
}

func (env *testEnv) sign(order *Order, key *crypto.PrivateKey) []byte {
	env.t.Helper()
	digest, err := OrderDigest(env.engine.Domain(), order)
	if err != nil {
		env.t.Fatalf("order digest: %v", err)
	}
	sig, err := SignDigest(digest, key)
	if err != nil {
		env.t.Fatalf("sign digest: %v", err)
	}
	return sig
}

func (env *testEnv) settle(maker, taker *Order) (*Receipt, error) {
	return env.engine.Settle(maker, taker, env.sign(maker, env.makerKey), env.sign(taker, env.takerKey))
}

func TestSettleHappyPath(t *testing.T) {
	env := newTestEnv(t)
	maker, taker := env.orders(0x10, 0, 0)

	receipt, err := env.settle(maker, taker)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Maker sold 100 TKA for 200 TKB at 30 bps: receives 199.4 TKB, the
	// counter leg nets 99.7 TKA to the taker.
	if got := env.balance(env.maker, "TKB"); got.Cmp(tenthTokens(1_994)) != 0 {
		t.Fatalf("maker TKB balance: got %s", got)
	}
	if got := env.balance(env.taker, "TKA"); got.Cmp(tenthTokens(997)) != 0 {
		t.Fatalf("taker TKA balance: got %s", got)
	}
	if got := env.balance(env.maker, "TKA"); got.Cmp(tokens(900)) != 0 {
		t.Fatalf("maker TKA balance: got %s", got)
	}
	if got := env.balance(env.taker, "TKB"); got.Cmp(tokens(800)) != 0 {
		t.Fatalf("taker TKB balance: got %s", got)
	}

	if receipt.FeeQuote.Cmp(tenthTokens(6)) != 0 {
		t.Fatalf("quote fee: got %s", receipt.FeeQuote)
	}
	if receipt.FeeBase.Cmp(tenthTokens(3)) != 0 {
		t.Fatalf("base fee: got %s", receipt.FeeBase)
	}

	// The 0.6 TKB fee splits 50/30/20 with no remainder.
	liquidity, _ := env.ledger.Accrued(newTestAddress(0x01), "TKB")
	dao, _ := env.ledger.Accrued(newTestAddress(0x02), "TKB")
	validator, _ := env.ledger.Accrued(newTestAddress(0x03), "TKB")
	if liquidity.Cmp(tenthTokens(3)) != 0 {
		t.Fatalf("liquidity share: got %s", liquidity)
	}
	if dao.Cmp(new(big.Int).Mul(big.NewInt(18), new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil))) != 0 {
		t.Fatalf("dao share: got %s", dao)
	}
	if validator.Cmp(new(big.Int).Mul(big.NewInt(12), new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil))) != 0 {
		t.Fatalf("validator share: got %s", validator)
	}

	// Fee conservation per leg: net + fee == gross.
	vault, _ := env.state.FeeVaultAddress("TKB")
	vaultBalance := env.balance(vault, "TKB")
	makerNet := env.balance(env.maker, "TKB")
	if new(big.Int).Add(vaultBalance, makerNet).Cmp(tokens(200)) != 0 {
		t.Fatalf("TKB leg does not conserve value: vault %s net %s", vaultBalance, makerNet)
	}

	for _, side := range []struct {
		addr  [20]byte
		index uint64
	}{{env.maker, 0}, {env.taker, 0}} {
		used, err := env.engine.NonceConsumed(side.addr, side.index)
		if err != nil {
			t.Fatalf("nonce consumed: %v", err)
		}
		if !used {
			t.Fatalf("nonce %d not consumed for %x", side.index, side.addr)
		}
	}

	completed := env.recorder.byType(EventTypeSettlementCompleted)
	if len(completed) != 1 {
		t.Fatalf("expected exactly one settlement event, got %d", len(completed))
	}
}

func TestSettleReplayFails(t *testing.T) {
	env := newTestEnv(t)
	maker, taker := env.orders(0x11, 0, 0)
	if _, err := env.settle(maker, taker); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if _, err := env.settle(maker, taker); !errors.Is(err, ErrAlreadyFilled) {
		t.Fatalf("expected ErrAlreadyFilled, got %v", err)
	}
}

func TestSettleNonceReuse(t *testing.T) {
	env := newTestEnv(t)
	maker, taker := env.orders(0x12, 0, 0)
	if _, err := env.settle(maker, taker); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	// Fresh salts produce new order hashes, but the maker reuses index 0.
	maker2, taker2 := env.orders(0x13, 0, 1)
	if _, err := env.settle(maker2, taker2); !errors.Is(err, ErrNonceUsed) {
		t.Fatalf("expected ErrNonceUsed, got %v", err)
	}
}

func TestSettleOutOfOrderNonces(t *testing.T) {
	env := newTestEnv(t)
	maker, taker := env.orders(0x14, 42, 7)
	if _, err := env.settle(maker, taker); err != nil {
		t.Fatalf("settle with sparse indices: %v", err)
	}
	maker2, taker2 := env.orders(0x15, 3, 0)
	if _, err := env.settle(maker2, taker2); err != nil {
		t.Fatalf("settle with lower indices: %v", err)
	}
}

func TestSettleExpired(t *testing.T) {
	env := newTestEnv(t)
	maker, taker := env.orders(0x16, 0, 0)
	maker.Deadline = env.now - 1
	if _, err := env.settle(maker, taker); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestSettleSignerMismatch(t *testing.T) {
	env := newTestEnv(t)
	maker, taker := env.orders(0x17, 0, 0)
	makerSig := env.sign(maker, env.takerKey) // wrong key
	takerSig := env.sign(taker, env.takerKey)
	if _, err := env.engine.Settle(maker, taker, makerSig, takerSig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestSettleValidatorMismatch(t *testing.T) {
	env := newTestEnv(t)
	maker, taker := env.orders(0x18, 0, 0)
	taker.MatchingValidator = newTestAddress(0xCD)
	if _, err := env.settle(maker, taker); !errors.Is(err, ErrValidatorMismatch) {
		t.Fatalf("expected ErrValidatorMismatch, got %v", err)
	}

	maker.MatchingValidator = [20]byte{}
	taker.MatchingValidator = [20]byte{}
	if _, err := env.settle(maker, taker); !errors.Is(err, ErrValidatorMismatch) {
		t.Fatalf("expected ErrValidatorMismatch for null validator, got %v", err)
	}
}

func TestSettleTermsMismatch(t *testing.T) {
	env := newTestEnv(t)
	maker, taker := env.orders(0x19, 0, 0)
	taker.AmountIn = tokens(150)
	if _, err := env.settle(maker, taker); !errors.Is(err, ErrTermsMismatch) {
		t.Fatalf("expected ErrTermsMismatch for uncrossed amounts, got %v", err)
	}

	maker, taker = env.orders(0x1A, 0, 0)
	taker.TokenIn = "TKC"
	taker.TokenOut = "TKA"
	if _, err := env.settle(maker, taker); !errors.Is(err, ErrTermsMismatch) {
		t.Fatalf("expected ErrTermsMismatch for uncrossed tokens, got %v", err)
	}
}

func TestSettleInsufficientBalanceAndAllowance(t *testing.T) {
	env := newTestEnv(t)
	maker, taker := env.orders(0x1B, 0, 0)

	env.fund(env.taker, "TKB", tokens(100))
	if _, err := env.settle(maker, taker); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	env.fund(env.taker, "TKB", tokens(1_000))
	env.allow(env.taker, "TKB", tokens(10))
	if _, err := env.settle(maker, taker); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
}

func TestSettleVolumeCap(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetDailyVolumeCap(tokens(250))

	maker, taker := env.orders(0x1C, 0, 0)
	maker.Deadline = env.now + 3*86_400
	taker.Deadline = env.now + 3*86_400
	if _, err := env.settle(maker, taker); err != nil {
		t.Fatalf("first settle under cap: %v", err)
	}

	maker2, taker2 := env.orders(0x1D, 1, 1)
	maker2.Deadline = env.now + 3*86_400
	taker2.Deadline = env.now + 3*86_400
	if _, err := env.settle(maker2, taker2); !errors.Is(err, nativecommon.ErrVolumeCapExceeded) {
		t.Fatalf("expected ErrVolumeCapExceeded, got %v", err)
	}

	// The taker's bucket resets on the next UTC day.
	env.now += 86_400
	if _, err := env.settle(maker2, taker2); err != nil {
		t.Fatalf("settle after day rollover: %v", err)
	}
}

func TestSettleAtomicOnPreconditionFailure(t *testing.T) {
	env := newTestEnv(t)
	maker, taker := env.orders(0x1E, 0, 0)
	env.allow(env.taker, "TKB", tokens(10))

	before := env.state.snapshot()
	if _, err := env.settle(maker, taker); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if !reflect.DeepEqual(before, env.state.snapshot()) {
		t.Fatalf("state mutated by failed settlement")
	}
}

func TestSettlePaused(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetPauses(nativecommon.NewPauseSet([]string{"settlement"}))
	maker, taker := env.orders(0x1F, 0, 0)
	if _, err := env.settle(maker, taker); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

func TestSettleCommitWindow(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetCommitWindow(CommitWindow{Enabled: true, MinAge: 10, MaxAge: 100})

	maker, taker := env.orders(0x20, 0, 0)
	if _, err := env.settle(maker, taker); !errors.Is(err, ErrCommitMissing) {
		t.Fatalf("expected ErrCommitMissing, got %v", err)
	}

	makerDigest, err := OrderDigest(env.engine.Domain(), maker)
	if err != nil {
		t.Fatalf("maker digest: %v", err)
	}
	takerDigest, err := OrderDigest(env.engine.Domain(), taker)
	if err != nil {
		t.Fatalf("taker digest: %v", err)
	}
	pair := PairDigest(makerDigest, takerDigest)
	if err := env.engine.Commit(pair); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := env.engine.Commit(pair); !errors.Is(err, ErrCommitExists) {
		t.Fatalf("expected ErrCommitExists, got %v", err)
	}

	if _, err := env.settle(maker, taker); !errors.Is(err, ErrCommitTooEarly) {
		t.Fatalf("expected ErrCommitTooEarly, got %v", err)
	}

	env.now += 11
	if _, err := env.settle(maker, taker); err != nil {
		t.Fatalf("settle inside commit window: %v", err)
	}

	// A stale commitment for a second pair is rejected.
	maker2, taker2 := env.orders(0x21, 1, 1)
	makerDigest2, _ := OrderDigest(env.engine.Domain(), maker2)
	takerDigest2, _ := OrderDigest(env.engine.Domain(), taker2)
	pair2 := PairDigest(makerDigest2, takerDigest2)
	if err := env.engine.Commit(pair2); err != nil {
		t.Fatalf("commit second pair: %v", err)
	}
	env.now += 200
	if _, err := env.settle(maker2, taker2); !errors.Is(err, ErrCommitExpired) {
		t.Fatalf("expected ErrCommitExpired, got %v", err)
	}
}

func TestSettleZeroFee(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.SetFeeBps(0); err != nil {
		t.Fatalf("set fee bps: %v", err)
	}
	maker, taker := env.orders(0x22, 0, 0)
	receipt, err := env.settle(maker, taker)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if receipt.FeeBase.Sign() != 0 || receipt.FeeQuote.Sign() != 0 {
		t.Fatalf("expected zero fees, got base %s quote %s", receipt.FeeBase, receipt.FeeQuote)
	}
	if got := env.balance(env.maker, "TKB"); got.Cmp(tokens(200)) != 0 {
		t.Fatalf("maker TKB balance: got %s", got)
	}
}

func TestSetFeeBpsBounds(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.SetFeeBps(1_001); err == nil {
		t.Fatalf("expected out-of-range fee bps to be rejected")
	}
}
