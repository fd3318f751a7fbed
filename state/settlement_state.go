package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"clearport/core/types"
	nativecommon "clearport/native/common"
	"clearport/native/fees"
	"clearport/native/settlement"
	"clearport/storage"
)

// Key prefixes for the settlement state. Every record lives under its own
// namespace so backends can be inspected and migrated independently.
const (
	prefixAccount    = "acct:"
	prefixAllowance  = "allow:"
	prefixFilled     = "filled:"
	prefixNonce      = "nonce:"
	prefixCommit     = "commit:"
	prefixVolume     = "vol:"
	prefixIntent     = "intent:"
	prefixAccrued    = "fees/accrued:"
	prefixFeeTokens  = "fees/tokens:"
	keyFeeRecipients = "fees/recipients"
)

// SettlementState is the concrete state backend shared by the settlement
// engine and the fee ledger, persisting through a generic key-value store.
type SettlementState struct {
	db storage.Database
}

// NewSettlementState wraps the supplied database.
func NewSettlementState(db storage.Database) *SettlementState {
	return &SettlementState{db: db}
}

func accountKey(addr [20]byte) []byte {
	return []byte(prefixAccount + hex.EncodeToString(addr[:]))
}

func allowanceKey(owner [20]byte, token string) []byte {
	return []byte(prefixAllowance + hex.EncodeToString(owner[:]) + ":" + token)
}

func filledKey(hash [32]byte) []byte {
	return []byte(prefixFilled + hex.EncodeToString(hash[:]))
}

func nonceKey(account [20]byte, word uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", prefixNonce, hex.EncodeToString(account[:]), word))
}

func commitKey(hash [32]byte) []byte {
	return []byte(prefixCommit + hex.EncodeToString(hash[:]))
}

func volumeKey(account [20]byte) []byte {
	return []byte(prefixVolume + hex.EncodeToString(account[:]))
}

func intentKey(id [32]byte) []byte {
	return []byte(prefixIntent + hex.EncodeToString(id[:]))
}

func accruedKey(addr [20]byte, token string) []byte {
	return []byte(prefixAccrued + hex.EncodeToString(addr[:]) + ":" + token)
}

func feeTokensKey(addr [20]byte) []byte {
	return []byte(prefixFeeTokens + hex.EncodeToString(addr[:]))
}

// GetAccount loads the account record, returning a fresh account when none
// exists yet.
func (s *SettlementState) GetAccount(addr [20]byte) (*types.Account, error) {
	raw, err := s.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return types.NewAccount(), nil
	}
	if err != nil {
		return nil, err
	}
	account := types.NewAccount()
	if err := json.Unmarshal(raw, account); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return account, nil
}

// PutAccount persists the account record.
func (s *SettlementState) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	raw, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return s.db.Put(accountKey(addr), raw)
}

// Allowance returns the transfer authorization the owner has granted the
// engine for a token. Missing entries read as zero.
func (s *SettlementState) Allowance(owner [20]byte, token string) (*big.Int, error) {
	return s.getBig(allowanceKey(owner, token))
}

// SetAllowance records the transfer authorization for a token.
func (s *SettlementState) SetAllowance(owner [20]byte, token string, amount *big.Int) error {
	return s.putBig(allowanceKey(owner, token), amount)
}

// OrderFilled reports whether the order digest is recorded as filled.
func (s *SettlementState) OrderFilled(hash [32]byte) (bool, error) {
	_, err := s.db.Get(filledKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkOrderFilled records the order digest permanently.
func (s *SettlementState) MarkOrderFilled(hash [32]byte) error {
	return s.db.Put(filledKey(hash), []byte{1})
}

// NonceWord loads one 64-bit word of the account's consumed-nonce bitmap.
func (s *SettlementState) NonceWord(account [20]byte, word uint64) (uint64, error) {
	raw, err := s.db.Get(nonceKey(account, word))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: corrupt nonce word")
	}
	return binary.BigEndian.Uint64(raw), nil
}

// PutNonceWord stores one word of the consumed-nonce bitmap.
func (s *SettlementState) PutNonceWord(account [20]byte, word uint64, bits uint64) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, bits)
	return s.db.Put(nonceKey(account, word), raw)
}

// CommitGet loads a pre-commitment timestamp.
func (s *SettlementState) CommitGet(hash [32]byte) (int64, bool, error) {
	raw, err := s.db.Get(commitKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("state: corrupt commit record")
	}
	return int64(binary.BigEndian.Uint64(raw)), true, nil
}

// CommitPut stores a pre-commitment timestamp.
func (s *SettlementState) CommitPut(hash [32]byte, committedAt int64) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, uint64(committedAt))
	return s.db.Put(commitKey(hash), raw)
}

type volumeRecord struct {
	Used  *big.Int `json:"used"`
	DayID uint64   `json:"dayId"`
}

// VolumeGet loads the trader's daily volume counters.
func (s *SettlementState) VolumeGet(account [20]byte) (nativecommon.VolumeNow, error) {
	raw, err := s.db.Get(volumeKey(account))
	if errors.Is(err, storage.ErrNotFound) {
		return nativecommon.VolumeNow{Used: big.NewInt(0)}, nil
	}
	if err != nil {
		return nativecommon.VolumeNow{}, err
	}
	var record volumeRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nativecommon.VolumeNow{}, fmt.Errorf("state: decode volume: %w", err)
	}
	if record.Used == nil {
		record.Used = big.NewInt(0)
	}
	return nativecommon.VolumeNow{Used: record.Used, DayID: record.DayID}, nil
}

// VolumePut stores the trader's daily volume counters.
func (s *SettlementState) VolumePut(account [20]byte, volume nativecommon.VolumeNow) error {
	used := volume.Used
	if used == nil {
		used = big.NewInt(0)
	}
	raw, err := json.Marshal(volumeRecord{Used: used, DayID: volume.DayID})
	if err != nil {
		return err
	}
	return s.db.Put(volumeKey(account), raw)
}

// IntentGet loads an intent record by identifier.
func (s *SettlementState) IntentGet(id [32]byte) (*settlement.Intent, bool, error) {
	raw, err := s.db.Get(intentKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	intent := &settlement.Intent{}
	if err := json.Unmarshal(raw, intent); err != nil {
		return nil, false, fmt.Errorf("state: decode intent: %w", err)
	}
	return intent, true, nil
}

// IntentPut persists an intent record.
func (s *SettlementState) IntentPut(intent *settlement.Intent) error {
	sanitized, err := settlement.SanitizeIntent(intent)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return err
	}
	return s.db.Put(intentKey(sanitized.ID), raw)
}

// IntentVaultAddress derives the deterministic escrow vault for a token.
func (s *SettlementState) IntentVaultAddress(token string) ([20]byte, error) {
	return vaultAddress("clearport/vault/intent/", token)
}

// FeeVaultAddress derives the deterministic fee vault for a token.
func (s *SettlementState) FeeVaultAddress(token string) ([20]byte, error) {
	return vaultAddress("clearport/vault/fees/", token)
}

func vaultAddress(namespace, token string) ([20]byte, error) {
	var addr [20]byte
	if token == "" {
		return addr, fmt.Errorf("state: token required for vault address")
	}
	digest := ethcrypto.Keccak256([]byte(namespace + token))
	copy(addr[:], digest[12:])
	return addr, nil
}

// AccruedGet loads a recipient's pending fee balance for a token.
func (s *SettlementState) AccruedGet(addr [20]byte, token string) (*big.Int, error) {
	return s.getBig(accruedKey(addr, token))
}

// AccruedPut stores a recipient's pending fee balance and indexes the token
// so rotations can enumerate what to migrate.
func (s *SettlementState) AccruedPut(addr [20]byte, token string, amount *big.Int) error {
	if err := s.putBig(accruedKey(addr, token), amount); err != nil {
		return err
	}
	tokens, err := s.AccruedTokens(addr)
	if err != nil {
		return err
	}
	for _, known := range tokens {
		if known == token {
			return nil
		}
	}
	tokens = append(tokens, token)
	sort.Strings(tokens)
	raw, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return s.db.Put(feeTokensKey(addr), raw)
}

// AccruedTokens lists the tokens for which the address has ever accrued fees.
func (s *SettlementState) AccruedTokens(addr [20]byte) ([]string, error) {
	raw, err := s.db.Get(feeTokensKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tokens []string
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("state: decode fee token index: %w", err)
	}
	return tokens, nil
}

// RecipientsGet loads the fee recipient set.
func (s *SettlementState) RecipientsGet() (fees.Recipients, bool, error) {
	raw, err := s.db.Get([]byte(keyFeeRecipients))
	if errors.Is(err, storage.ErrNotFound) {
		return fees.Recipients{}, false, nil
	}
	if err != nil {
		return fees.Recipients{}, false, err
	}
	var recipients fees.Recipients
	if err := json.Unmarshal(raw, &recipients); err != nil {
		return fees.Recipients{}, false, fmt.Errorf("state: decode recipients: %w", err)
	}
	return recipients, true, nil
}

// RecipientsPut stores the fee recipient set.
func (s *SettlementState) RecipientsPut(recipients fees.Recipients) error {
	raw, err := json.Marshal(recipients)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(keyFeeRecipients), raw)
}

func (s *SettlementState) getBig(key []byte) (*big.Int, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	value, ok := big.NewInt(0).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt integer record")
	}
	return value, nil
}

func (s *SettlementState) putBig(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return s.db.Put(key, []byte("0"))
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative amount")
	}
	return s.db.Put(key, []byte(amount.String()))
}
