package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	nativecommon "clearport/native/common"
	"clearport/native/fees"
	"clearport/native/settlement"
	"clearport/storage"
)

func newTestState(t *testing.T) *SettlementState {
	t.Helper()
	return NewSettlementState(storage.NewMemDB())
}

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestAccountRoundTrip(t *testing.T) {
	s := newTestState(t)
	owner := addr(0x01)

	fresh, err := s.GetAccount(owner)
	require.NoError(t, err)
	require.Equal(t, 0, fresh.Balance("USDC").Sign())

	fresh.SetBalance("USDC", big.NewInt(1_234))
	require.NoError(t, s.PutAccount(owner, fresh))

	loaded, err := s.GetAccount(owner)
	require.NoError(t, err)
	require.Zero(t, loaded.Balance("USDC").Cmp(big.NewInt(1_234)))
	require.Equal(t, 0, loaded.Balance("XAU").Sign())
}

func TestAllowanceRoundTrip(t *testing.T) {
	s := newTestState(t)
	owner := addr(0x02)

	missing, err := s.Allowance(owner, "USDC")
	require.NoError(t, err)
	require.Equal(t, 0, missing.Sign())

	require.NoError(t, s.SetAllowance(owner, "USDC", big.NewInt(500)))
	loaded, err := s.Allowance(owner, "USDC")
	require.NoError(t, err)
	require.Zero(t, loaded.Cmp(big.NewInt(500)))

	// Other tokens are unaffected.
	other, err := s.Allowance(owner, "XAU")
	require.NoError(t, err)
	require.Equal(t, 0, other.Sign())
}

func TestFilledOrderRoundTrip(t *testing.T) {
	s := newTestState(t)
	hash := [32]byte{0xAA}

	filled, err := s.OrderFilled(hash)
	require.NoError(t, err)
	require.False(t, filled)

	require.NoError(t, s.MarkOrderFilled(hash))
	filled, err = s.OrderFilled(hash)
	require.NoError(t, err)
	require.True(t, filled)
}

func TestNonceWordRoundTrip(t *testing.T) {
	s := newTestState(t)
	account := addr(0x03)

	bits, err := s.NonceWord(account, 0)
	require.NoError(t, err)
	require.Zero(t, bits)

	require.NoError(t, s.PutNonceWord(account, 0, 0b1011))
	require.NoError(t, s.PutNonceWord(account, 9, 1<<63))

	bits, err = s.NonceWord(account, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0b1011), bits)
	bits, err = s.NonceWord(account, 9)
	require.NoError(t, err)
	require.Equal(t, uint64(1)<<63, bits)

	// Words are isolated per account.
	bits, err = s.NonceWord(addr(0x04), 0)
	require.NoError(t, err)
	require.Zero(t, bits)
}

func TestCommitRoundTrip(t *testing.T) {
	s := newTestState(t)
	hash := [32]byte{0xBB}

	_, ok, err := s.CommitGet(hash)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.CommitPut(hash, 1_700_000_000))
	committedAt, ok, err := s.CommitGet(hash)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1_700_000_000), committedAt)
}

func TestVolumeRoundTrip(t *testing.T) {
	s := newTestState(t)
	account := addr(0x05)

	fresh, err := s.VolumeGet(account)
	require.NoError(t, err)
	require.Equal(t, 0, fresh.Used.Sign())

	require.NoError(t, s.VolumePut(account, nativecommon.VolumeNow{
		Used:  big.NewInt(42),
		DayID: 19_000,
	}))
	loaded, err := s.VolumeGet(account)
	require.NoError(t, err)
	require.Zero(t, loaded.Used.Cmp(big.NewInt(42)))
	require.Equal(t, uint64(19_000), loaded.DayID)
}

func TestIntentRoundTrip(t *testing.T) {
	s := newTestState(t)
	intent := &settlement.Intent{
		ID:           [32]byte{0xCC},
		Trader:       addr(0x06),
		Solver:       addr(0x07),
		TokenIn:      "USDC",
		TokenOut:     "XAU",
		TraderAmount: big.NewInt(500),
		SolverAmount: big.NewInt(2),
		Deadline:     1_700_003_600,
		CreatedAt:    1_700_000_000,
		Status:       settlement.IntentLocked,
	}

	_, ok, err := s.IntentGet(intent.ID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.IntentPut(intent))
	loaded, ok, err := s.IntentGet(intent.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, intent.Trader, loaded.Trader)
	require.Equal(t, intent.TokenIn, loaded.TokenIn)
	require.Equal(t, intent.TokenOut, loaded.TokenOut)
	require.Zero(t, loaded.TraderAmount.Cmp(intent.TraderAmount))
	require.Zero(t, loaded.SolverAmount.Cmp(intent.SolverAmount))
	require.Equal(t, settlement.IntentLocked, loaded.Status)

	// Malformed records never reach storage.
	require.Error(t, s.IntentPut(&settlement.Intent{ID: [32]byte{0xCD}}))
}

func TestVaultAddressesDeterministic(t *testing.T) {
	s := newTestState(t)

	intentUSDC, err := s.IntentVaultAddress("USDC")
	require.NoError(t, err)
	again, err := s.IntentVaultAddress("USDC")
	require.NoError(t, err)
	require.Equal(t, intentUSDC, again)

	intentXAU, err := s.IntentVaultAddress("XAU")
	require.NoError(t, err)
	require.NotEqual(t, intentUSDC, intentXAU)

	// Fee and intent vaults for the same token never collide.
	feeUSDC, err := s.FeeVaultAddress("USDC")
	require.NoError(t, err)
	require.NotEqual(t, intentUSDC, feeUSDC)

	_, err = s.IntentVaultAddress("")
	require.Error(t, err)
}

func TestAccruedRoundTripAndTokenIndex(t *testing.T) {
	s := newTestState(t)
	recipient := addr(0x08)

	pending, err := s.AccruedGet(recipient, "USDC")
	require.NoError(t, err)
	require.Equal(t, 0, pending.Sign())

	require.NoError(t, s.AccruedPut(recipient, "USDC", big.NewInt(300)))
	require.NoError(t, s.AccruedPut(recipient, "XAU", big.NewInt(20)))
	require.NoError(t, s.AccruedPut(recipient, "USDC", big.NewInt(600)))

	pending, err = s.AccruedGet(recipient, "USDC")
	require.NoError(t, err)
	require.Zero(t, pending.Cmp(big.NewInt(600)))

	tokens, err := s.AccruedTokens(recipient)
	require.NoError(t, err)
	require.Equal(t, []string{"USDC", "XAU"}, tokens)
}

func TestRecipientsRoundTrip(t *testing.T) {
	s := newTestState(t)

	_, ok, err := s.RecipientsGet()
	require.NoError(t, err)
	require.False(t, ok)

	want := fees.Recipients{
		Liquidity: addr(0x09),
		Dao:       addr(0x0A),
		Validator: addr(0x0B),
	}
	require.NoError(t, s.RecipientsPut(want))
	loaded, ok, err := s.RecipientsGet()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, loaded)
}
