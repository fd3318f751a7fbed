package settlement

import (
	"fmt"
	"math/big"

	nativecommon "clearport/native/common"
)

// LockIntentCollateral records the full terms of a delegated trade and moves
// the trader's collateral into the intent vault. Only the trader may lock
// their own funds; token identities and the authorized solver are bound here,
// at lock time, and settlement can only execute against these recorded terms.
// Re-locking an identical definition is idempotent; reusing the identifier
// with different terms fails.
func (e *Engine) LockIntentCollateral(id [32]byte, caller, trader [20]byte, traderAmount, solverAmount *big.Int, tokenIn, tokenOut string, solver [20]byte, deadline int64) (*Intent, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, intentModuleName); err != nil {
		return nil, err
	}
	if caller != trader {
		return nil, ErrUnauthorized
	}
	now := e.now()
	intent, err := SanitizeIntent(&Intent{
		ID:           id,
		Trader:       trader,
		Solver:       solver,
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		TraderAmount: traderAmount,
		SolverAmount: solverAmount,
		Deadline:     deadline,
		CreatedAt:    now,
		Status:       IntentLocked,
	})
	if err != nil {
		return nil, err
	}
	if intent.Trader == intent.Solver {
		return nil, fmt.Errorf("settlement: trader cannot be its own solver")
	}
	if intent.Deadline < now {
		return nil, ErrExpired
	}
	if existing, ok, err := e.state.IntentGet(id); err != nil {
		return nil, err
	} else if ok {
		if sameIntentTerms(existing, intent) {
			return existing.Clone(), nil
		}
		return nil, ErrIntentExists
	}
	vault, err := e.state.IntentVaultAddress(intent.TokenIn)
	if err != nil {
		return nil, err
	}
	acc, err := e.state.GetAccount(intent.Trader)
	if err != nil {
		return nil, err
	}
	if acc.Balance(intent.TokenIn).Cmp(intent.TraderAmount) < 0 {
		return nil, fmt.Errorf("%w: intent collateral", ErrInsufficientBalance)
	}
	locked, err := e.transferToken(intent.Trader, vault, intent.TokenIn, intent.TraderAmount)
	if err != nil {
		return nil, err
	}
	intent.TraderAmount = locked
	if err := e.state.IntentPut(intent); err != nil {
		return nil, err
	}
	e.emit(NewIntentLockedEvent(intent))
	e.metrics.ObserveIntent("locked")
	return intent.Clone(), nil
}

// SettleIntent executes a locked intent. Only the recorded trader or solver
// may call it, and the supplied token parameters must match the terms bound
// at lock time; settlement-time parameters are never the source of truth for
// what gets swapped.
func (e *Engine) SettleIntent(id [32]byte, caller [20]byte, tokenIn, tokenOut string) (*Intent, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.fees == nil {
		return nil, errNilFees
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, intentModuleName); err != nil {
		return nil, err
	}
	intent, err := e.loadIntent(id)
	if err != nil {
		return nil, err
	}
	if intent.Status != IntentLocked {
		return nil, ErrIntentClosed
	}
	if caller != intent.Trader && caller != intent.Solver {
		return nil, ErrUnauthorized
	}
	suppliedIn, err := NormalizeToken(tokenIn)
	if err != nil {
		return nil, err
	}
	suppliedOut, err := NormalizeToken(tokenOut)
	if err != nil {
		return nil, err
	}
	if suppliedIn != intent.TokenIn || suppliedOut != intent.TokenOut {
		return nil, ErrTokenMismatch
	}
	now := e.now()
	if now > intent.Deadline {
		return nil, ErrExpired
	}

	solverAcc, err := e.state.GetAccount(intent.Solver)
	if err != nil {
		return nil, err
	}
	if solverAcc.Balance(intent.TokenOut).Cmp(intent.SolverAmount) < 0 {
		return nil, fmt.Errorf("%w: solver leg", ErrInsufficientBalance)
	}
	// When the trader triggers settlement the engine pulls the solver's leg,
	// which requires a standing allowance; a solver settling in person pays
	// directly.
	if caller != intent.Solver {
		allowance, err := e.state.Allowance(intent.Solver, intent.TokenOut)
		if err != nil {
			return nil, err
		}
		if allowance.Cmp(intent.SolverAmount) < 0 {
			return nil, fmt.Errorf("%w: solver leg", ErrInsufficientAllowance)
		}
		if err := e.consumeAllowance(intent.Solver, intent.TokenOut, intent.SolverAmount); err != nil {
			return nil, err
		}
	}

	if _, _, err := e.settleLeg(intent.Solver, intent.Trader, intent.TokenOut, intent.SolverAmount); err != nil {
		return nil, err
	}
	vault, err := e.state.IntentVaultAddress(intent.TokenIn)
	if err != nil {
		return nil, err
	}
	if _, _, err := e.settleLeg(vault, intent.Solver, intent.TokenIn, intent.TraderAmount); err != nil {
		return nil, err
	}

	intent.Status = IntentSettled
	if err := e.state.IntentPut(intent); err != nil {
		return nil, err
	}
	e.emit(NewIntentSettledEvent(intent, caller))
	e.metrics.ObserveIntent("settled")
	return intent.Clone(), nil
}

// CancelIntent releases the escrowed collateral back to the trader once the
// solver's committed window has elapsed. Cancelling before the deadline fails
// with ErrDeadlineNotReached.
func (e *Engine) CancelIntent(id [32]byte, caller [20]byte) (*Intent, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, intentModuleName); err != nil {
		return nil, err
	}
	intent, err := e.loadIntent(id)
	if err != nil {
		return nil, err
	}
	if intent.Status != IntentLocked {
		return nil, ErrIntentClosed
	}
	if caller != intent.Trader {
		return nil, ErrUnauthorized
	}
	if e.now() <= intent.Deadline {
		return nil, ErrDeadlineNotReached
	}
	vault, err := e.state.IntentVaultAddress(intent.TokenIn)
	if err != nil {
		return nil, err
	}
	if _, err := e.transferToken(vault, intent.Trader, intent.TokenIn, intent.TraderAmount); err != nil {
		return nil, err
	}
	intent.Status = IntentCancelled
	if err := e.state.IntentPut(intent); err != nil {
		return nil, err
	}
	e.emit(NewIntentCancelledEvent(intent))
	e.metrics.ObserveIntent("cancelled")
	return intent.Clone(), nil
}

// IntentByID returns a copy of the stored intent record.
func (e *Engine) IntentByID(id [32]byte) (*Intent, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadIntent(id)
}

func (e *Engine) loadIntent(id [32]byte) (*Intent, error) {
	stored, ok, err := e.state.IntentGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrIntentNotFound
	}
	return SanitizeIntent(stored)
}

func sameIntentTerms(a, b *Intent) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Trader == b.Trader &&
		a.Solver == b.Solver &&
		a.TokenIn == b.TokenIn &&
		a.TokenOut == b.TokenOut &&
		a.TraderAmount != nil && b.TraderAmount != nil && a.TraderAmount.Cmp(b.TraderAmount) == 0 &&
		a.SolverAmount != nil && b.SolverAmount != nil && a.SolverAmount.Cmp(b.SolverAmount) == 0 &&
		a.Deadline == b.Deadline
}
