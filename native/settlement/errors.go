package settlement

import "errors"

var (
	errNilState = errors.New("settlement engine: state not configured")
	errNilFees  = errors.New("settlement engine: fee bank not configured")

	// ErrExpired marks an order or intent whose deadline lies in the past.
	ErrExpired = errors.New("settlement: deadline elapsed")
	// ErrInvalidSignature marks a signature that does not recover to the
	// claimed trader, or is malformed or non-canonical.
	ErrInvalidSignature = errors.New("settlement: invalid signature")
	// ErrNonceUsed marks an authorization whose nonce index has already been
	// consumed for the account.
	ErrNonceUsed = errors.New("settlement: nonce already consumed")
	// ErrAlreadyFilled marks an order whose hash is recorded as filled.
	ErrAlreadyFilled = errors.New("settlement: order already filled")
	// ErrInsufficientBalance marks a trader lacking the balance backing their
	// outgoing leg.
	ErrInsufficientBalance = errors.New("settlement: insufficient balance")
	// ErrInsufficientAllowance marks a trader that has not granted the engine
	// enough transfer authorization for their outgoing leg.
	ErrInsufficientAllowance = errors.New("settlement: insufficient allowance")
	// ErrValidatorMismatch marks a pair whose orders name different or null
	// matching validators.
	ErrValidatorMismatch = errors.New("settlement: matching validator mismatch")
	// ErrTermsMismatch marks maker/taker orders whose tokens or amounts do not
	// cross exactly.
	ErrTermsMismatch = errors.New("settlement: order terms do not cross")
	// ErrUnauthorized marks an intent operation issued by a caller without
	// standing for it: locking collateral for an account other than its own,
	// or settling or cancelling as neither the recorded trader nor the
	// recorded solver.
	ErrUnauthorized = errors.New("settlement: unauthorized caller")
	// ErrTokenMismatch marks intent settlement parameters that differ from the
	// terms recorded at lock time.
	ErrTokenMismatch = errors.New("settlement: intent token mismatch")
	// ErrDeadlineNotReached marks a cancel attempted inside the solver's
	// committed window.
	ErrDeadlineNotReached = errors.New("settlement: deadline not reached")
	// ErrIntentExists marks a lock reusing an identifier with different terms.
	ErrIntentExists = errors.New("settlement: intent already exists")
	// ErrIntentNotFound marks an operation on an unknown intent identifier.
	ErrIntentNotFound = errors.New("settlement: intent not found")
	// ErrIntentClosed marks an operation on a settled or cancelled intent.
	ErrIntentClosed = errors.New("settlement: intent already closed")
	// ErrCommitExists marks a commitment hash that was already recorded.
	ErrCommitExists = errors.New("settlement: commitment already recorded")
	// ErrCommitMissing marks a settlement attempted without a prior
	// commitment while the commit window is enforced.
	ErrCommitMissing = errors.New("settlement: commitment missing")
	// ErrCommitTooEarly marks a commitment younger than the minimum age.
	ErrCommitTooEarly = errors.New("settlement: commitment too recent")
	// ErrCommitExpired marks a commitment older than the maximum age.
	ErrCommitExpired = errors.New("settlement: commitment expired")
)
