package settlement

// The nonce ledger is a sparse bitmap of consumed indices per account. The
// signer chooses any unused index, so any number of orders can be outstanding
// at once while no (account, index) pair is ever consumed twice.

const nonceWordBits = 64

func nonceCoordinates(index uint64) (word uint64, mask uint64) {
	return index / nonceWordBits, 1 << (index % nonceWordBits)
}

// NonceConsumed reports whether the nonce index has been consumed for the
// account.
func (e *Engine) NonceConsumed(account [20]byte, index uint64) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonceConsumed(account, index)
}

func (e *Engine) nonceConsumed(account [20]byte, index uint64) (bool, error) {
	word, mask := nonceCoordinates(index)
	bits, err := e.state.NonceWord(account, word)
	if err != nil {
		return false, err
	}
	return bits&mask != 0, nil
}

// consumeNonce sets the bit for the index. Callers must have verified the bit
// is clear inside the same critical section.
func (e *Engine) consumeNonce(account [20]byte, index uint64) error {
	word, mask := nonceCoordinates(index)
	bits, err := e.state.NonceWord(account, word)
	if err != nil {
		return err
	}
	if bits&mask != 0 {
		return ErrNonceUsed
	}
	return e.state.PutNonceWord(account, word, bits|mask)
}
