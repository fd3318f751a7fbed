package settlement

import (
	nativecommon "clearport/native/common"
)

// CommitWindow configures the optional commit-reveal pre-commitment layer.
// When enabled, every settlement must be preceded by a commitment to the pair
// digest aged at least MinAge and at most MaxAge seconds. When disabled the
// store is neither consulted nor advertised.
type CommitWindow struct {
	Enabled bool
	MinAge  int64
	MaxAge  int64
}

// Commit records a pre-commitment hash with the current timestamp. Each hash
// is write-once; re-committing fails with ErrCommitExists.
func (e *Engine) Commit(hash [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, settlementModuleName); err != nil {
		return err
	}
	if _, ok, err := e.state.CommitGet(hash); err != nil {
		return err
	} else if ok {
		return ErrCommitExists
	}
	now := e.now()
	if err := e.state.CommitPut(hash, now); err != nil {
		return err
	}
	e.emit(NewCommitRecordedEvent(hash, now))
	return nil
}

// checkCommit enforces the commit window against the pair digest. Callers
// hold the engine lock.
func (e *Engine) checkCommit(pair [32]byte, now int64) error {
	if !e.commitWindow.Enabled {
		return nil
	}
	committedAt, ok, err := e.state.CommitGet(pair)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCommitMissing
	}
	age := now - committedAt
	if age < e.commitWindow.MinAge {
		return ErrCommitTooEarly
	}
	if e.commitWindow.MaxAge > 0 && age > e.commitWindow.MaxAge {
		return ErrCommitExpired
	}
	return nil
}
