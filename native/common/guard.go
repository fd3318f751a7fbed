package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// ErrRoleRequired marks an admin-surface call issued by an address without the
// required role.
var ErrRoleRequired = errors.New("role required")

// PauseView reports whether a named module is administratively paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects calls into a paused module.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is a static PauseView built from a list of paused module names.
type PauseSet map[string]bool

// NewPauseSet builds a pause view from the supplied module names.
func NewPauseSet(modules []string) PauseSet {
	set := make(PauseSet, len(modules))
	for _, m := range modules {
		set[m] = true
	}
	return set
}

// IsPaused implements PauseView.
func (p PauseSet) IsPaused(module string) bool { return p[module] }

// RoleView answers role-membership queries for the admin control surface. The
// hot settlement path never consults it.
type RoleView interface {
	HasRole(addr [20]byte, role string) bool
}

// RequireRole rejects callers that do not hold the named role. A nil view
// denies everything, so an unwired admin surface fails closed.
func RequireRole(v RoleView, addr [20]byte, role string) error {
	if v == nil || !v.HasRole(addr, role) {
		return ErrRoleRequired
	}
	return nil
}
