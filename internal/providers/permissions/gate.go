package permissions

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied is the sentinel matched by every denial
var ErrPermissionDenied = errors.New("permission denied")

// DeniedError reports which lapp was refused which capability
type DeniedError struct {
	Lapp       string
	Permission Permission
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission '%s' denied for lapp '%s'", e.Permission, e.Lapp)
}

// Unwrap lets errors.Is match ErrPermissionDenied
func (e *DeniedError) Unwrap() error {
	return ErrPermissionDenied
}

// Gate is the single permission check every privileged host call passes
// through. Checks only consult the set captured when the lapp was loaded.
type Gate struct {
	lapp string
	set  Set
}

// NewGate binds a gate to one lapp's declared permissions
func NewGate(lapp string, set Set) *Gate {
	return &Gate{lapp: lapp, set: set}
}

// Lapp returns the lapp the gate guards
func (g *Gate) Lapp() string {
	return g.lapp
}

// Set returns the permissions the gate was built with
func (g *Gate) Set() Set {
	return g.set
}

// Check returns nil when perm is granted, a *DeniedError otherwise.
func (g *Gate) Check(perm Permission) error {
	return Check(g.lapp, g.set, perm)
}

// Check is the stateless form of Gate.Check
func Check(lapp string, set Set, perm Permission) error {
	if set.Has(perm) {
		return nil
	}
	return &DeniedError{Lapp: lapp, Permission: perm}
}
