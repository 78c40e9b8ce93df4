package runtime

import (
	"errors"
	"fmt"
)

var (
	ErrExportNotFound  = errors.New("export not found")
	ErrTrap            = errors.New("trap during execution")
	ErrResultMalformed = errors.New("result malformed")
	ErrPoisoned        = errors.New("instance poisoned")
	ErrClosed          = errors.New("instance closed")
	ErrInvalidModule   = errors.New("invalid lapp module")
	ErrInitFailed      = errors.New("instance init failed")
)

// TrapError reports a fault inside guest code. Poisoned is set when the
// fault left the module unusable.
type TrapError struct {
	Export   string
	Poisoned bool
	Err      error
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("trap in %q: %v", e.Export, e.Err)
}

func (e *TrapError) Unwrap() error {
	return e.Err
}

// Is matches ErrTrap so callers need not know the concrete type
func (e *TrapError) Is(target error) bool {
	return target == ErrTrap
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrResultMalformed, fmt.Sprintf(format, args...))
}
