package core

import (
	"errors"
	"fmt"
)

// ErrInvariant marks a violated physical or structural invariant. A run that
// hits one cannot continue meaningfully and must be aborted.
var ErrInvariant = errors.New("invariant violation")

// Invariantf builds an error wrapping ErrInvariant.
func Invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
