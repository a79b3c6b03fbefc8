package models

import "fmt"

// InvariantError is the panic value raised when storage bookkeeping is found
// in a state that cannot be continued from without corrupting data.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant violated: %s", e.Op, e.Detail)
}

// Invariant builds an InvariantError with a formatted detail.
func Invariant(op, format string, args ...any) *InvariantError {
	return &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
}
