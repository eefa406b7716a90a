package apply

import (
	"errors"
	"fmt"
)

// Sentinel errors carried by outcomes. Match with errors.Is.
var (
	ErrDuplicateInstruction = errors.New("duplicate instruction")
	ErrUnknownKind          = errors.New("unknown instruction kind")
	ErrHandlerFailed        = errors.New("handler failed")
)

// InstructionError describes why one instruction was not applied normally.
type InstructionError struct {
	// ID is the instruction id as received.
	ID string

	// Kind is the raw action name.
	Kind string

	// Err is the underlying cause: a sentinel above, a handler error, or an
	// ident.MalformedIdentifierError.
	Err error
}

// Error implements the error interface.
func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %s (%s): %v", e.ID, e.Kind, e.Err)
}

// Unwrap exposes the cause.
func (e *InstructionError) Unwrap() error {
	return e.Err
}

// IsUnknownKind reports whether err is an unknown-kind error.
func IsUnknownKind(err error) bool {
	return errors.Is(err, ErrUnknownKind)
}

// IsDuplicate reports whether err is a duplicate-instruction error.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateInstruction)
}

// handlerError wraps a handler failure so it matches ErrHandlerFailed and
// the original cause.
type handlerError struct {
	err error
}

func (e *handlerError) Error() string {
	return fmt.Sprintf("%v: %v", ErrHandlerFailed, e.err)
}

func (e *handlerError) Unwrap() []error {
	return []error{ErrHandlerFailed, e.err}
}
