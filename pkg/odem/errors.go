package odem

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument classifies invalid caller arguments such as empty
	// keys or key templates lacking a UUID placeholder.
	ErrInvalidArgument = errors.New("odem invalid argument")
	// ErrClosed classifies operations on an adapter that has been closed.
	ErrClosed = errors.New("odem adapter closed")
	// ErrCreateExhausted is returned by Create when every generated key was
	// already taken.
	ErrCreateExhausted = errors.New("could not find available UUID after reasonable number of attempts")
	// ErrTransactionsUnsupported classifies all transaction hooks.
	ErrTransactionsUnsupported = errors.New("missing transaction support")
)

func odemError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

// TxError is returned by RollBack and Commit. It matches
// ErrTransactionsUnsupported through errors.Is.
type TxError struct {
	Op      string
	Message string
}

func (e *TxError) Error() string { return e.Message }

// Unwrap exposes the error kind.
func (e *TxError) Unwrap() error { return ErrTransactionsUnsupported }

var (
	errNoRollBack = &TxError{Op: "rollback", Message: "There is no running transaction to be rolled back."}
	errNoCommit   = &TxError{Op: "commit", Message: "There is no running transaction to be committed."}
)
