// internal/lookuptable/errors.go
package lookuptable

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrTableNotFound = errors.New("address lookup table does not exist")
	ErrTableFull     = errors.New("address lookup table is full")
	ErrTableInactive = errors.New("address lookup table is deactivated")
)

// BatchError is one batch that exhausted its retries.
type BatchError struct {
	Index int
	Keys  []solana.PublicKey
	Err   error
}

func (e BatchError) Error() string {
	return fmt.Sprintf("batch %d (%d keys): %v", e.Index, len(e.Keys), e.Err)
}

func (e BatchError) Unwrap() error {
	return e.Err
}

// PartialError reports an extend where some batches landed and some did not.
// Landed batches stay in the table.
type PartialError struct {
	Table   solana.PublicKey
	Batches int
	Failed  []BatchError
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("extend %s: %d of %d batches failed: %v",
		e.Table, len(e.Failed), e.Batches, errors.Join(e.Unwrap()...))
}

func (e *PartialError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i := range e.Failed {
		errs[i] = e.Failed[i]
	}
	return errs
}

// FailedKeys returns the keys of every failed batch.
func (e *PartialError) FailedKeys() []solana.PublicKey {
	var keys []solana.PublicKey
	for _, b := range e.Failed {
		keys = append(keys, b.Keys...)
	}
	return keys
}
