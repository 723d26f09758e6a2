package tablecache

import (
	"errors"
	"fmt"
)

// Configuration errors. These are the only errors DAL operations return;
// store and cache faults are logged and reported as "not found" or false.
var (
	// ErrNoShard is returned when no shard selector is configured or the
	// selector could not resolve a shard for the call.
	ErrNoShard = errors.New("no shard available")

	// ErrNilStore is returned when a shard resolves to a nil store handle.
	ErrNilStore = errors.New("shard resolved a nil store")

	// ErrNoPubSub is returned by the pub/sub passthrough when no PubSub is configured.
	ErrNoPubSub = errors.New("pubsub is not configured")
)

// ErrStoreFault marks a document store failure passed to the fault handler.
var ErrStoreFault = errors.New("document store fault")

// StoreError describes a failed document store call.
type StoreError struct {
	Op    string
	Table string
	Err   error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Op, e.Table, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrStoreFault.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreFault
}

// IsConfigFault reports whether err is a configuration error that a DAL call
// propagates to its caller.
func IsConfigFault(err error) bool {
	return errors.Is(err, ErrNoShard) || errors.Is(err, ErrNilStore) || errors.Is(err, ErrNoPubSub)
}
