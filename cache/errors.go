package cache

import (
	"errors"
	"fmt"
)

// Cache errors. Every Store operation that fails returns a *Fault whose Is method
// matches exactly one of these sentinels.
var (
	// ErrCacheMiss is returned when the key or field does not exist.
	ErrCacheMiss = errors.New("cache miss")

	// ErrStoreFault is returned when Redis rejected the command or was unreachable.
	ErrStoreFault = errors.New("cache store fault")

	// ErrDecodeFault is returned when a cached payload could not be decoded.
	ErrDecodeFault = errors.New("cache decode fault")

	// ErrWrongType is returned when a key holds a different Redis type than expected.
	ErrWrongType = errors.New("cache key holds the wrong type")
)

// FaultKind classifies a Fault.
type FaultKind int

const (
	// FaultNone is reported by KindOf for a nil error.
	FaultNone FaultKind = iota
	FaultMiss
	FaultStore
	FaultDecode
	FaultWrongType
)

func (k FaultKind) String() string {
	switch k {
	case FaultNone:
		return "none"
	case FaultMiss:
		return "miss"
	case FaultStore:
		return "store"
	case FaultDecode:
		return "decode"
	case FaultWrongType:
		return "wrong_type"
	default:
		return fmt.Sprintf("fault(%d)", int(k))
	}
}

// Fault describes why a cache operation produced no value.
type Fault struct {
	Kind FaultKind
	Op   string
	Key  string
	Err  error
}

// Error implements the error interface
func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s %q: %s", f.Op, f.Key, f.Kind)
	}
	return fmt.Sprintf("%s %q: %s: %v", f.Op, f.Key, f.Kind, f.Err)
}

// Unwrap returns the underlying error
func (f *Fault) Unwrap() error {
	return f.Err
}

// Is matches the sentinel error of the fault kind.
func (f *Fault) Is(target error) bool {
	switch f.Kind {
	case FaultMiss:
		return target == ErrCacheMiss
	case FaultStore:
		return target == ErrStoreFault
	case FaultDecode:
		return target == ErrDecodeFault
	case FaultWrongType:
		return target == ErrWrongType
	}
	return false
}

// KindOf returns the fault kind carried by err. Errors that are not faults
// are reported as FaultStore.
func KindOf(err error) FaultKind {
	if err == nil {
		return FaultNone
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return FaultStore
}

// IsMiss reports whether err is a cache miss.
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
