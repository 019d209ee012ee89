package flagcore

import "fmt"

// Ref is an opaque engine reference. The high 32 bits carry the Kind,
// the low 32 bits a per-kind counter. Zero is never a valid reference.
type Ref uint64

// Kind identifies the type of engine object a Ref points to
type Kind uint32

const (
	KindClient Kind = iota + 1
	KindUser
	KindOptions
	KindDataStore
	KindPersistentStorage
	KindObservability
	KindEventLogger
	KindOutputLogger
)

var kindNames = map[Kind]string{
	KindClient:            "client",
	KindUser:              "user",
	KindOptions:           "options",
	KindDataStore:         "data_store",
	KindPersistentStorage: "persistent_storage",
	KindObservability:     "observability_client",
	KindEventLogger:       "event_logger",
	KindOutputLogger:      "output_logger",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// MakeRef packs kind and counter into a Ref.
func MakeRef(kind Kind, counter uint32) Ref {
	return Ref(uint64(kind)<<32 | uint64(counter))
}

// Kind returns the kind encoded in the reference.
func (r Ref) Kind() Kind {
	return Kind(uint64(r) >> 32)
}

// Counter returns the per-kind counter part.
func (r Ref) Counter() uint32 {
	return uint32(r)
}

// Valid reports whether r can name an engine object.
func (r Ref) Valid() bool {
	return r.Kind() != 0 && r.Counter() != 0
}

func (r Ref) String() string {
	return fmt.Sprintf("%s#%d", r.Kind(), r.Counter())
}

// Token correlates an async engine callback with the operation that issued it
type Token uint64

// Callback is invoked by the engine exactly once per issued async operation.
// A non-nil err means the operation failed; result is then ignored.
type Callback func(token Token, result []byte, err error)

// HostFunc is the entry point an engine uses to call back into a host
// adapter. method names the adapter operation, args and the returned bytes
// are JSON.
type HostFunc func(method string, args []byte) ([]byte, error)

// Boundary is the engine surface every facade talks to.
//
// Implementations must be safe for concurrent use on distinct references and
// for concurrent reads on the same reference. Release is not assumed to be
// idempotent; callers guarantee it is invoked at most once per reference.
type Boundary interface {
	// Create allocates an engine object from a JSON configuration.
	Create(kind Kind, config []byte) (Ref, error)

	// CreateHost allocates an engine object backed by a host function.
	CreateHost(kind Kind, fn HostFunc) (Ref, error)

	// Release frees the engine object.
	Release(kind Kind, ref Ref)

	// Operate runs a synchronous operation and returns its JSON result.
	Operate(ref Ref, op string, args []byte) ([]byte, error)

	// OperateAsync starts an operation and invokes cb exactly once, possibly
	// before OperateAsync returns and possibly on another goroutine.
	OperateAsync(ref Ref, op string, args []byte, token Token, cb Callback)

	// PrepareShutdown stops scheduling new work and flushes buffered state,
	// then invokes cb exactly once.
	PrepareShutdown(ref Ref, token Token, cb Callback)

	// FinalizeShutdown tears the object's engine-side state down. It is
	// called once, after the PrepareShutdown callback fired.
	FinalizeShutdown(ref Ref)
}
