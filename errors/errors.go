package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCreate   Phase = "create"   // native allocation
	PhaseCall     Phase = "call"     // synchronous engine operation
	PhaseAsync    Phase = "async"    // callback-completed operation
	PhaseCleanup  Phase = "cleanup"  // release and cleanup tasks
	PhaseShutdown Phase = "shutdown" // prepare/finalize sequence
	PhaseEncode   Phase = "encode"   // Go to JSON
	PhaseDecode   Phase = "decode"   // JSON to Go
	PhaseConfig   Phase = "config"   // settings and builders
	PhaseHost     Phase = "host"     // host adapter invoked by the engine
	PhaseLoad     Phase = "load"     // module loading
)

// Kind categorizes the error
type Kind string

const (
	KindNativeAllocation Kind = "native_allocation"
	KindUseAfterRelease  Kind = "use_after_release"
	KindNativeCall       Kind = "native_call"
	KindCleanupTask      Kind = "cleanup_task"
	KindShutdown         Kind = "shutdown"
	KindTimeout          Kind = "timeout"
	KindInvalidData      Kind = "invalid_data"
	KindInvalidInput     Kind = "invalid_input"
	KindNotFound         Kind = "not_found"
	KindNotInitialized   Kind = "not_initialized"
	KindUnsupported      Kind = "unsupported"
)

// Sentinels for errors.Is. They match any phase.
var (
	ErrNativeAllocation = &Error{Kind: KindNativeAllocation}
	ErrUseAfterRelease  = &Error{Kind: KindUseAfterRelease}
	ErrNativeCall       = &Error{Kind: KindNativeCall}
	ErrCleanupTask      = &Error{Kind: KindCleanupTask}
	ErrShutdown         = &Error{Kind: KindShutdown}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrNotFound         = &Error{Kind: KindNotFound}
)

// Error is the structured error type used throughout flagcore
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Target string
	Detail string
	Path   []string
	Ref    uint64
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Op != "" || e.Target != "" || e.Ref != 0 {
		b.WriteString(": ")
		var parts []string
		if e.Op != "" {
			parts = append(parts, "op "+e.Op)
		}
		if e.Target != "" {
			parts = append(parts, e.Target)
		}
		if e.Ref != 0 {
			parts = append(parts, fmt.Sprintf("ref %#x", e.Ref))
		}
		b.WriteString(strings.Join(parts, ", "))
	}

	if e.Detail != "" {
		if e.Op != "" || e.Target != "" || e.Ref != 0 {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// Kinds must be equal; phases are compared only when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Phase == "" || e.Phase == t.Phase
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Op sets the engine operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Target sets the object type the operation was aimed at
func (b *Builder) Target(t string) *Builder {
	b.err.Target = t
	return b
}

// Ref sets the engine reference
func (b *Builder) Ref(ref uint64) *Builder {
	b.err.Ref = ref
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NativeAllocation creates an error for a failed engine-side allocation
func NativeAllocation(target string, cause error) *Error {
	return &Error{
		Phase:  PhaseCreate,
		Kind:   KindNativeAllocation,
		Target: target,
		Detail: "engine returned no reference",
		Cause:  cause,
	}
}

// UseAfterRelease creates an error for an operation on a released handle
func UseAfterRelease(phase Phase, target string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUseAfterRelease,
		Target: target,
		Detail: "handle already released",
	}
}

// NativeCall creates an error for a failed engine operation
func NativeCall(op string, cause error) *Error {
	return &Error{
		Phase: PhaseCall,
		Kind:  KindNativeCall,
		Op:    op,
		Cause: cause,
	}
}

// AsyncCall creates an error for a failed callback-completed operation
func AsyncCall(op string, cause error) *Error {
	return &Error{
		Phase: PhaseAsync,
		Kind:  KindNativeCall,
		Op:    op,
		Cause: cause,
	}
}

// CleanupTask creates an error for a failing cleanup task
func CleanupTask(cause error) *Error {
	return &Error{
		Phase:  PhaseCleanup,
		Kind:   KindCleanupTask,
		Detail: "cleanup task failed",
		Cause:  cause,
	}
}

// Shutdown creates an error for work attempted after shutdown was requested
func Shutdown(op string) *Error {
	return &Error{
		Phase:  PhaseShutdown,
		Kind:   KindShutdown,
		Op:     op,
		Detail: "client is shutting down",
	}
}

// Timeout creates a timeout error
func Timeout(phase Phase, op string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTimeout,
		Op:     op,
		Detail: "timed out waiting for completion",
	}
}

// Panic converts a recovered panic value into an error. Panics in cleanup
// are cleanup task failures; anywhere else they count as failed calls.
func Panic(phase Phase, v any) *Error {
	kind := KindNativeCall
	if phase == PhaseCleanup {
		kind = KindCleanupTask
	}
	var cause error
	if err, ok := v.(error); ok {
		cause = err
	} else {
		cause = fmt.Errorf("%v", v)
	}
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: "panic recovered",
		Value:  v,
		Cause:  cause,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Decode creates an error for an engine payload that does not decode
func Decode(op string, cause error) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindInvalidData,
		Op:     op,
		Detail: "malformed engine payload",
		Cause:  cause,
	}
}

// Encode creates an error for arguments that cannot be serialized
func Encode(op string, cause error) *Error {
	return &Error{
		Phase: PhaseEncode,
		Kind:  KindInvalidInput,
		Op:    op,
		Cause: cause,
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Join is errors.Join, re-exported so callers need not import both packages.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// Is is errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is errors.As.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
