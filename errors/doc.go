// Package errors provides structured error types for flagcore.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the engine operation, the reference it
// targeted, a detail message and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindNativeCall).
//		Op("check_gate").
//		Ref(uint64(ref)).
//		Detail("engine returned %d", code).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UseAfterRelease(errors.PhaseCall, "client")
//	err := errors.NativeCall("get_layer", cause)
//
// Sentinels leave the phase empty and match errors of their kind in any
// phase:
//
//	if errors.Is(err, errors.ErrUseAfterRelease) { ... }
package errors
