// Package engine hosts an evaluation engine compiled to WebAssembly.
//
// WazeroEngine loads a core wasm module with wazero and implements
// flagcore.Boundary by calling into it. The guest ABI is plain integers and
// byte buffers in guest memory:
//
//	Guest exports
//	─────────────────────────────────────────────────────────────────────
//	memory
//	fc_alloc(size i32) -> ptr i32
//	fc_free(ptr i32, size i32)
//	fc_create(kind i32, cfg_ptr i32, cfg_len i32) -> ref i64
//	fc_create_host(kind i32, host i32) -> ref i64
//	fc_release(ref i64)
//	fc_operate(ref i64, op_ptr, op_len, args_ptr, args_len i32) -> buf i64
//	fc_operate_async(ref i64, op_ptr, op_len, args_ptr, args_len i32, token i64)
//	fc_prepare_shutdown(ref i64, token i64)
//	fc_finalize_shutdown(ref i64)
//	fc_poll() -> pending i32                                     (optional)
//
//	Host imports (module "env")
//	─────────────────────────────────────────────────────────────────────
//	fc_complete(token i64, ptr i32, len i32)
//	fc_host_call(host i32, method_ptr, method_len, args_ptr, args_len i32) -> buf i64
//	fc_log(level i32, ptr i32, len i32)
//
// A buf packs a pointer in the high 32 bits and a length in the low 32.
// Its content is an envelope: one status byte (0 ok, 1 error) followed by
// the JSON payload or the error message. A zero length is an empty success.
// Buffers returned from fc_operate are freed by the host; buffers passed to
// imports stay owned by the guest.
//
// References carry their kind in the high 32 bits. The host rejects a
// reference whose kind differs from the one requested.
//
// # Concurrency
//
// Guest calls are serialized. Async completions reported through
// fc_complete are queued and delivered after the guest call returns. While
// operations are outstanding the host calls fc_poll every PollInterval so
// the guest can finish deferred work.
package engine
