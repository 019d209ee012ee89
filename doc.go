// Package flagcore is the boundary layer between Go and an external
// feature-flag evaluation engine.
//
// The engine owns every long-lived object (clients, users, options, host
// adapters). Go holds opaque references to them and must release each one
// exactly once, either explicitly or after the garbage collector finds the
// owning facade unreachable.
//
// # Architecture Overview
//
//	flagcore/            Root package with the Boundary interface and ref types
//	├── handle/          Live/Released handle with at-most-once native release
//	├── cleaner/         GC-triggered cleanup queue drained by a worker goroutine
//	├── bridge/          One-shot callback tokens completing futures
//	├── shutdown/        Sequenced prepare/finalize shutdown controller
//	├── client/          Client, User, Options and host adapter facades
//	├── local/           In-process engine serving static specs
//	├── engine/          wazero-hosted engine compiled to WebAssembly
//	├── adapters/        Redis data store and Postgres sticky storage
//	├── config/          Settings from env, .env and YAML files
//	├── errors/          Structured error types
//	└── cmd/flagcore     CLI and interactive explorer
//
// # Quick Start
//
//	b := local.New(local.Config{Specs: specs})
//	defer b.Close()
//
//	c, err := client.New(b, "secret-key", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := c.Initialize().Await(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	user := client.NewUserBuilder().WithUserID("a-user").Build()
//	on, _ := c.CheckGate(user, "new_checkout")
//
//	_, _ = c.Shutdown().Await(ctx)
//
// # Release Guarantees
//
// Every facade registers a cleanup task with the process-wide cleaner at
// construction. Close runs the task immediately; otherwise the task runs on
// the cleaner goroutine once the facade is collected. Either way the native
// release happens once.
//
// # Async Operations
//
// Operations the engine completes later (Initialize, FlushEvents, Shutdown)
// return a *bridge.Future. A future is never completed on the stack of the
// call that issued it.
package flagcore
