// Package local is an in-process evaluation engine.
//
// It implements flagcore.Boundary without a native library: objects live in
// a reference table, async operations run on goroutines and call back
// exactly once, and values come from a static specs document (bootstrapped
// through options, the engine Config, or a data store host adapter). There is
// no rule evaluation; every user sees the stored value unless a local
// override applies.
//
// Host adapters registered with CreateHost are invoked for specs storage,
// sticky experiment assignments, metrics, event delivery and log output.
package local
