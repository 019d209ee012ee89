// Package client provides the facades applications use: Options, User,
// Client and the host adapters.
//
// Every facade owns one engine object. The object is released exactly once,
// either by Close or by the process-wide cleaner after the facade became
// unreachable. Results are decoded into plain copies, so nothing returned
// by a method keeps an engine object alive.
//
//	opts, _ := client.NewOptionsBuilder().WithEnvironment("staging").Build(b)
//	c, _ := client.New(b, "secret-key", opts)
//	if _, err := c.Initialize().AwaitTimeout(5 * time.Second); err != nil { ... }
//
//	user, _ := client.NewUserBuilder().WithUserID("u1").Build(b)
//	on, err := c.CheckGate(user, "new_checkout")
//
//	_, err = c.Shutdown().Await(ctx)
//
// After Shutdown was requested every operation fails with a shutdown error.
// Close releases the engine client without shutting it down.
package client
