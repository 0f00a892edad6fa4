// Package health provides composable probes and the HTTP handlers that
// serve them on /-/healthy and /-/ready.
//
// Probes combine with [All] (AND), [Any] (OR) and [Fixed] (static). [Ping]
// wraps anything with a PingContext method, such as the tool store.
//
// [ShutdownGate] fails readiness as soon as draining starts so load
// balancers stop routing before in-flight requests finish.
package health
