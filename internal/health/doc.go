// Package health holds the liveness and readiness probes and the handlers
// that serve them.
//
// Probes compose with All (every probe must pass) and Any (one is enough).
// ShutdownGate fails readiness the moment shutdown starts so the load
// balancer stops routing new contact submissions while in-flight ones finish.
package health
