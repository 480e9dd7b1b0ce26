// Package pool owns live, reusable SMTP connections.
//
// A Manager is created once per process and keyed by Endpoint.Key(), which
// folds host, port, principal, a credential fingerprint and TLS mode so two
// accounts never share a connection. Each key maps to one Transport that
// bounds concurrent connections, rotates a connection after a fixed number
// of messages and paces sends with a token bucket. Any transport failure
// closes the connection and evicts the Transport; the next Acquire rebuilds.
// Idle transports are closed by EvictIdle, driven by Run on an injected Clock.
package pool
