// Package httputil provides the JSON response helpers shared by the
// telemetry handlers so every endpoint emits the same envelope.
package httputil
