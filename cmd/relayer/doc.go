// Package main (cmd/relayer) serves a development confidential engine.
//
// The engine key is derived from a 32-byte seed read from ATHLETE_RELAYER_SEED
// and the configured chain id. Ciphertexts are kept in the store named by
// --store; with the default memory:// store a restart invalidates every handle
// issued before it, with file:///path they survive as long as the seed does.
//
// The server exposes the engine API under /api/v1, health checks, drain
// control and Prometheus metrics on a separate address.
//
// Example usage:
//
//	ATHLETE_RELAYER_SEED=0x0123...cdef relayer --chain-id 31337 \
//	    --listen-addr 0.0.0.0:8080 --metrics-addr 0.0.0.0:8090
package main
