// Package service is the matching and risk engine: it validates orders,
// matches them against per-market books, keeps isolated-margin positions and
// account collateral consistent, liquidates under-margined positions and
// mirrors every committed position change to the on-chain ledger.
//
// It is decoupled from transports; gRPC, REST and WebSocket adapters call
// into Engine and relay its events.
package service
