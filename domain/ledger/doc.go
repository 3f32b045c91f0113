// Package ledger holds trader collateral and the isolated-margin position math.
//
// Accounts are shared across markets and serialized per trader. Positions are
// plain values owned by the market worker that trades them; the functions in
// this package never retain them.
package ledger
