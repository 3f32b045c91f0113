// Package market holds the static table of tradable perpetual markets and
// their risk constants. The registry is loaded once at startup and never
// mutated afterwards, so it is safe for concurrent reads without locking.
package market
