// Package memory holds small bounded containers owned by a single goroutine.
//
// Recent remembers the last N keys written, such as the ids of orders that
// left the book fully filled, without growing with the process lifetime.
package memory
