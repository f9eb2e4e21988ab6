// Package relay implements the connection registry and broadcast fan-out.
//
// Every accepted connection runs its own Serve lifecycle: register, receive, broadcast, deregister.
// The Registry is the only shared mutable state; broadcasts iterate a copied snapshot so
// delivery never holds the registry lock. Each Conn has a single writer goroutine, which
// keeps per-recipient FIFO and isolates slow clients from each other.
package relay
