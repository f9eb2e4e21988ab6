// Package domain defines the core relay types and interfaces.
//
// Concept-oriented files (message.go, handle.go, broadcast.go, observer.go, bridge.go)
// hold shared types and cross-cutting interfaces. No implementation code - just contracts.
// Adapters depend on this package; it depends on nothing in the module.
package domain
