// Package migrations registers every migration with the core registry.
// Import it for its side effect; each file uses init() to register one
// version.
package migrations
