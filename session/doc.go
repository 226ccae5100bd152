// Package session provides SessionStore implementations: an in-memory store
// for tests and ephemeral deployments, and a SQLite-backed store that
// survives restarts.
package session
