// Package storage provides the interface and shared types for authorization code persistence.
//
// The storage package defines the CodeStore interface used by the server package:
// codes are saved when an authorization request succeeds and consumed exactly
// once by the token exchange.
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development, testing and single instances
//   - storage/sqlite: SQLite storage for single-node durable deployments
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
//   - storage/storagetest: Conformance tests shared by all implementations
package storage
