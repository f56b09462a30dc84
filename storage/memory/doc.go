// Package memory provides an in-memory implementation of storage.CodeStore.
//
// Codes are kept in per-client maps guarded by a sync.RWMutex. The atomic
// consume takes the write lock, so concurrent exchanges of one code can never
// both succeed. A background goroutine purges expired codes; call Stop to end
// it.
//
// Nothing survives a restart and nothing is shared between replicas. Use
// storage/sqlite for a durable single node or storage/valkey for several
// replicas.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, _ := server.New(store, server.Config{}, logger)
package memory
