// Package sqlite provides a SQLite implementation of storage.CodeStore.
//
// It uses the pure Go modernc.org/sqlite driver, so no cgo toolchain is
// needed. The schema is managed by goose migrations embedded in the binary
// and applied when the store is opened.
//
// The store suits single-node deployments that must keep issued codes across
// restarts. Use storage/valkey when several replicas share codes.
//
// Usage:
//
//	store, err := sqlite.New(ctx, sqlite.Config{Path: "/var/lib/oauth2u/codes.db"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package sqlite
