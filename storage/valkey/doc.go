// Package valkey provides a Valkey implementation of storage.CodeStore.
//
// Valkey is wire-compatible with Redis. Use this backend when several server
// replicas must share issued codes, or when codes must survive restarts.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth2u:"). Client IDs and codes
// are query-escaped inside keys:
//
//	{prefix}client:{clientID}        -> JSON(client record)
//	{prefix}codes:{clientID}         -> SET of codes issued to the client
//	{prefix}code:{clientID}:{code}   -> JSON(AuthorizationCode), with TTL
//
// Code keys expire one retention period after the code itself, so an exchange
// shortly after expiry reports "expired" rather than "not found".
//
// # Atomic Operations
//
// Saving a code and consuming it run as Lua scripts. Only one concurrent
// exchange can consume a code; the others see it as already used.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "oauth2u:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
package valkey
