// Package security provides the security layer around the OAuth endpoints:
// audit logging, request IDs, client IP extraction, rate limiting, response
// security headers and expiry helpers.
//
// # Rate Limiting
//
// RateLimiter applies a token bucket (golang.org/x/time/rate) per identifier,
// usually the client IP. Memory is bounded by LRU eviction once MaxEntries
// identifiers are tracked, and idle identifiers are purged periodically.
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // 429 Too Many Requests
//	}
//
// GetStats reports CurrentEntries, TotalEvictions and MemoryPressure for
// monitoring. A rapidly growing TotalEvictions usually means a distributed
// client population or an attack.
//
// # Audit
//
// Auditor writes one "security_audit" record per event with a UUID event id
// and the request id from the context. Authorization codes are never logged,
// only a truncated SHA-256 hash.
package security
