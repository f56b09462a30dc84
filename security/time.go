package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the grace period applied when purging
	// expired records. A record is only treated as expired once it has been
	// past its expiry for longer than this period, which absorbs NTP drift
	// between replicas sharing a store.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsExpired checks if an expiry time has passed, with the default clock skew grace period
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks if an expiry time has passed with a custom grace period.
// A zero expiry never expires.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}

	return time.Now().After(expiresAt.Add(gracePeriod))
}

// ExpiryCutoff returns the instant before which expiry times are considered
// passed under the default grace period. Stores that purge with a query use it.
func ExpiryCutoff() time.Time {
	return time.Now().Add(-DefaultClockSkewGracePeriod)
}
