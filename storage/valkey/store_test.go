package valkey

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/oauth2u/storage"
	"github.com/giantswarm/oauth2u/storage/storagetest"
)

// testStore creates a test store connected to a local Valkey instance.
// Tests will be skipped if the connection fails. Each test gets a unique
// prefix to ensure isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	prefix := fmt.Sprintf("oauth2utest:%s:", t.Name())

	store, err := New(Config{
		Address:   addr,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Skipf("Skipping test: could not connect to Valkey at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		cleanupTestKeys(t, store)
		store.Close()
	})

	cleanupTestKeys(t, store)
	return store
}

// cleanupTestKeys removes all test keys from Valkey
func cleanupTestKeys(t *testing.T, s *Store) {
	t.Helper()

	ctx := context.Background()
	pattern := s.prefix + "*"

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			t.Logf("Warning: failed to scan for cleanup: %v", err)
			return
		}

		for _, key := range result.Elements {
			_ = s.client.Do(ctx, s.client.B().Del().Key(key).Build())
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}
}

func TestStore_Conformance(t *testing.T) {
	storagetest.RunCodeStoreTests(t, func(t *testing.T) storage.CodeStore {
		return testStore(t)
	})
}

func TestNew_RequiresAddress(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without address should fail")
	}
}

func TestStore_CodeKeysDoNotCollide(t *testing.T) {
	s := &Store{prefix: "p:"}

	if a, b := s.codeKey("a:b", "c"), s.codeKey("a", "b:c"); a == b {
		t.Errorf("codeKey collision: %q", a)
	}
	if got := s.codeKey("client", "123-abc"); got != "p:code:client:123-abc" {
		t.Errorf("codeKey() = %q", got)
	}
	if !strings.HasPrefix(s.codeKey("client", "x"), s.codeKeyPrefix("client")) {
		t.Error("codeKey must start with codeKeyPrefix")
	}
}

func TestStore_CodeTTLMillis(t *testing.T) {
	s := &Store{expiredRetention: time.Minute}

	tests := []struct {
		name      string
		expiresAt time.Time
		wantMin   int64
		wantMax   int64
	}{
		{"no expiry", time.Time{}, 0, 0},
		{"future", time.Now().Add(10 * time.Minute), (11*time.Minute - time.Second).Milliseconds(), (11 * time.Minute).Milliseconds()},
		{"long expired", time.Now().Add(-time.Hour), 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.codeTTLMillis(tt.expiresAt)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("codeTTLMillis() = %d, want in [%d, %d]", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestAuthorizationCodeJSON_RoundTrip(t *testing.T) {
	now := time.UnixMilli(time.Now().UnixMilli())
	code := &storage.AuthorizationCode{
		Code:        "123-abc",
		ClientID:    "client-1",
		State:       "xyz",
		RedirectURI: "http://callback",
		CreatedAt:   now,
		Used:        true,
	}

	got := fromAuthorizationCodeJSON(toAuthorizationCodeJSON(code))
	if !got.ExpiresAt.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero", got.ExpiresAt)
	}
	if !got.CreatedAt.Equal(now) || !got.Used || got.State != "xyz" {
		t.Errorf("round trip = %+v", got)
	}
}

func TestStore_ValidatesLengths(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	long := strings.Repeat("x", MaxCodeLength+1)
	if err := store.SaveNewAuthorizationCode(ctx, storagetest.NewCode("client-1", long)); err == nil {
		t.Error("oversized code should be rejected")
	}
	if _, err := store.FindClient(ctx, strings.Repeat("c", MaxIDLength+1)); err == nil {
		t.Error("oversized client id should be rejected")
	}
}

func TestStore_ExpiredCodeReportedAsExpired(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	code := storagetest.NewCode("client-1", "123-abc")
	code.ExpiresAt = time.Now().Add(-time.Second)
	storagetest.MustSave(t, store, code)

	_, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, "client-1", "123-abc")
	if !errors.Is(err, storage.ErrAuthorizationCodeExpired) {
		t.Errorf("AtomicCheckAndMarkAuthCodeUsed() error = %v, want ErrAuthorizationCodeExpired", err)
	}
}

func TestStore_CountDropsExpiredKeys(t *testing.T) {
	store := testStore(t)
	store.expiredRetention = time.Millisecond
	ctx := context.Background()

	short := storagetest.NewCode("client-1", "short")
	short.ExpiresAt = time.Now().Add(50 * time.Millisecond)
	storagetest.MustSave(t, store, short)
	storagetest.MustSave(t, store, storagetest.NewCode("client-1", "long"))

	time.Sleep(200 * time.Millisecond)

	count, err := store.ClientAuthorizationCodesCount(ctx, "client-1")
	if err != nil {
		t.Fatalf("ClientAuthorizationCodesCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("ClientAuthorizationCodesCount() = %d, want 1", count)
	}
}
