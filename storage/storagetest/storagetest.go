// Package storagetest provides a conformance suite for storage.CodeStore
// implementations. Every backend runs it from its own tests:
//
//	func TestStore_Conformance(t *testing.T) {
//		storagetest.RunCodeStoreTests(t, func(t *testing.T) storage.CodeStore {
//			return newTestStore(t)
//		})
//	}
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/oauth2u/storage"
)

// NewStoreFunc returns a fresh, empty store. Cleanup belongs in t.Cleanup.
type NewStoreFunc func(t *testing.T) storage.CodeStore

// NewCode returns an unused code record for clientID expiring in ten minutes.
func NewCode(clientID, code string) *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:        code,
		ClientID:    clientID,
		State:       "state-" + code,
		RedirectURI: "http://callback/" + clientID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

// MustSave saves code or fails the test.
func MustSave(t *testing.T, store storage.CodeStore, code *storage.AuthorizationCode) {
	t.Helper()
	if err := store.SaveNewAuthorizationCode(context.Background(), code); err != nil {
		t.Fatalf("SaveNewAuthorizationCode(%s/%s) error = %v", code.ClientID, code.Code, err)
	}
}

// RunCodeStoreTests runs the full conformance suite against newStore.
func RunCodeStoreTests(t *testing.T, newStore NewStoreFunc) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store storage.CodeStore)
	}{
		{"FindClientNotFound", testFindClientNotFound},
		{"SaveCreatesClient", testSaveCreatesClient},
		{"SaveRejectsDuplicate", testSaveRejectsDuplicate},
		{"SaveRejectsInvalid", testSaveRejectsInvalid},
		{"SameCodeDifferentClients", testSameCodeDifferentClients},
		{"CodesCount", testCodesCount},
		{"HasAuthorizationCode", testHasAuthorizationCode},
		{"IsUsedAndMarkAsUsed", testIsUsedAndMarkAsUsed},
		{"MarkAsUsedNotFound", testMarkAsUsedNotFound},
		{"GetRedirectURIAndState", testGetRedirectURIAndState},
		{"AtomicConsume", testAtomicConsume},
		{"AtomicConsumeNotFound", testAtomicConsumeNotFound},
		{"AtomicConsumeExpired", testAtomicConsumeExpired},
		{"AtomicConsumeNoExpiry", testAtomicConsumeNoExpiry},
		{"AtomicConsumeConcurrent", testAtomicConsumeConcurrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func testFindClientNotFound(t *testing.T, store storage.CodeStore) {
	_, err := store.FindClient(context.Background(), "unknown")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("FindClient() error = %v, want ErrClientNotFound", err)
	}
}

func testSaveCreatesClient(t *testing.T, store storage.CodeStore) {
	ctx := context.Background()
	MustSave(t, store, NewCode("client-1", "123-abc"))

	client, err := store.FindClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("FindClient() error = %v", err)
	}
	if client.ClientID != "client-1" {
		t.Errorf("ClientID = %q, want %q", client.ClientID, "client-1")
	}

	// A second code reuses the client
	MustSave(t, store, NewCode("client-1", "456-def"))
	again, err := store.FindClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("FindClient() error = %v", err)
	}
	if !again.CreatedAt.Equal(client.CreatedAt) {
		t.Errorf("CreatedAt changed from %v to %v", client.CreatedAt, again.CreatedAt)
	}
}

func testSaveRejectsDuplicate(t *testing.T, store storage.CodeStore) {
	ctx := context.Background()
	MustSave(t, store, NewCode("client-1", "123-abc"))

	dup := NewCode("client-1", "123-abc")
	dup.State = "other-state"
	dup.RedirectURI = "http://evil"

	err := store.SaveNewAuthorizationCode(ctx, dup)
	if !errors.Is(err, storage.ErrAuthorizationCodeExists) {
		t.Fatalf("SaveNewAuthorizationCode() error = %v, want ErrAuthorizationCodeExists", err)
	}

	// The original record is untouched
	state, err := store.GetState(ctx, "client-1", "123-abc")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state != "state-123-abc" {
		t.Errorf("GetState() = %q, want original state", state)
	}
	redirectURI, err := store.GetRedirectURI(ctx, "client-1", "123-abc")
	if err != nil {
		t.Fatalf("GetRedirectURI() error = %v", err)
	}
	if redirectURI != "http://callback/client-1" {
		t.Errorf("GetRedirectURI() = %q, want original redirect URI", redirectURI)
	}
}

func testSaveRejectsInvalid(t *testing.T, store storage.CodeStore) {
	ctx := context.Background()

	if err := store.SaveNewAuthorizationCode(ctx, NewCode("client-1", "")); err == nil {
		t.Error("SaveNewAuthorizationCode() with empty code should fail")
	}
	if err := store.SaveNewAuthorizationCode(ctx, NewCode("", "123-abc")); err == nil {
		t.Error("SaveNewAuthorizationCode() with empty client id should fail")
	}
	if _, err := store.FindClient(ctx, ""); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("FindClient(\"\") error = %v, want ErrClientNotFound", err)
	}
}

func testSameCodeDifferentClients(t *testing.T, store storage.CodeStore) {
	ctx := context.Background()
	MustSave(t, store, NewCode("client-a", "123-abc"))

	has, err := store.ClientHasAuthorizationCode(ctx, "client-b", "123-abc")
	if err != nil {
		t.Fatalf("ClientHasAuthorizationCode() error = %v", err)
	}
	if has {
		t.Error("client-b must not see client-a's code")
	}

	// The same code value may be issued to another client
	MustSave(t, store, NewCode("client-b", "123-abc"))

	if _, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, "client-a", "123-abc"); err != nil {
		t.Fatalf("AtomicCheckAndMarkAuthCodeUsed(client-a) error = %v", err)
	}
	used, err := store.IsClientAuthorizationCodeUsed(ctx, "client-b", "123-abc")
	if err != nil {
		t.Fatalf("IsClientAuthorizationCodeUsed(client-b) error = %v", err)
	}
	if used {
		t.Error("consuming client-a's code must not consume client-b's")
	}
}

func testCodesCount(t *testing.T, store storage.CodeStore) {
	ctx := context.Background()

	count, err := store.ClientAuthorizationCodesCount(ctx, "client-1")
	if err != nil {
		t.Fatalf("ClientAuthorizationCodesCount() error = %v", err)
	}
	if count != 0 {
		t.Errorf("count for unknown client = %d, want 0", count)
	}

	for i := 0; i < 3; i++ {
		MustSave(t, store, NewCode("client-1", fmt.Sprintf("code-%d", i)))
	}
	MustSave(t, store, NewCode("client-2", "code-0"))

	// Used codes still count
	if err := store.MarkClientAuthorizationCodeAsUsed(ctx, "client-1", "code-0"); err != nil {
		t.Fatalf("MarkClientAuthorizationCodeAsUsed() error = %v", err)
	}

	count, err = store.ClientAuthorizationCodesCount(ctx, "client-1")
	if err != nil {
		t.Fatalf("ClientAuthorizationCodesCount() error = %v", err)
	}
	if count != 3 {
		t.Errorf("ClientAuthorizationCodesCount() = %d, want 3", count)
	}
}

func testHasAuthorizationCode(t *testing.T, store storage.CodeStore) {
	ctx := context.Background()

	has, err := store.ClientHasAuthorizationCode(ctx, "client-1", "123-abc")
	if err != nil {
		t.Fatalf("ClientHasAuthorizationCode() error = %v", err)
	}
	if has {
		t.Error("ClientHasAuthorizationCode() = true before save")
	}

	MustSave(t, store, NewCode("client-1", "123-abc"))

	has, err = store.ClientHasAuthorizationCode(ctx, "client-1", "123-abc")
	if err != nil {
		t.Fatalf("ClientHasAuthorizationCode() error = %v", err)
	}
	if !has {
		t.Error("ClientHasAuthorizationCode() = false after save")
	}
}

func testIsUsedAndMarkAsUsed(t *testing.T, store storage.CodeStore) {
	ctx := context.Background()

	if _, err := store.IsClientAuthorizationCodeUsed(ctx, "client-1", "123-abc"); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("IsClientAuthorizationCodeUsed() on unknown code error = %v, want ErrAuthorizationCodeNotFound", err)
	}

	MustSave(t, store, NewCode("client-1", "123-abc"))

	used, err := store.IsClientAuthorizationCodeUsed(ctx, "client-1", "123-abc")
	if err != nil {
		t.Fatalf("IsClientAuthorizationCodeUsed() error = %v", err)
	}
	if used {
		t.Error("new code must be unused")
	}

	for i := 0; i < 2; i++ { // marking is idempotent
		if err := store.MarkClientAuthorizationCodeAsUsed(ctx, "client-1", "123-abc"); err != nil {
			t.Fatalf("MarkClientAuthorizationCodeAsUsed() #%d error = %v", i+1, err)
		}
	}

	used, err = store.IsClientAuthorizationCodeUsed(ctx, "client-1", "123-abc")
	if err != nil {
		t.Fatalf("IsClientAuthorizationCodeUsed() error = %v", err)
	}
	if !used {
		t.Error("code must be used after MarkClientAuthorizationCodeAsUsed()")
	}
}

func testMarkAsUsedNotFound(t *testing.T, store storage.CodeStore) {
	err := store.MarkClientAuthorizationCodeAsUsed(context.Background(), "client-1", "missing")
	if !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("MarkClientAuthorizationCodeAsUsed() error = %v, want ErrAuthorizationCodeNotFound", err)
	}
}

func testGetRedirectURIAndState(t *testing.T, store storage.CodeStore) {
	ctx := context.Background()

	if _, err := store.GetRedirectURI(ctx, "client-1", "123-abc"); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("GetRedirectURI() on unknown code error = %v, want ErrAuthorizationCodeNotFound", err)
	}
	if _, err := store.GetState(ctx, "client-1", "123-abc"); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("GetState() on unknown code error = %v, want ErrAuthorizationCodeNotFound", err)
	}

	code := NewCode("client-1", "123-abc")
	code.RedirectURI = "http://callback?foo=bar"
	code.State = ""
	MustSave(t, store, code)

	redirectURI, err := store.GetRedirectURI(ctx, "client-1", "123-abc")
	if err != nil {
		t.Fatalf("GetRedirectURI() error = %v", err)
	}
	if redirectURI != "http://callback?foo=bar" {
		t.Errorf("GetRedirectURI() = %q, want %q", redirectURI, "http://callback?foo=bar")
	}

	state, err := store.GetState(ctx, "client-1", "123-abc")
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state != "" {
		t.Errorf("GetState() = %q, want empty", state)
	}
}

func testAtomicConsume(t *testing.T, store storage.CodeStore) {
	ctx := context.Background()
	MustSave(t, store, NewCode("client-1", "123-abc"))

	got, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, "client-1", "123-abc")
	if err != nil {
		t.Fatalf("AtomicCheckAndMarkAuthCodeUsed() error = %v", err)
	}
	if got.Code != "123-abc" || got.ClientID != "client-1" {
		t.Errorf("returned record = %+v", got)
	}
	if got.RedirectURI != "http://callback/client-1" {
		t.Errorf("RedirectURI = %q, want %q", got.RedirectURI, "http://callback/client-1")
	}
	if got.State != "state-123-abc" {
		t.Errorf("State = %q, want %q", got.State, "state-123-abc")
	}
	if !got.Used {
		t.Error("returned record must be marked used")
	}

	// Mutating the returned copy must not affect the store
	got.RedirectURI = "http://changed"
	if uri, _ := store.GetRedirectURI(ctx, "client-1", "123-abc"); uri != "http://callback/client-1" {
		t.Errorf("stored redirect URI changed to %q", uri)
	}

	again, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, "client-1", "123-abc")
	if !errors.Is(err, storage.ErrAuthorizationCodeUsed) {
		t.Fatalf("second AtomicCheckAndMarkAuthCodeUsed() error = %v, want ErrAuthorizationCodeUsed", err)
	}
	if again == nil || again.ClientID != "client-1" {
		t.Errorf("reuse must return the record for auditing, got %+v", again)
	}
}

func testAtomicConsumeNotFound(t *testing.T, store storage.CodeStore) {
	ctx := context.Background()
	MustSave(t, store, NewCode("client-1", "123-abc"))

	tests := []struct {
		name     string
		clientID string
		code     string
	}{
		{"unknown code", "client-1", "missing"},
		{"unknown client", "client-2", "123-abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, tt.clientID, tt.code)
			if !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
				t.Errorf("AtomicCheckAndMarkAuthCodeUsed() error = %v, want ErrAuthorizationCodeNotFound", err)
			}
			if got != nil {
				t.Errorf("AtomicCheckAndMarkAuthCodeUsed() = %+v, want nil", got)
			}
		})
	}
}

func testAtomicConsumeExpired(t *testing.T, store storage.CodeStore) {
	ctx := context.Background()
	code := NewCode("client-1", "123-abc")
	code.CreatedAt = time.Now().Add(-2 * time.Minute)
	code.ExpiresAt = time.Now().Add(-time.Minute)

	// Backends with native TTLs may refuse to persist an already expired
	// record; either way the exchange must fail.
	if err := store.SaveNewAuthorizationCode(ctx, code); err != nil {
		t.Logf("SaveNewAuthorizationCode() of expired code: %v", err)
	}

	_, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, "client-1", "123-abc")
	if !errors.Is(err, storage.ErrAuthorizationCodeExpired) && !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("AtomicCheckAndMarkAuthCodeUsed() error = %v, want ErrAuthorizationCodeExpired", err)
	}
}

func testAtomicConsumeNoExpiry(t *testing.T, store storage.CodeStore) {
	code := NewCode("client-1", "123-abc")
	code.ExpiresAt = time.Time{}
	MustSave(t, store, code)

	if _, err := store.AtomicCheckAndMarkAuthCodeUsed(context.Background(), "client-1", "123-abc"); err != nil {
		t.Errorf("AtomicCheckAndMarkAuthCodeUsed() error = %v, codes without expiry never expire", err)
	}
}

func testAtomicConsumeConcurrent(t *testing.T, store storage.CodeStore) {
	ctx := context.Background()
	MustSave(t, store, NewCode("client-1", "123-abc"))

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		reused    int
		failures  []error
	)

	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, "client-1", "123-abc")

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, storage.ErrAuthorizationCodeUsed):
				reused++
			default:
				failures = append(failures, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Errorf("successful consumes = %d, want exactly 1", successes)
	}
	if reused != attempts-1 {
		t.Errorf("reuse errors = %d, want %d", reused, attempts-1)
	}
	for _, err := range failures {
		t.Errorf("unexpected error: %v", err)
	}
}
