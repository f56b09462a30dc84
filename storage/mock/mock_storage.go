// Package mock provides a mock storage.CodeStore for testing.
//
// Every method is backed by a replaceable function field. The defaults
// delegate to an in-memory store, so tests only override the operations whose
// behaviour they want to change, typically to inject a storage fault:
//
//	store := mock.NewMockCodeStore()
//	defer store.Stop()
//	store.SaveNewAuthorizationCodeFunc = func(context.Context, *storage.AuthorizationCode) error {
//		return errors.New("connection refused")
//	}
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oauth2u/storage"
	"github.com/giantswarm/oauth2u/storage/memory"
)

// MockCodeStore is a mock implementation of storage.CodeStore for testing
type MockCodeStore struct {
	mu         sync.Mutex
	callCounts map[string]int
	backing    *memory.Store

	FindClientFunc                        func(ctx context.Context, clientID string) (*storage.Client, error)
	SaveNewAuthorizationCodeFunc          func(ctx context.Context, code *storage.AuthorizationCode) error
	ClientAuthorizationCodesCountFunc     func(ctx context.Context, clientID string) (int, error)
	ClientHasAuthorizationCodeFunc        func(ctx context.Context, clientID, code string) (bool, error)
	IsClientAuthorizationCodeUsedFunc     func(ctx context.Context, clientID, code string) (bool, error)
	MarkClientAuthorizationCodeAsUsedFunc func(ctx context.Context, clientID, code string) error
	GetRedirectURIFunc                    func(ctx context.Context, clientID, code string) (string, error)
	GetStateFunc                          func(ctx context.Context, clientID, code string) (string, error)
	AtomicCheckAndMarkAuthCodeUsedFunc    func(ctx context.Context, clientID, code string) (*storage.AuthorizationCode, error)
}

// Compile-time interface check
var _ storage.CodeStore = (*MockCodeStore)(nil)

// NewMockCodeStore creates a new mock code store backed by an in-memory store
func NewMockCodeStore() *MockCodeStore {
	backing := memory.New()

	return &MockCodeStore{
		callCounts: make(map[string]int),
		backing:    backing,

		FindClientFunc:                        backing.FindClient,
		SaveNewAuthorizationCodeFunc:          backing.SaveNewAuthorizationCode,
		ClientAuthorizationCodesCountFunc:     backing.ClientAuthorizationCodesCount,
		ClientHasAuthorizationCodeFunc:        backing.ClientHasAuthorizationCode,
		IsClientAuthorizationCodeUsedFunc:     backing.IsClientAuthorizationCodeUsed,
		MarkClientAuthorizationCodeAsUsedFunc: backing.MarkClientAuthorizationCodeAsUsed,
		GetRedirectURIFunc:                    backing.GetRedirectURI,
		GetStateFunc:                          backing.GetState,
		AtomicCheckAndMarkAuthCodeUsedFunc:    backing.AtomicCheckAndMarkAuthCodeUsed,
	}
}

// Stop stops the backing store's cleanup goroutine
func (m *MockCodeStore) Stop() {
	m.backing.Stop()
}

// CallCount returns how many times the named method was called
func (m *MockCodeStore) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

func (m *MockCodeStore) record(method string) {
	m.mu.Lock()
	m.callCounts[method]++
	m.mu.Unlock()
}

// FindClient calls FindClientFunc
func (m *MockCodeStore) FindClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.record("FindClient")
	return m.FindClientFunc(ctx, clientID)
}

// SaveNewAuthorizationCode calls SaveNewAuthorizationCodeFunc
func (m *MockCodeStore) SaveNewAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	m.record("SaveNewAuthorizationCode")
	return m.SaveNewAuthorizationCodeFunc(ctx, code)
}

// ClientAuthorizationCodesCount calls ClientAuthorizationCodesCountFunc
func (m *MockCodeStore) ClientAuthorizationCodesCount(ctx context.Context, clientID string) (int, error) {
	m.record("ClientAuthorizationCodesCount")
	return m.ClientAuthorizationCodesCountFunc(ctx, clientID)
}

// ClientHasAuthorizationCode calls ClientHasAuthorizationCodeFunc
func (m *MockCodeStore) ClientHasAuthorizationCode(ctx context.Context, clientID, code string) (bool, error) {
	m.record("ClientHasAuthorizationCode")
	return m.ClientHasAuthorizationCodeFunc(ctx, clientID, code)
}

// IsClientAuthorizationCodeUsed calls IsClientAuthorizationCodeUsedFunc
func (m *MockCodeStore) IsClientAuthorizationCodeUsed(ctx context.Context, clientID, code string) (bool, error) {
	m.record("IsClientAuthorizationCodeUsed")
	return m.IsClientAuthorizationCodeUsedFunc(ctx, clientID, code)
}

// MarkClientAuthorizationCodeAsUsed calls MarkClientAuthorizationCodeAsUsedFunc
func (m *MockCodeStore) MarkClientAuthorizationCodeAsUsed(ctx context.Context, clientID, code string) error {
	m.record("MarkClientAuthorizationCodeAsUsed")
	return m.MarkClientAuthorizationCodeAsUsedFunc(ctx, clientID, code)
}

// GetRedirectURI calls GetRedirectURIFunc
func (m *MockCodeStore) GetRedirectURI(ctx context.Context, clientID, code string) (string, error) {
	m.record("GetRedirectURI")
	return m.GetRedirectURIFunc(ctx, clientID, code)
}

// GetState calls GetStateFunc
func (m *MockCodeStore) GetState(ctx context.Context, clientID, code string) (string, error) {
	m.record("GetState")
	return m.GetStateFunc(ctx, clientID, code)
}

// AtomicCheckAndMarkAuthCodeUsed calls AtomicCheckAndMarkAuthCodeUsedFunc
func (m *MockCodeStore) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, clientID, code string) (*storage.AuthorizationCode, error) {
	m.record("AtomicCheckAndMarkAuthCodeUsed")
	return m.AtomicCheckAndMarkAuthCodeUsedFunc(ctx, clientID, code)
}
