package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/giantswarm/oauth2u/internal/util"
	"github.com/giantswarm/oauth2u/storage"
)

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================
//
// Scripts touch the code key, the client record and the client's index set
// together, so concurrent requests never observe a half-written code.

// luaSaveCode stores a new code if the (client, code) pair is unused.
//
// KEYS[1] = code key
// KEYS[2] = client key
// KEYS[3] = client code index key
// ARGV[1] = code JSON
// ARGV[2] = TTL in milliseconds, 0 for none
// ARGV[3] = client JSON, written only if the client is new
// ARGV[4] = index member for the code
//
// Returns "OK" or "EXISTS".
const luaSaveCode = `
local ok
local ttl = tonumber(ARGV[2])
if ttl > 0 then
    ok = redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ttl)
else
    ok = redis.call('SET', KEYS[1], ARGV[1], 'NX')
end
if not ok then
    return 'EXISTS'
end

redis.call('SET', KEYS[2], ARGV[3], 'NX')
redis.call('SADD', KEYS[3], ARGV[4])
return 'OK'
`

// luaConsumeCode checks that a code is unused and unexpired and marks it used.
// Only one concurrent caller can see the unused record.
//
// KEYS[1] = code key
// ARGV[1] = current Unix time in milliseconds
//
// Returns:
//   - the updated JSON (used = true) on success
//   - "NOT_FOUND" if the key does not exist
//   - "EXPIRED" if ARGV[1] > code.expires_at
//   - "ALREADY_USED:<json>" if the code was already used
const luaConsumeCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and expiresAt > 0 and now > expiresAt then
    return 'EXPIRED'
end

if code.used then
    return 'ALREADY_USED:' .. data
end

code.used = true
local updated = cjson.encode(code)
redis.call('SET', KEYS[1], updated, 'KEEPTTL')

return updated
`

// luaMarkCodeUsed flags a code as used without any expiry check.
//
// KEYS[1] = code key
//
// Returns "OK" or "NOT_FOUND".
const luaMarkCodeUsed = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)
if not code.used then
    code.used = true
    redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')
end
return 'OK'
`

// luaCountCodes drops index members whose code key has expired and returns
// the remaining count.
//
// KEYS[1] = client code index key
// ARGV[1] = code key prefix for the client
const luaCountCodes = `
local members = redis.call('SMEMBERS', KEYS[1])
for _, m in ipairs(members) do
    if redis.call('EXISTS', ARGV[1] .. m) == 0 then
        redis.call('SREM', KEYS[1], m)
    end
end
return redis.call('SCARD', KEYS[1])
`

// FindClient returns the client record created by its first saved code.
func (s *Store) FindClient(ctx context.Context, clientID string) (*storage.Client, error) {
	if err := validateStringLength(clientID, MaxIDLength, "client_id"); err != nil {
		return nil, err
	}

	return getAndUnmarshal(ctx, s, s.clientKey(clientID), storage.ErrClientNotFound,
		func(j *clientJSON) *storage.Client {
			return &storage.Client{
				ClientID:  j.ClientID,
				CreatedAt: time.UnixMilli(j.CreatedAt),
			}
		})
}

// SaveNewAuthorizationCode stores a new code, creating its client on first use.
func (s *Store) SaveNewAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if err = code.Validate(); err != nil {
		return err
	}
	if err = validateKeyParts(code.ClientID, code.Code); err != nil {
		return err
	}

	stored := *code
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.Used = false

	codeData, err := json.Marshal(toAuthorizationCodeJSON(&stored))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}
	clientData, err := json.Marshal(clientJSON{
		ClientID:  code.ClientID,
		CreatedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaSaveCode).
			Numkeys(3).
			Key(s.codeKey(code.ClientID, code.Code), s.clientKey(code.ClientID), s.clientCodesKey(code.ClientID)).
			Arg(string(codeData),
				strconv.FormatInt(s.codeTTLMillis(code.ExpiresAt), 10),
				string(clientData),
				codeMember(code.Code)).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	switch result {
	case "OK":
	case "EXISTS":
		err = storage.ErrAuthorizationCodeExists
		return err
	default:
		err = fmt.Errorf("%w: %q", errUnexpectedScriptResult, result)
		return err
	}

	s.logger.Debug("Saved authorization code",
		"client_id", code.ClientID,
		"code_prefix", util.SafeTruncate(code.Code, codeLogLength))
	return nil
}

// ClientAuthorizationCodesCount returns the number of live codes held for a client.
func (s *Store) ClientAuthorizationCodesCount(ctx context.Context, clientID string) (int, error) {
	if err := validateStringLength(clientID, MaxIDLength, "client_id"); err != nil {
		return 0, err
	}

	n, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaCountCodes).
			Numkeys(1).
			Key(s.clientCodesKey(clientID)).
			Arg(s.codeKeyPrefix(clientID)).
			Build(),
	).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to count authorization codes: %w", err)
	}
	return int(n), nil
}

// ClientHasAuthorizationCode reports whether the client owns the code.
func (s *Store) ClientHasAuthorizationCode(ctx context.Context, clientID, code string) (bool, error) {
	if err := validateKeyParts(clientID, code); err != nil {
		return false, err
	}

	n, err := s.client.Do(ctx,
		s.client.B().Exists().Key(s.codeKey(clientID, code)).Build(),
	).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to check authorization code: %w", err)
	}
	return n == 1, nil
}

// IsClientAuthorizationCodeUsed reports whether the code was already consumed.
func (s *Store) IsClientAuthorizationCodeUsed(ctx context.Context, clientID, code string) (bool, error) {
	authCode, err := s.getCode(ctx, clientID, code)
	if err != nil {
		return false, err
	}
	return authCode.Used, nil
}

// MarkClientAuthorizationCodeAsUsed flags the code as consumed. Idempotent.
func (s *Store) MarkClientAuthorizationCodeAsUsed(ctx context.Context, clientID, code string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "mark_authorization_code_used")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "mark_authorization_code_used", err, startTime)
	}()

	if err = validateKeyParts(clientID, code); err != nil {
		return err
	}

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaMarkCodeUsed).
			Numkeys(1).
			Key(s.codeKey(clientID, code)).
			Build(),
	).ToString()
	if err != nil {
		return fmt.Errorf("failed to mark authorization code used: %w", err)
	}

	switch result {
	case "OK":
		return nil
	case "NOT_FOUND":
		err = storage.ErrAuthorizationCodeNotFound
		return err
	}
	err = fmt.Errorf("%w: %q", errUnexpectedScriptResult, result)
	return err
}

// GetRedirectURI returns the redirect URI bound to the code.
func (s *Store) GetRedirectURI(ctx context.Context, clientID, code string) (string, error) {
	authCode, err := s.getCode(ctx, clientID, code)
	if err != nil {
		return "", err
	}
	return authCode.RedirectURI, nil
}

// GetState returns the client state recorded with the code.
func (s *Store) GetState(ctx context.Context, clientID, code string) (string, error) {
	authCode, err := s.getCode(ctx, clientID, code)
	if err != nil {
		return "", err
	}
	return authCode.State, nil
}

// AtomicCheckAndMarkAuthCodeUsed atomically checks that a code is unused and
// unexpired and marks it as used.
//
// The record is returned together with ErrAuthorizationCodeUsed on reuse so
// callers can audit it. Other errors return nil.
func (s *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, clientID, code string) (result *storage.AuthorizationCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	if err = validateKeyParts(clientID, code); err != nil {
		return nil, err
	}

	reply, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeCode).
			Numkeys(1).
			Key(s.codeKey(clientID, code)).
			Arg(nowMillis()).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code check: %w", err)
	}

	switch {
	case reply == "NOT_FOUND":
		err = storage.ErrAuthorizationCodeNotFound
		return nil, err
	case reply == "EXPIRED":
		err = storage.ErrAuthorizationCodeExpired
		return nil, err
	case strings.HasPrefix(reply, "ALREADY_USED:"):
		authCode, decodeErr := decodeAuthorizationCode(strings.TrimPrefix(reply, "ALREADY_USED:"))
		if decodeErr != nil {
			err = fmt.Errorf("%w: failed to parse reused code", storage.ErrAuthorizationCodeUsed)
			return nil, err
		}
		err = storage.ErrAuthorizationCodeUsed
		return authCode, err
	}

	authCode, err := decodeAuthorizationCode(reply)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Marked authorization code as used",
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(code, codeLogLength))

	return authCode, nil
}

// getCode loads a code record without modifying it.
func (s *Store) getCode(ctx context.Context, clientID, code string) (*storage.AuthorizationCode, error) {
	if err := validateKeyParts(clientID, code); err != nil {
		return nil, err
	}

	return getAndUnmarshal(ctx, s, s.codeKey(clientID, code), storage.ErrAuthorizationCodeNotFound,
		fromAuthorizationCodeJSON)
}
