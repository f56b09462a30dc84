package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2u/instrumentation"
	"github.com/giantswarm/oauth2u/internal/util"
	"github.com/giantswarm/oauth2u/storage"
)

// AuthorizeResult is the outcome of a successful authorization request
type AuthorizeResult struct {
	Code string

	// Location is the redirect target carrying the code
	Location string
}

// TokenResult is the outcome of a successful token request
type TokenResult struct {
	AccessToken string
	ExpiresIn   int64
}

// Authorize validates an authorization request, issues a code bound to the
// client and redirect URI and returns where to redirect the user agent.
func (s *Server) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	ctx, span := s.startSpan(ctx, "oauth.authorize",
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrResponseType, req.ResponseType),
		attribute.Bool(instrumentation.AttrStatePresent, req.State != ""),
	)
	defer span.End()

	if err := ValidateAuthorizeRequest(req); err != nil {
		if req.RedirectURI != "" && validateRedirectURI(req.RedirectURI) != nil {
			s.Auditor.LogInvalidRedirect(ctx, req.ClientID, req.ClientIP, "invalid_redirect_uri")
		}
		return nil, s.flowFailed(span, err)
	}

	code, err := s.issueCode(ctx, req)
	if err != nil {
		return nil, s.flowFailed(span, err)
	}

	s.metrics(func(m *instrumentation.Metrics) { m.RecordAuthorizationCodeIssued(ctx, req.ClientID) })
	s.Auditor.LogAuthorizationCodeIssued(ctx, req.ClientID, req.ClientIP, req.State != "")
	s.Logger.Debug("Issued authorization code",
		"client_id", req.ClientID,
		"code_prefix", util.SafeTruncate(code, codeLogLength))

	instrumentation.SetSpanSuccess(span)
	return &AuthorizeResult{
		Code:     code,
		Location: BuildRedirectLocation(req.RedirectURI, code, req.State),
	}, nil
}

// issueCode generates and saves a code, retrying with a fresh one when the
// generator returns a code the client already holds.
func (s *Server) issueCode(ctx context.Context, req AuthorizeRequest) (string, error) {
	for attempt := 1; attempt <= s.Config.MaxCodeGenerationAttempts; attempt++ {
		code, err := s.generator.GenerateAuthorizationCode(ctx, req.ClientID)
		if err != nil {
			return "", fmt.Errorf("failed to generate authorization code: %w", err)
		}

		now := time.Now()
		authCode := &storage.AuthorizationCode{
			Code:        code,
			ClientID:    req.ClientID,
			State:       req.State,
			RedirectURI: req.RedirectURI,
			CreatedAt:   now,
		}
		if s.Config.AuthorizationCodeTTL > 0 {
			authCode.ExpiresAt = now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second)
		}

		err = s.store.SaveNewAuthorizationCode(ctx, authCode)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, storage.ErrAuthorizationCodeExists) {
			return "", fmt.Errorf("failed to save authorization code: %w", err)
		}

		s.metrics(func(m *instrumentation.Metrics) { m.RecordCodeCollision(ctx) })
		s.Logger.Warn("Generated authorization code already exists, retrying",
			"client_id", req.ClientID,
			"attempt", attempt)
	}

	return "", fmt.Errorf("failed to generate a unique authorization code after %d attempts",
		s.Config.MaxCodeGenerationAttempts)
}

// ExchangeAuthorizationCode authenticates the client, consumes the code
// exactly once and mints an access token.
//
// Every code problem (unknown, expired, already used, bound to another
// redirect URI) is reported as invalid_grant without details. A code is
// consumed even if the redirect URI check fails afterwards.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req TokenRequest) (*TokenResult, error) {
	ctx, span := s.startSpan(ctx, "oauth.exchange_authorization_code",
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrGrantType, req.GrantType),
	)
	defer span.End()

	if err := ValidateTokenRequest(req); err != nil {
		return nil, s.exchangeFailed(ctx, span, err)
	}
	if req.ClientID == "" {
		return nil, s.exchangeFailed(ctx, span, invalidRequest("Basic Authorization header is malformed"))
	}

	if err := s.authenticateClient(ctx, span, req); err != nil {
		return nil, s.exchangeFailed(ctx, span, err)
	}

	// The code is atomically marked as used: no other request can use it
	authCode, err := s.store.AtomicCheckAndMarkAuthCodeUsed(ctx, req.ClientID, req.Code)
	if err != nil {
		return nil, s.exchangeFailed(ctx, span, s.consumeFailed(ctx, span, req, authCode, err))
	}

	if authCode.RedirectURI != req.RedirectURI {
		s.Logger.Debug("Authorization code validation failed",
			"reason", "redirect_uri_mismatch",
			"expected_uri", authCode.RedirectURI,
			"provided_uri", req.RedirectURI,
			"client_id", req.ClientID,
			"code_prefix", util.SafeTruncate(req.Code, codeLogLength))
		s.Auditor.LogAuthFailure(ctx, req.ClientID, req.ClientIP, "redirect_uri_mismatch")
		return nil, s.exchangeFailed(ctx, span, invalidGrant())
	}

	token, expiresIn, err := s.generator.GenerateAccessToken(ctx, req.ClientID)
	if err != nil {
		return nil, s.exchangeFailed(ctx, span, fmt.Errorf("failed to generate access token: %w", err))
	}

	s.metrics(func(m *instrumentation.Metrics) { m.RecordCodeExchange(ctx, req.ClientID) })
	s.Auditor.LogTokenIssued(ctx, req.ClientID, req.ClientIP, expiresIn)
	s.Logger.Info("Exchanged authorization code",
		"client_id", req.ClientID,
		"code_prefix", util.SafeTruncate(req.Code, codeLogLength),
		"expires_in", expiresIn)

	instrumentation.SetSpanAttributes(span, attribute.Int64(instrumentation.AttrExpiresIn, expiresIn))
	instrumentation.SetSpanSuccess(span)
	return &TokenResult{AccessToken: token, ExpiresIn: expiresIn}, nil
}

// methodReporter is implemented by authenticators that can name the method
// they apply to a client
type methodReporter interface {
	Method(clientID string) string
}

func (s *Server) authenticateClient(ctx context.Context, span trace.Span, req TokenRequest) error {
	method := "custom"
	if mr, ok := s.authenticator.(methodReporter); ok {
		method = mr.Method(req.ClientID)
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientAuthMethod, method))

	err := s.authenticator.AuthenticateClient(ctx, req.ClientID, req.Password, req.Code)
	if err == nil {
		return nil
	}

	perr, ok := AsProtocolError(err)
	if !ok {
		return fmt.Errorf("failed to authenticate client: %w", err)
	}

	s.metrics(func(m *instrumentation.Metrics) { m.RecordClientAuthFailed(ctx, method) })
	if perr.Code == ErrorCodeInvalidClient {
		s.Auditor.LogClientAuthFailure(ctx, req.ClientID, req.ClientIP)
	} else {
		s.Auditor.LogAuthFailure(ctx, req.ClientID, req.ClientIP, "credentials_do_not_match_code")
	}
	s.Logger.Debug("Client authentication failed",
		"client_id", req.ClientID,
		"method", method)
	return perr
}

// consumeFailed maps a failed atomic consume to the error returned to the client.
func (s *Server) consumeFailed(ctx context.Context, span trace.Span, req TokenRequest, authCode *storage.AuthorizationCode, err error) error {
	switch {
	case errors.Is(err, storage.ErrAuthorizationCodeUsed) && authCode != nil:
		// Replay of a consumed code: a sign the code leaked
		s.Logger.Error("Authorization code reuse detected",
			"client_id", req.ClientID,
			"code_prefix", util.SafeTruncate(req.Code, codeLogLength))
		instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrCodeReuse, true))
		s.metrics(func(m *instrumentation.Metrics) { m.RecordCodeReuseDetected(ctx) })
		s.Auditor.LogCodeReuseDetected(ctx, req.ClientID, req.ClientIP, req.Code)
		return invalidGrant()

	case errors.Is(err, storage.ErrAuthorizationCodeNotFound),
		errors.Is(err, storage.ErrAuthorizationCodeExpired),
		errors.Is(err, storage.ErrAuthorizationCodeUsed):
		s.Logger.Debug("Authorization code validation failed",
			"reason", err.Error(),
			"client_id", req.ClientID,
			"code_prefix", util.SafeTruncate(req.Code, codeLogLength))
		s.Auditor.LogAuthFailure(ctx, req.ClientID, req.ClientIP, "invalid_authorization_code")
		return invalidGrant()
	}

	return fmt.Errorf("failed to consume authorization code: %w", err)
}

// exchangeFailed records a failed exchange and returns err.
func (s *Server) exchangeFailed(ctx context.Context, span trace.Span, err error) error {
	reason := ErrorCodeServerError
	if perr, ok := AsProtocolError(err); ok {
		reason = perr.Code
	}
	s.metrics(func(m *instrumentation.Metrics) { m.RecordCodeExchangeFailed(ctx, reason) })
	return s.flowFailed(span, err)
}

// flowFailed annotates span with err and returns it.
func (s *Server) flowFailed(span trace.Span, err error) error {
	if perr, ok := AsProtocolError(err); ok {
		instrumentation.AddOAuthErrorAttributes(span, perr.Code, perr.Description)
		instrumentation.SetSpanError(span, perr.Code)
		return err
	}
	instrumentation.RecordError(span, err)
	return err
}
