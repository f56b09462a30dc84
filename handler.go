package oauth2u

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2u/instrumentation"
	"github.com/giantswarm/oauth2u/security"
	"github.com/giantswarm/oauth2u/server"
)

// Default endpoint paths
const (
	AuthorizePath   = "/authorize"
	AccessTokenPath = "/access-token"
)

const (
	// BasicRealm is announced in WWW-Authenticate on 401 responses
	BasicRealm = "oauth2u"

	jsonContentType = "application/json; charset=UTF-8"
	formMediaType   = "application/x-www-form-urlencoded"

	endpointAuthorize   = "authorize"
	endpointAccessToken = "access_token"
)

// Router is satisfied by *http.ServeMux and chi routers
type Router interface {
	Handle(pattern string, handler http.Handler)
}

// Handler is a thin HTTP adapter for the OAuth Server.
// It handles HTTP requests and delegates to the Server for business logic.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		logger: logger,
	}

	if inst := srv.Instrumentation(); inst != nil {
		h.tracer = inst.Tracer("http")
	}

	return h
}

// RegisterRoutes mounts the authorization and access token endpoints
func (h *Handler) RegisterRoutes(r Router) {
	r.Handle(AuthorizePath, http.HandlerFunc(h.ServeAuthorize))
	r.Handle(AccessTokenPath, http.HandlerFunc(h.ServeAccessToken))
}

// ServeAuthorize handles authorization requests. On success it redirects to
// the client's redirect URI with the new code appended.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(w, r, "oauth.http.authorize")
	defer span.End()

	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r, span, endpointAuthorize, http.MethodGet, startTime)
		return
	}

	clientIP := h.clientIP(r, span)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.finish(r.Context(), span, endpointAuthorize, r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	query := r.URL.Query()
	result, err := h.server.Authorize(r.Context(), server.AuthorizeRequest{
		ResponseType: query.Get("response_type"),
		ClientID:     query.Get("client_id"),
		RedirectURI:  query.Get("redirect_uri"),
		State:        query.Get("state"),
		ClientIP:     clientIP,
	})
	if err != nil {
		status := h.writeFlowError(w, r, err, "Failed to issue authorization code")
		h.finish(r.Context(), span, endpointAuthorize, r.Method, status, startTime)
		return
	}

	// Location is set verbatim: the redirect URI's query must reach the client byte for byte
	security.SetSecurityHeaders(w, r, h.server.Config.TrustProxy)
	w.Header().Set("Location", result.Location)
	w.WriteHeader(http.StatusFound)

	instrumentation.SetSpanSuccess(span)
	h.finish(r.Context(), span, endpointAuthorize, r.Method, http.StatusFound, startTime)
}

// ServeAccessToken handles access token requests for the authorization_code grant.
// Client credentials are read from the Basic Authorization header.
func (h *Handler) ServeAccessToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(w, r, "oauth.http.access_token")
	defer span.End()

	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r, span, endpointAccessToken, http.MethodPost, startTime)
		return
	}

	clientIP := h.clientIP(r, span)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.finish(r.Context(), span, endpointAccessToken, r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	status := h.exchange(w, r, span, clientIP)
	h.finish(r.Context(), span, endpointAccessToken, r.Method, status, startTime)
}

// exchange runs the token request checks in order and writes the response.
// It returns the status written.
func (h *Handler) exchange(w http.ResponseWriter, r *http.Request, span trace.Span, clientIP string) int {
	if !isFormContentType(r.Header.Get("Content-Type")) {
		return h.writeError(w, r, ErrInvalidRequest(""))
	}

	authHeader := r.Header.Get("Authorization")
	if !hasBasicScheme(authHeader) {
		return h.writeError(w, r, ErrInvalidRequest("Basic Authorization header is required"))
	}

	if err := r.ParseForm(); err != nil {
		return h.writeError(w, r, ErrInvalidRequest("Failed to parse request"))
	}

	req := server.TokenRequest{
		GrantType:   r.Form.Get("grant_type"),
		Code:        r.Form.Get("code"),
		RedirectURI: r.Form.Get("redirect_uri"),
		ClientIP:    clientIP,
	}
	if err := server.ValidateTokenRequest(req); err != nil {
		return h.writeFlowError(w, r, err, "Invalid token request")
	}

	clientID, password, ok := r.BasicAuth()
	if !ok || clientID == "" {
		return h.writeError(w, r, ErrInvalidRequest("Basic Authorization header is malformed"))
	}
	req.ClientID = clientID
	req.Password = password

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, clientID))

	result, err := h.server.ExchangeAuthorizationCode(r.Context(), req)
	if err != nil {
		return h.writeFlowError(w, r, err, "Failed to exchange authorization code")
	}

	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, r, result)
	return http.StatusOK
}

// isFormContentType accepts the form media type with no charset or a UTF-8 one
func isFormContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != formMediaType {
		return false
	}
	charset, ok := params["charset"]
	return !ok || strings.EqualFold(charset, "utf-8")
}

// hasBasicScheme reports whether the header uses the Basic scheme (RFC 7617)
func hasBasicScheme(authHeader string) bool {
	const prefix = "Basic "
	return len(authHeader) >= len(prefix) && strings.EqualFold(authHeader[:len(prefix)], prefix)
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", r.URL.Path)
	if inst := h.server.Instrumentation(); inst != nil {
		inst.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	h.server.Auditor.LogRateLimitExceeded(r.Context(), clientIP)

	w.Header().Set("Retry-After", "60")
	h.writeError(w, r, ErrRateLimitExceeded("Rate limit exceeded. Please try again later."))
	return true
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, r *http.Request, span trace.Span, endpoint, allowed string, startTime time.Time) {
	w.Header().Set("Allow", allowed)
	status := h.writeError(w, r, NewError(ErrorCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed))
	h.finish(r.Context(), span, endpoint, r.Method, status, startTime)
}

// writeFlowError writes a protocol failure as is. Anything else is an
// internal fault: it is logged and hidden behind server_error.
func (h *Handler) writeFlowError(w http.ResponseWriter, r *http.Request, err error, message string) int {
	if perr, ok := server.AsProtocolError(err); ok {
		return h.writeError(w, r, errorFromProtocol(perr))
	}

	h.logger.Error(message,
		"error", err,
		"request_id", security.GetRequestID(r.Context()))
	return h.writeError(w, r, ErrServerError("Internal server error"))
}

// writeError writes the JSON error body and returns the status written
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, oerr *Error) int {
	security.SetSecurityHeaders(w, r, h.server.Config.TrustProxy)

	if oerr.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="`+BasicRealm+`"`)
	}

	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(oerr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oerr.Code,
		ErrorDescription: oerr.Description,
	})
	return oerr.Status
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, r *http.Request, result *server.TokenResult) {
	security.SetSecurityHeaders(w, r, h.server.Config.TrustProxy)

	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(TokenResponse{
		AccessToken: result.AccessToken,
		ExpiresIn:   result.ExpiresIn,
	})
}

// startSpan makes sure the request carries a request ID and, when tracing is
// enabled, starts an HTTP span. The returned request carries both.
func (h *Handler) startSpan(w http.ResponseWriter, r *http.Request, name string) (*http.Request, trace.Span) {
	r = security.EnsureRequestID(w, r)
	if h.tracer == nil {
		return r, trace.SpanFromContext(context.Background())
	}

	ctx, span := h.tracer.Start(r.Context(), name)
	return r.WithContext(ctx), span
}

// clientIP resolves the caller address and records it on the span when
// instrumentation allows client IPs
func (h *Handler) clientIP(r *http.Request, span trace.Span) string {
	ip := security.GetClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
	if inst := h.server.Instrumentation(); inst != nil && inst.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, ip)
	}
	return ip
}

// finish annotates the span and records the HTTP request metrics
func (h *Handler) finish(ctx context.Context, span trace.Span, endpoint, method string, status int, startTime time.Time) {
	instrumentation.AddHTTPAttributes(span, method, endpoint, status)
	h.recordHTTPMetrics(ctx, endpoint, method, status, startTime)
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	inst := h.server.Instrumentation()
	if inst == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000 // convert to milliseconds
	inst.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}
