// Package oauth2u is an OAuth 2.0 authorization server for the
// authorization code grant.
//
// The protocol logic lives in the server package and is independent of HTTP.
// This package provides the HTTP adapter for the two endpoints:
//
//   - GET /authorize validates the request, issues a single-use code bound to
//     the client and redirect URI and answers 302 Found with the code
//     appended to the redirect URI.
//   - POST /access-token authenticates the client with HTTP Basic, consumes
//     the code exactly once and answers with a JSON access token.
//
// Errors are written as {"error": "...", "error_description": "..."} with
// the description omitted when empty.
//
// Basic usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, err := server.New(store, &server.Config{AuthorizationCodeTTL: 300}, logger)
//	if err != nil {
//		return err
//	}
//
//	mux := http.NewServeMux()
//	oauth2u.NewHandler(srv, logger).RegisterRoutes(mux)
//	return http.ListenAndServe(":8888", mux)
//
// Codes are persisted through storage.CodeStore. The memory, sqlite and
// valkey packages under storage provide implementations.
package oauth2u
