// Package server implements the OAuth2 authorization code grant.
//
// The Server type is independent of HTTP: it validates requests, issues
// codes through a TokenGenerator, persists them in a storage.CodeStore and
// consumes each code at most once during the token exchange. Protocol
// failures are returned as *ProtocolError; anything else is an internal
// fault.
//
// Collaborators are injected with options:
//
//	srv, err := server.New(store, &server.Config{AuthorizationCodeTTL: 300}, logger,
//	    server.WithTokenGenerator(generator),
//	    server.WithAuditor(security.NewAuditor(logger, true)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := srv.Authorize(ctx, server.AuthorizeRequest{
//	    ResponseType: "code",
//	    ClientID:     "client1",
//	    RedirectURI:  "https://app.example.com/callback",
//	})
//
// Clients listed in Config.ClientSecrets authenticate with a bcrypt hashed
// secret. Every other client presents the authorization code itself as its
// Basic password.
package server
