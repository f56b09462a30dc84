package server

import (
	"testing"
)

func TestValidateAuthorizeRequest(t *testing.T) {
	valid := AuthorizeRequest{ResponseType: "code", ClientID: "123", RedirectURI: "http://callback"}

	tests := []struct {
		name     string
		mutate   func(r *AuthorizeRequest)
		wantDesc string
	}{
		{name: "valid", mutate: func(*AuthorizeRequest) {}},
		{name: "missing response_type", mutate: func(r *AuthorizeRequest) { r.ResponseType = "" }, wantDesc: "Parameter response_type is required"},
		{name: "wrong response_type", mutate: func(r *AuthorizeRequest) { r.ResponseType = "token" }, wantDesc: "Parameter response_type should be code"},
		{name: "missing client_id", mutate: func(r *AuthorizeRequest) { r.ClientID = "" }, wantDesc: "Parameter client_id is required"},
		{name: "missing redirect_uri", mutate: func(r *AuthorizeRequest) { r.RedirectURI = "" }, wantDesc: "Missing argument redirect_uri"},
		{name: "relative redirect_uri", mutate: func(r *AuthorizeRequest) { r.RedirectURI = "/callback" }, wantDesc: "Parameter redirect_uri is invalid"},
		{name: "redirect_uri with fragment", mutate: func(r *AuthorizeRequest) { r.RedirectURI = "http://callback#frag" }, wantDesc: "Parameter redirect_uri is invalid"},
		{name: "custom scheme", mutate: func(r *AuthorizeRequest) { r.RedirectURI = "myapp://callback" }},
		{
			name: "response_type reported before client_id",
			mutate: func(r *AuthorizeRequest) {
				r.ResponseType = ""
				r.ClientID = ""
			},
			wantDesc: "Parameter response_type is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)

			err := ValidateAuthorizeRequest(req)
			if tt.wantDesc == "" {
				if err != nil {
					t.Fatalf("ValidateAuthorizeRequest() error = %v", err)
				}
				return
			}

			perr, ok := AsProtocolError(err)
			if !ok {
				t.Fatalf("ValidateAuthorizeRequest() error = %v, want *ProtocolError", err)
			}
			if perr.Code != ErrorCodeInvalidRequest {
				t.Errorf("Code = %q, want %q", perr.Code, ErrorCodeInvalidRequest)
			}
			if perr.Description != tt.wantDesc {
				t.Errorf("Description = %q, want %q", perr.Description, tt.wantDesc)
			}
		})
	}
}

func TestValidateTokenRequest(t *testing.T) {
	valid := TokenRequest{GrantType: "authorization_code", Code: "123-abc", RedirectURI: "http://callback"}

	tests := []struct {
		name     string
		mutate   func(r *TokenRequest)
		wantDesc string
	}{
		{name: "valid", mutate: func(*TokenRequest) {}},
		{name: "missing grant_type", mutate: func(r *TokenRequest) { r.GrantType = "" }, wantDesc: "Parameter grant_type is required"},
		{name: "wrong grant_type", mutate: func(r *TokenRequest) { r.GrantType = "client_credentials" }, wantDesc: "Parameter grant_type should be authorization_code"},
		{name: "missing code", mutate: func(r *TokenRequest) { r.Code = "" }, wantDesc: "Parameter code is required"},
		{name: "missing redirect_uri", mutate: func(r *TokenRequest) { r.RedirectURI = "" }, wantDesc: "Parameter redirect_uri is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)

			err := ValidateTokenRequest(req)
			if tt.wantDesc == "" {
				if err != nil {
					t.Fatalf("ValidateTokenRequest() error = %v", err)
				}
				return
			}

			perr, ok := AsProtocolError(err)
			if !ok {
				t.Fatalf("ValidateTokenRequest() error = %v, want *ProtocolError", err)
			}
			if perr.Description != tt.wantDesc {
				t.Errorf("Description = %q, want %q", perr.Description, tt.wantDesc)
			}
		})
	}
}

func TestBuildRedirectLocation(t *testing.T) {
	tests := []struct {
		name        string
		redirectURI string
		code        string
		state       string
		want        string
	}{
		{name: "no query", redirectURI: "http://callback", code: "123-abc", want: "http://callback?code=123-abc"},
		{name: "existing query", redirectURI: "http://callback?param1=value1", code: "123-abc", want: "http://callback?param1=value1&code=123-abc"},
		{name: "trailing question mark", redirectURI: "http://callback?", code: "123-abc", want: "http://callback?code=123-abc"},
		{name: "trailing ampersand", redirectURI: "http://callback?a=1&", code: "123-abc", want: "http://callback?a=1&code=123-abc"},
		{name: "query kept byte for byte", redirectURI: "http://callback?b=2&a=%2F", code: "x", want: "http://callback?b=2&a=%2F&code=x"},
		{name: "state appended", redirectURI: "http://callback", code: "123-abc", state: "xyz", want: "http://callback?code=123-abc&state=xyz"},
		{name: "values escaped", redirectURI: "http://callback", code: "a+b/c", state: "s t&u", want: "http://callback?code=a%2Bb%2Fc&state=s+t%26u"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildRedirectLocation(tt.redirectURI, tt.code, tt.state); got != tt.want {
				t.Errorf("BuildRedirectLocation() = %q, want %q", got, tt.want)
			}
		})
	}
}
