// Package testutil provides test fixtures for the oauth2u packages: a token
// generator with fixed outputs, Basic credential helpers, an HTTP request
// builder and a few assertions.
package testutil
