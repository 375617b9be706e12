// Package auth defines the identity attachment contract used by the HTTP
// session gateway. An Authenticator validates an incoming bearer token string
// and returns a UserInfo; the gateway attaches that identity to every message
// it relays into a session so that downstream server logic can consult it.
//
// Authorization policy is deliberately out of scope here: the gateway neither
// interprets scopes nor advertises discovery metadata. The
// internal/jwtauth package provides a stock JWT implementation validated
// against a static JWKS endpoint.
package auth
