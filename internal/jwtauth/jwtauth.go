// Package jwtauth implements the auth.Authenticator contract with JWT access
// token validation against a statically configured issuer and JWKS endpoint.
// There is no discovery flow: the gateway only needs an identity to attach to
// relayed messages, not a full authorization surface.
package jwtauth

import (
	"encoding/json"
	"fmt"

	"github.com/ggoodman/mcp-session-gateway/auth"
	"github.com/golang-jwt/jwt/v5"
)

// userInfo carries the validated token's subject and claims.
type userInfo struct {
	sub    string
	claims jwt.MapClaims
}

func (u *userInfo) UserID() string {
	return u.sub
}

// Claims unmarshals the token claims into ref via a JSON round-trip.
func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return fmt.Errorf("failed to marshal claims: %w", err)
	}
	if err := json.Unmarshal(b, ref); err != nil {
		return fmt.Errorf("failed to unmarshal claims: %w", err)
	}
	return nil
}

var _ auth.UserInfo = (*userInfo)(nil)
