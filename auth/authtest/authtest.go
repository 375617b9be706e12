// Package authtest provides fake authenticators for tests and development
// environments where real token verification is not wanted.
package authtest

import (
	"context"

	"github.com/ggoodman/mcp-session-gateway/auth"
)

// NoAuth is a test authenticator that accepts every token and returns a
// fixed principal.
type NoAuth struct {
	UserID string
}

// NewNoAuth creates a NoAuth authenticator with the specified user ID.
// If userID is empty, it defaults to "test-user".
func NewNoAuth(userID string) *NoAuth {
	if userID == "" {
		userID = "test-user"
	}
	return &NoAuth{UserID: userID}
}

func (n *NoAuth) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	return &noAuthUserInfo{userID: n.UserID}, nil
}

// Deny is a test authenticator that rejects every token.
type Deny struct{}

func (Deny) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	return nil, auth.ErrUnauthorized
}

type noAuthUserInfo struct {
	userID string
}

func (n *noAuthUserInfo) UserID() string {
	return n.userID
}

func (n *noAuthUserInfo) Claims(ref any) error {
	return nil
}

var _ auth.Authenticator = (*NoAuth)(nil)
var _ auth.Authenticator = Deny{}
