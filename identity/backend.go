// Package identity provides the client side identity provider used by the
// session manager: a Backend speaking to the auth server, persisted session
// storage and the auth state event stream.
package identity

import (
	"context"

	"github.com/goliatone/go-hostel"
)

// Backend performs the credential calls against an auth server. Errors are
// hostel rich errors: hostel.ErrAuthentication for rejected credentials,
// hostel.ErrRateLimited when throttled and hostel.ErrTransport when the
// server could not be reached.
type Backend interface {
	SignUp(ctx context.Context, email, password string) (*hostel.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*hostel.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*hostel.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}
