package hostel

import (
	"context"
	"time"
)

// AuthEventKind enumerates identity provider notifications.
type AuthEventKind string

const (
	EventSignedIn       AuthEventKind = "SIGNED_IN"
	EventSignedOut      AuthEventKind = "SIGNED_OUT"
	EventTokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
)

// AuthEvent is delivered by IdentityProvider.OnAuthStateChange. Session is nil
// for EventSignedOut.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// SessionUser is the provider side view of the authenticated subject.
type SessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Session is owned by the identity provider, the core only reads it.
type Session struct {
	AccessToken  string      `json:"access_token,omitempty"`
	TokenType    string      `json:"token_type,omitempty"`
	ExpiresIn    int         `json:"expires_in,omitempty"`
	ExpiresAt    int64       `json:"expires_at,omitempty"`
	RefreshToken string      `json:"refresh_token,omitempty"`
	User         SessionUser `json:"user"`
}

// UserID returns the provider assigned subject id.
func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	return s.User.ID
}

// HasToken reports whether the session carries an access token. Sign up
// responses that require confirmation only carry the user.
func (s *Session) HasToken() bool {
	return s != nil && s.AccessToken != ""
}

// Expiry returns ExpiresAt as a time, zero when unknown.
func (s *Session) Expiry() time.Time {
	if s == nil || s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

// Subscription is returned by OnAuthStateChange.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

// Unsubscribe implements Subscription.
func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

// IdentityProvider supplies sessions and credential operations.
type IdentityProvider interface {
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(fn func(AuthEvent)) Subscription
}

// ProfileStore reads and creates UserProfile rows. Fetch methods return
// (nil, nil) when no row exists.
type ProfileStore interface {
	FetchProfileByID(ctx context.Context, id string) (*UserProfile, error)
	FetchProfileFields(ctx context.Context, id string, fields ...string) (*UserProfile, error)
	InsertProfile(ctx context.Context, profile *UserProfile) error
}
