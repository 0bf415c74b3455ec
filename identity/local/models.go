package local

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Credential is an email/password identity. Its ID is the subject shared
// with the profiles table.
type Credential struct {
	bun.BaseModel  `bun:"table:credentials,alias:crd"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash   string     `bun:"password_hash,notnull" json:"-"`
	LoginAttempts  int        `bun:"login_attempts,notnull,default:0" json:"login_attempts"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Subject is the id handed out in sessions and tokens.
func (c *Credential) Subject() string {
	if c == nil {
		return ""
	}
	return c.ID.String()
}

// RefreshToken is one sign in. Access tokens carry its ID as the session id
// so signing out revokes both.
type RefreshToken struct {
	bun.BaseModel `bun:"table:refresh_tokens,alias:rft"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	CredentialID  uuid.UUID  `bun:"credential_id,notnull,type:uuid" json:"credential_id,omitempty"`
	TokenHash     string     `bun:"token_hash,notnull,unique" json:"-"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	RevokedAt     *time.Time `bun:"revoked_at" json:"revoked_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Active reports whether the token can still be exchanged at now.
func (r *RefreshToken) Active(now time.Time) bool {
	return r != nil && r.RevokedAt == nil && now.Before(r.ExpiresAt)
}
