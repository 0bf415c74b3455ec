// Package local is an in-process identity authority: credentials and refresh
// tokens in bun, bcrypt password hashes and HS256 access tokens. It
// implements identity.Backend so the client can run without a remote auth
// server, and it backs the hostel-authd daemon.
package local

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hostel"
	"github.com/goliatone/go-hostel/identity"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	DefaultAccessTTL        = time.Hour
	DefaultRefreshTTL       = 30 * 24 * time.Hour
	DefaultMaxLoginAttempts = 5
	DefaultCoolDownPeriod   = "24h"
)

// Config tunes token lifetimes and the login throttle.
type Config struct {
	SigningKey []byte
	Issuer     string
	Audience   []string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// MaxLoginAttempts failed attempts inside CoolDownPeriod lock the
	// credential until the period has passed since the last failure.
	MaxLoginAttempts int
	CoolDownPeriod   string

	// UseHashid derives subject ids from the email instead of random uuids.
	UseHashid bool
}

// Option customizes an Authority.
type Option func(*Authority)

// WithLogger overrides the logger.
func WithLogger(logger hostel.Logger) Option {
	return func(a *Authority) {
		if logger != nil {
			a.loggerProvider, a.logger = hostel.ResolveLogger("hostel.identity.local", nil, logger)
		}
	}
}

// WithLoggerProvider resolves the "hostel.identity.local" logger from provider.
func WithLoggerProvider(provider hostel.LoggerProvider) Option {
	return func(a *Authority) {
		a.loggerProvider, a.logger = hostel.ResolveLogger("hostel.identity.local", provider, a.logger)
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(a *Authority) {
		if clock != nil {
			a.now = clock
		}
	}
}

// Authority issues sessions for credentials stored in db.
type Authority struct {
	db            *bun.DB
	credentials   repository.Repository[*Credential]
	refreshTokens repository.Repository[*RefreshToken]
	tokens        *TokenService
	cfg           Config

	now            func() time.Time
	logger         hostel.Logger
	loggerProvider hostel.LoggerProvider
}

var _ identity.Backend = (*Authority)(nil)

// NewAuthority returns an Authority. The signing key is required.
func NewAuthority(db *bun.DB, cfg Config, opts ...Option) (*Authority, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, goerrors.New("signing key is required", goerrors.CategoryBadInput).
			WithTextCode("MISSING_SIGNING_KEY")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = DefaultMaxLoginAttempts
	}
	if cfg.CoolDownPeriod == "" {
		cfg.CoolDownPeriod = DefaultCoolDownPeriod
	}
	if _, err := time.ParseDuration(cfg.CoolDownPeriod); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid cool down period").
			WithMetadata(map[string]any{"cool_down_period": cfg.CoolDownPeriod})
	}

	provider, logger := hostel.ResolveLogger("hostel.identity.local", nil, nil)
	a := &Authority{
		db:             db,
		credentials:    newCredentialsRepository(db),
		refreshTokens:  newRefreshTokensRepository(db),
		cfg:            cfg,
		now:            time.Now,
		logger:         logger,
		loggerProvider: provider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	a.tokens = NewTokenService(cfg.SigningKey, cfg.AccessTTL, cfg.Issuer, audience(cfg.Audience))
	a.tokens.now = a.now
	return a, nil
}

func newCredentialsRepository(db *bun.DB) repository.Repository[*Credential] {
	return repository.NewRepository[*Credential](db, repository.ModelHandlers[*Credential]{
		NewRecord: func() *Credential { return &Credential{} },
		GetID: func(c *Credential) uuid.UUID {
			if c == nil {
				return uuid.Nil
			}
			return c.ID
		},
		SetID: func(c *Credential, id uuid.UUID) {
			if c != nil {
				c.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})
}

func newRefreshTokensRepository(db *bun.DB) repository.Repository[*RefreshToken] {
	return repository.NewRepository[*RefreshToken](db, repository.ModelHandlers[*RefreshToken]{
		NewRecord: func() *RefreshToken { return &RefreshToken{} },
		GetID: func(r *RefreshToken) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *RefreshToken, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "token_hash"
		},
	})
}

// Tokens exposes the access token service, e.g. for bearer middleware.
func (a *Authority) Tokens() *TokenService {
	return a.tokens
}

// CreateSchema creates the credentials and refresh_tokens tables when
// missing.
func (a *Authority) CreateSchema(ctx context.Context) error {
	for _, model := range []any{(*Credential)(nil), (*RefreshToken)(nil)} {
		if _, err := a.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create identity tables")
		}
	}
	return nil
}

// SignUp creates a credential and signs it in.
func (a *Authority) SignUp(ctx context.Context, email, password string) (*hostel.Session, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, authError("email is required", "sign_up")
	}
	if len(password) < hostel.MinPasswordLength {
		return nil, authError(fmt.Sprintf("password should be at least %d characters", hostel.MinPasswordLength), "sign_up")
	}

	existing, err := a.findCredential(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, authError("user already registered", "sign_up")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	record := &Credential{Email: email, PasswordHash: hash}
	if a.cfg.UseHashid {
		if id, err := hashid.NewUUID(email); err == nil {
			record.ID = id
		}
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	created, err := a.credentials.Create(ctx, record)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create credential").
			WithMetadata(map[string]any{"email": email})
	}

	a.logger.Info("credential registered", "subject", created.Subject())
	return a.issue(ctx, a.db, created)
}

// SignInWithPassword verifies the password and issues a session.
func (a *Authority) SignInWithPassword(ctx context.Context, email, password string) (*hostel.Session, error) {
	email = normalizeEmail(email)

	credential, err := a.findCredential(ctx, email)
	if err != nil {
		return nil, err
	}
	if credential == nil {
		return nil, authError("invalid login credentials", "sign_in")
	}

	now := a.now()
	expired := false
	if credential.LoginAttemptAt != nil {
		within, err := withinPeriod(*credential.LoginAttemptAt, a.cfg.CoolDownPeriod, now)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to calculate login attempt cool down")
		}
		if !within {
			expired = true
			credential.LoginAttempts = 0
		}
	}

	if credential.LoginAttempts >= a.cfg.MaxLoginAttempts {
		a.logger.Warn("login throttled", "subject", credential.Subject(), "attempts", credential.LoginAttempts)
		return nil, hostel.ErrRateLimited.Clone().
			WithMetadata(map[string]any{"operation": "sign_in", "subject": credential.Subject()})
	}

	if err := ComparePasswordAndHash(password, credential.PasswordHash); err != nil {
		if !errors.Is(err, errPasswordMismatch) {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to compare password")
		}
		if err := a.trackAttemptedLogin(ctx, credential, expired, now); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to track login attempt")
		}
		return nil, authError("invalid login credentials", "sign_in")
	}

	if err := a.trackSuccessfulLogin(ctx, credential, now); err != nil {
		a.logger.Error("failed to track successful login", "subject", credential.Subject(), "error", err)
	}

	return a.issue(ctx, a.db, credential)
}

// Refresh rotates refreshToken for a new session. The old token is revoked.
func (a *Authority) Refresh(ctx context.Context, refreshToken string) (*hostel.Session, error) {
	record, err := a.refreshTokens.GetByIdentifier(ctx, hashToken(refreshToken))
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, authError("invalid refresh token", "refresh")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load refresh token")
	}
	if !record.Active(a.now()) {
		return nil, authError("invalid refresh token", "refresh")
	}

	credential, err := a.credentials.GetByID(ctx, record.CredentialID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, authError("invalid refresh token", "refresh")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load credential")
	}

	var session *hostel.Session
	err = a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		revoked, err := a.revoke(ctx, tx, record.ID)
		if err != nil {
			return err
		}
		if !revoked {
			return authError("invalid refresh token", "refresh")
		}
		session, err = a.issue(ctx, tx, credential)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// SignOut revokes the session the access token belongs to. Expired tokens
// are accepted.
func (a *Authority) SignOut(ctx context.Context, accessToken string) error {
	claims, err := a.tokens.ValidateIgnoringExpiry(accessToken)
	if err != nil {
		return sessionNotFound(err)
	}

	id, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return sessionNotFound(err)
	}

	revoked, err := a.revoke(ctx, a.db, id)
	if err != nil {
		return err
	}
	if !revoked {
		return sessionNotFound(nil)
	}

	a.logger.Debug("session revoked", "subject", claims.Subject, "session_id", claims.SessionID)
	return nil
}

// User returns the identity behind a valid, unrevoked access token.
func (a *Authority) User(ctx context.Context, accessToken string) (*hostel.SessionUser, *Claims, error) {
	claims, err := a.tokens.Validate(accessToken)
	if err != nil {
		return nil, nil, err
	}

	id, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, nil, ErrTokenMalformed
	}

	record, err := a.refreshTokens.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, nil, sessionNotFound(nil)
		}
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session")
	}
	if record.RevokedAt != nil {
		return nil, nil, sessionNotFound(nil)
	}

	return &hostel.SessionUser{ID: claims.Subject, Email: claims.Email}, claims, nil
}

func (a *Authority) findCredential(ctx context.Context, email string) (*Credential, error) {
	credential, err := a.credentials.GetByIdentifier(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve credential").
			WithMetadata(map[string]any{"email": email})
	}
	return credential, nil
}

// issue stores a refresh token and mints the matching access token.
func (a *Authority) issue(ctx context.Context, db bun.IDB, credential *Credential) (*hostel.Session, error) {
	raw := uuid.NewString() + uuid.NewString()
	now := a.now()
	record := &RefreshToken{
		ID:           uuid.New(),
		CredentialID: credential.ID,
		TokenHash:    hashToken(raw),
		ExpiresAt:    now.Add(a.cfg.RefreshTTL),
	}

	if _, err := a.refreshTokens.CreateTx(ctx, db, record); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store refresh token")
	}

	access, expiresAt, err := a.tokens.Generate(credential, record.ID.String())
	if err != nil {
		return nil, err
	}

	return &hostel.Session{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int(a.tokens.TTL() / time.Second),
		ExpiresAt:    expiresAt.Unix(),
		RefreshToken: raw,
		User:         hostel.SessionUser{ID: credential.Subject(), Email: credential.Email},
	}, nil
}

func (a *Authority) revoke(ctx context.Context, db bun.IDB, id uuid.UUID) (bool, error) {
	res, err := db.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("revoked_at = ?", a.now()).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke session")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke session")
	}
	return rows > 0, nil
}

// trackAttemptedLogin counts a failed attempt in the database so concurrent
// failures are all counted. An expired window starts over at one.
func (a *Authority) trackAttemptedLogin(ctx context.Context, credential *Credential, expired bool, now time.Time) error {
	query := a.db.NewUpdate().Model((*Credential)(nil))
	if expired {
		query = query.Set("login_attempts = 1")
	} else {
		query = query.Set("login_attempts = login_attempts + 1")
	}
	_, err := query.
		Set("login_attempt_at = ?", now).
		Where("?TableAlias.id = ?", credential.ID).
		Exec(ctx)
	return err
}

func (a *Authority) trackSuccessfulLogin(ctx context.Context, credential *Credential, now time.Time) error {
	_, err := a.db.NewUpdate().
		Model((*Credential)(nil)).
		Set("loggedin_at = ?", now).
		Set("login_attempts = 0").
		Set("login_attempt_at = NULL").
		Where("?TableAlias.id = ?", credential.ID).
		Exec(ctx)
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func authError(message, operation string) error {
	clone := hostel.ErrAuthentication.Clone()
	clone.Message = message
	return clone.WithMetadata(map[string]any{"operation": operation})
}

func sessionNotFound(cause error) error {
	clone := hostel.ErrSessionNotFound.Clone()
	if cause != nil {
		clone.Source = cause
	}
	return clone
}

func audience(values []string) jwt.ClaimStrings {
	if len(values) == 0 {
		return nil
	}
	out := make(jwt.ClaimStrings, len(values))
	copy(out, values)
	return out
}
