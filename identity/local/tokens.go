package local

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// AuthenticatedRole is the role claim carried by every access token, as
// GoTrue servers do.
const AuthenticatedRole = "authenticated"

// Claims are the access token claims.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

var (
	ErrTokenExpired   = goerrors.New("access token expired", goerrors.CategoryAuth).WithTextCode("TOKEN_EXPIRED").WithCode(goerrors.CodeUnauthorized)
	ErrTokenMalformed = goerrors.New("access token is invalid", goerrors.CategoryAuth).WithTextCode("TOKEN_MALFORMED").WithCode(goerrors.CodeUnauthorized)
)

// TokenService mints and validates HS256 access tokens.
type TokenService struct {
	signingKey []byte
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	now        func() time.Time
}

// NewTokenService creates a TokenService.
func NewTokenService(signingKey []byte, ttl time.Duration, issuer string, audience jwt.ClaimStrings) *TokenService {
	return &TokenService{
		signingKey: signingKey,
		ttl:        ttl,
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
}

// TTL is the lifetime of minted tokens.
func (ts *TokenService) TTL() time.Duration {
	return ts.ttl
}

// Generate creates a token for credential bound to sessionID.
func (ts *TokenService) Generate(credential *Credential, sessionID string) (string, time.Time, error) {
	now := ts.now()
	expiresAt := now.Add(ts.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   credential.Subject(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:     credential.Email,
		Role:      AuthenticatedRole,
		SessionID: sessionID,
	}

	signed, err := ts.SignClaims(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// SignClaims signs arbitrary claims with the configured key.
func (ts *TokenService) SignClaims(claims *Claims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}
	return signed, nil
}

// Validate parses and verifies token.
func (ts *TokenService) Validate(token string) (*Claims, error) {
	return ts.parse(token)
}

// ValidateIgnoringExpiry verifies the signature but accepts expired tokens.
// Sign out uses it so an expired session can still be revoked.
func (ts *TokenService) ValidateIgnoringExpiry(token string) (*Claims, error) {
	claims, err := ts.parse(token)
	if errors.Is(err, ErrTokenExpired) {
		return claims, nil
	}
	return claims, err
}

func (ts *TokenService) parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		opts = append(opts, jwt.WithAudience(ts.audience...))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, ErrTokenExpired
		}
		return nil, goerrors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
