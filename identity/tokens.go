package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

// TokenClaims is what the client needs from an access token.
type TokenClaims struct {
	Subject   string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// TokenInspector reads the claims of an access token.
type TokenInspector interface {
	Inspect(token string) (TokenClaims, error)
}

// accessClaims matches the claims minted by GoTrue compatible servers.
type accessClaims struct {
	jwt.RegisteredClaims
	Email    string `json:"email,omitempty"`
	UserRole string `json:"role,omitempty"`
}

func (c *accessClaims) toTokenClaims() TokenClaims {
	out := TokenClaims{
		Subject: c.Subject,
		Email:   c.Email,
		Role:    c.UserRole,
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}

// UnverifiedInspector decodes tokens without checking the signature. Clients
// that do not hold the server key use it to read the expiry.
type UnverifiedInspector struct{}

func (UnverifiedInspector) Inspect(token string) (TokenClaims, error) {
	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenClaims{}, goerrors.Wrap(err, goerrors.CategoryAuth, "malformed access token")
	}
	return claims.toTokenClaims(), nil
}

// KeyfuncInspector verifies tokens with a jwt.Keyfunc. Expired tokens are
// still decoded so the caller can refresh them.
type KeyfuncInspector struct {
	keyfunc jwt.Keyfunc
	methods []string
	close   func()
}

// NewHMACInspector verifies HS256 tokens signed with secret.
func NewHMACInspector(secret []byte) *KeyfuncInspector {
	given := keyfunc.NewGiven(map[string]keyfunc.GivenKey{
		"": keyfunc.NewGivenCustom(secret, keyfunc.GivenKeyOptions{Algorithm: jwt.SigningMethodHS256.Alg()}),
	})
	return &KeyfuncInspector{
		keyfunc: func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return given.Keyfunc(withDefaultKID(token))
		},
		methods: []string{jwt.SigningMethodHS256.Alg()},
	}
}

// NewJWKSInspector verifies tokens against the JWK set served at url. The
// set is refreshed in the background until Close is called.
func NewJWKSInspector(url string) (*KeyfuncInspector, error) {
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to load JWK set").
			WithMetadata(map[string]any{"url": url})
	}
	return &KeyfuncInspector{
		keyfunc: jwks.Keyfunc,
		close:   jwks.EndBackground,
	}, nil
}

func (k *KeyfuncInspector) Inspect(token string) (TokenClaims, error) {
	claims := &accessClaims{}
	opts := []jwt.ParserOption{}
	if len(k.methods) > 0 {
		opts = append(opts, jwt.WithValidMethods(k.methods))
	}

	_, err := jwt.ParseWithClaims(token, claims, k.keyfunc, opts...)
	if err != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		return TokenClaims{}, goerrors.Wrap(err, goerrors.CategoryAuth, "invalid access token")
	}
	return claims.toTokenClaims(), nil
}

// Close stops background JWK set refreshes.
func (k *KeyfuncInspector) Close() {
	if k != nil && k.close != nil {
		k.close()
	}
}

// withDefaultKID lets tokens without a kid header match the single given
// key registered under the empty id.
func withDefaultKID(token *jwt.Token) *jwt.Token {
	if _, ok := token.Header["kid"]; !ok {
		token.Header["kid"] = ""
	}
	return token
}
