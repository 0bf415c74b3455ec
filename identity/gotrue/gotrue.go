// Package gotrue implements identity.Backend against a GoTrue compatible
// auth server, such as the one served by hostel-authd.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hostel"
	"github.com/goliatone/go-hostel/identity"
)

// Config holds the auth server location and credentials.
type Config struct {
	// URL is the auth API root, e.g. http://localhost:9999/auth/v1.
	URL    string
	APIKey string

	HTTPClient *http.Client
	Now        func() time.Time
}

// Backend talks to the auth server over HTTP.
type Backend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

var _ identity.Backend = (*Backend)(nil)

// New creates a Backend.
func New(cfg Config) *Backend {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Backend{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: client,
		now:        now,
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse covers both token responses and the bare user returned by
// sign up when confirmation is pending.
type sessionResponse struct {
	AccessToken  string              `json:"access_token"`
	TokenType    string              `json:"token_type"`
	ExpiresIn    int                 `json:"expires_in"`
	ExpiresAt    int64               `json:"expires_at"`
	RefreshToken string              `json:"refresh_token"`
	User         *hostel.SessionUser `json:"user"`
	ID           string              `json:"id"`
	Email        string              `json:"email"`
}

// SignUp implements identity.Backend.
func (b *Backend) SignUp(ctx context.Context, email, password string) (*hostel.Session, error) {
	return b.session(ctx, "signup", "/signup", nil, credentials{Email: email, Password: password})
}

// SignInWithPassword implements identity.Backend.
func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (*hostel.Session, error) {
	query := url.Values{"grant_type": {"password"}}
	return b.session(ctx, "sign_in", "/token", query, credentials{Email: email, Password: password})
}

// Refresh implements identity.Backend.
func (b *Backend) Refresh(ctx context.Context, refreshToken string) (*hostel.Session, error) {
	query := url.Values{"grant_type": {"refresh_token"}}
	return b.session(ctx, "refresh", "/token", query, map[string]string{"refresh_token": refreshToken})
}

// SignOut implements identity.Backend.
func (b *Backend) SignOut(ctx context.Context, accessToken string) error {
	req, err := b.newRequest(ctx, http.MethodPost, "/logout", nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return hostel.TransportError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return responseError("sign_out", resp.StatusCode, body)
	}
	return nil
}

func (b *Backend) session(ctx context.Context, operation, path string, query url.Values, payload any) (*hostel.Session, error) {
	req, err := b.newRequest(ctx, http.MethodPost, path, query, payload)
	if err != nil {
		return nil, err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, hostel.TransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, hostel.TransportError(err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, responseError(operation, resp.StatusCode, body)
	}

	var out sessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, hostel.TransportError(goerrors.Wrap(err, goerrors.CategoryOperation, "failed to decode "+operation+" response"))
	}

	return b.toSession(out), nil
}

func (b *Backend) newRequest(ctx context.Context, method, path string, query url.Values, payload any) (*http.Request, error) {
	endpoint := b.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to build auth request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("apikey", b.apiKey)
	}
	return req, nil
}

func (b *Backend) toSession(r sessionResponse) *hostel.Session {
	session := &hostel.Session{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		ExpiresIn:    r.ExpiresIn,
		ExpiresAt:    r.ExpiresAt,
		RefreshToken: r.RefreshToken,
	}
	if r.User != nil {
		session.User = *r.User
	} else {
		session.User = hostel.SessionUser{ID: r.ID, Email: r.Email}
	}
	if session.ExpiresAt == 0 && session.ExpiresIn > 0 {
		session.ExpiresAt = b.now().Add(time.Duration(session.ExpiresIn) * time.Second).Unix()
	}
	return session
}

// apiError is the error body GoTrue servers return. Older servers use
// error/error_description, newer ones msg/error_code.
type apiError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Msg         string `json:"msg"`
	Message     string `json:"message"`
	ErrorCode   string `json:"error_code"`
}

func (e apiError) message() string {
	for _, candidate := range []string{e.Description, e.Msg, e.Message, e.Error} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}

func (e apiError) code() string {
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	return e.Error
}

func responseError(operation string, status int, body []byte) error {
	var parsed apiError
	_ = json.Unmarshal(body, &parsed)

	message := parsed.message()
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(status)
	}

	metadata := map[string]any{
		"operation": operation,
		"status":    status,
	}
	if code := parsed.code(); code != "" {
		metadata["error_code"] = code
	}

	var base *goerrors.Error
	switch {
	case status == http.StatusTooManyRequests:
		base = hostel.ErrRateLimited
	case status >= http.StatusInternalServerError:
		return hostel.TransportError(goerrors.New(message, goerrors.CategoryOperation).WithMetadata(metadata))
	case operation == "sign_out" && (status == http.StatusUnauthorized || status == http.StatusNotFound):
		base = hostel.ErrSessionNotFound
	default:
		base = hostel.ErrAuthentication
	}

	clone := base.Clone()
	clone.Message = message
	return clone.WithMetadata(metadata)
}
