package identity

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hostel"
)

// DefaultExpiryMargin is how early a stored access token is treated as
// expired.
const DefaultExpiryMargin = 10 * time.Second

// Option customizes a Client.
type Option func(*Client)

// WithStorage sets where the session is persisted. Defaults to memory.
func WithStorage(storage Storage) Option {
	return func(c *Client) {
		if storage != nil {
			c.storage = storage
		}
	}
}

// WithTokenInspector sets how access tokens are read. Defaults to
// UnverifiedInspector.
func WithTokenInspector(inspector TokenInspector) Option {
	return func(c *Client) {
		if inspector != nil {
			c.inspector = inspector
		}
	}
}

// WithExpiryMargin overrides DefaultExpiryMargin.
func WithExpiryMargin(margin time.Duration) Option {
	return func(c *Client) {
		if margin >= 0 {
			c.margin = margin
		}
	}
}

// WithRestoreEcho controls whether restoring a stored session emits
// SIGNED_IN. Enabled by default.
func WithRestoreEcho(enabled bool) Option {
	return func(c *Client) {
		c.restoreEcho = enabled
	}
}

// WithLogger overrides the logger.
func WithLogger(logger hostel.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.loggerProvider, c.logger = hostel.ResolveLogger("hostel.identity", nil, logger)
		}
	}
}

// WithLoggerProvider resolves the "hostel.identity" logger from provider.
func WithLoggerProvider(provider hostel.LoggerProvider) Option {
	return func(c *Client) {
		c.loggerProvider, c.logger = hostel.ResolveLogger("hostel.identity", provider, c.logger)
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// Client implements hostel.IdentityProvider over a Backend. It owns the
// current session, persists it and notifies subscribers of changes.
type Client struct {
	backend   Backend
	storage   Storage
	inspector TokenInspector
	events    emitter

	mu      sync.Mutex
	session *hostel.Session
	loaded  bool

	margin         time.Duration
	restoreEcho    bool
	now            func() time.Time
	logger         hostel.Logger
	loggerProvider hostel.LoggerProvider
}

var _ hostel.IdentityProvider = (*Client)(nil)

// NewClient returns a Client for backend.
func NewClient(backend Backend, opts ...Option) *Client {
	provider, logger := hostel.ResolveLogger("hostel.identity", nil, nil)
	c := &Client{
		backend:        backend,
		storage:        NewMemoryStorage(),
		inspector:      UnverifiedInspector{},
		margin:         DefaultExpiryMargin,
		restoreEcho:    true,
		now:            time.Now,
		logger:         logger,
		loggerProvider: provider,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// GetSession returns the current session, loading it from storage on first
// use. An expired stored session is refreshed when it carries a refresh
// token and dropped otherwise. Restoring a stored session emits SIGNED_IN.
func (c *Client) GetSession(ctx context.Context) (*hostel.Session, error) {
	session, restored, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	// sessions handed over by the backend in this process are trusted
	var claims TokenClaims
	if restored || session.ExpiresAt == 0 {
		claims, err = c.inspector.Inspect(session.AccessToken)
		if err != nil || (claims.Subject != "" && claims.Subject != session.UserID()) {
			c.logger.Warn("discarding session with unusable token", "subject", session.UserID(), "error", err)
			c.drop(ctx)
			return nil, nil
		}
	}

	if c.expired(session, claims) {
		refreshed, err := c.refresh(ctx, session)
		if err != nil {
			return nil, err
		}
		if refreshed == nil {
			return nil, nil
		}
		session = refreshed
	} else if restored {
		c.set(session)
	}

	if restored && c.restoreEcho {
		c.events.emit(hostel.EventSignedIn, session)
	}

	return cloneSession(session), nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*hostel.Session, error) {
	session, err := c.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if session.UserID() == "" {
		return nil, goerrors.New("sign in response has no user", goerrors.CategoryOperation).
			WithTextCode(hostel.TextCodeTransport)
	}

	c.persist(ctx, session)
	c.events.emit(hostel.EventSignedIn, session)
	return cloneSession(session), nil
}

// SignUp creates an identity. When the server returns tokens the new user is
// signed in.
func (c *Client) SignUp(ctx context.Context, email, password string) (*hostel.Session, error) {
	session, err := c.backend.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if session.UserID() == "" {
		return nil, goerrors.New("sign up response has no user", goerrors.CategoryOperation).
			WithTextCode(hostel.TextCodeTransport)
	}

	if session.HasToken() {
		c.persist(ctx, session)
		c.events.emit(hostel.EventSignedIn, session)
	}
	return cloneSession(session), nil
}

// SignOut revokes the session on the server and forgets it locally. Only
// transport failures are returned; a token the server no longer accepts is
// still cleared.
func (c *Client) SignOut(ctx context.Context) error {
	session, _, err := c.current(ctx)
	if err != nil {
		c.logger.Warn("sign out could not load stored session", "error", err)
	}

	if session.HasToken() {
		if err := c.backend.SignOut(ctx, session.AccessToken); err != nil {
			if hostel.IsTransportError(err) {
				return err
			}
			c.logger.Debug("server rejected sign out, clearing local session", "error", err)
		}
	}

	c.drop(ctx)
	c.events.emit(hostel.EventSignedOut, nil)
	return nil
}

// OnAuthStateChange registers fn for SIGNED_IN, SIGNED_OUT and
// TOKEN_REFRESHED events. Events are delivered synchronously.
func (c *Client) OnAuthStateChange(fn func(hostel.AuthEvent)) hostel.Subscription {
	return c.events.subscribe(fn)
}

// Subscribers returns the number of active subscriptions.
func (c *Client) Subscribers() int {
	return c.events.count()
}

func (c *Client) current(ctx context.Context) (*hostel.Session, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil || c.loaded {
		return cloneSession(c.session), false, nil
	}

	stored, err := c.storage.Load(ctx)
	if err != nil {
		return nil, false, err
	}
	c.loaded = true
	return stored, stored != nil, nil
}

func (c *Client) expired(session *hostel.Session, claims TokenClaims) bool {
	expiry := session.Expiry()
	if expiry.IsZero() {
		expiry = claims.ExpiresAt
	}
	if expiry.IsZero() {
		return false
	}
	return !c.now().Add(c.margin).Before(expiry)
}

// refresh swaps an expired session for a new one. It returns nil, nil when
// the session cannot be refreshed and was dropped.
func (c *Client) refresh(ctx context.Context, session *hostel.Session) (*hostel.Session, error) {
	if session.RefreshToken == "" {
		c.logger.Info("stored session expired", "subject", session.UserID())
		c.drop(ctx)
		return nil, nil
	}

	refreshed, err := c.backend.Refresh(ctx, session.RefreshToken)
	if err != nil {
		if hostel.IsTransportError(err) {
			return nil, err
		}
		c.logger.Info("stored session could not be refreshed", "subject", session.UserID(), "error", err)
		c.drop(ctx)
		return nil, nil
	}

	c.persist(ctx, refreshed)
	c.events.emit(hostel.EventTokenRefreshed, refreshed)
	return refreshed, nil
}

func (c *Client) set(session *hostel.Session) {
	c.mu.Lock()
	c.session = cloneSession(session)
	c.loaded = true
	c.mu.Unlock()
}

func (c *Client) persist(ctx context.Context, session *hostel.Session) {
	c.set(session)
	if err := c.storage.Save(ctx, session); err != nil {
		c.logger.Error("failed to persist session", "subject", session.UserID(), "error", err)
	}
}

func (c *Client) drop(ctx context.Context) {
	c.mu.Lock()
	c.session = nil
	c.loaded = true
	c.mu.Unlock()

	if err := c.storage.Clear(ctx); err != nil {
		c.logger.Error("failed to clear stored session", "error", err)
	}
}
