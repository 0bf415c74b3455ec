package hostel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DefaultRegisterSettleDelay is how long Register waits before reading back
// an admin profile, leaving room for backend triggers to run.
const DefaultRegisterSettleDelay = 500 * time.Millisecond

// ManagerOption customizes SessionManager construction.
type ManagerOption func(*SessionManager)

// WithManagerLogger overrides the logger.
func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.loggerProvider, m.logger = ResolveLogger("hostel.session", nil, logger)
		}
	}
}

// WithManagerLoggerProvider resolves the "hostel.session" logger from provider.
func WithManagerLoggerProvider(provider LoggerProvider) ManagerOption {
	return func(m *SessionManager) {
		m.loggerProvider, m.logger = ResolveLogger("hostel.session", provider, m.logger)
	}
}

// WithManagerActivitySink sets the sink used to publish auth events.
func WithManagerActivitySink(sink ActivitySink) ManagerOption {
	return func(m *SessionManager) {
		m.activity = normalizeActivitySink(sink)
	}
}

// WithRegisterSettleDelay overrides DefaultRegisterSettleDelay. Zero disables
// the wait.
func WithRegisterSettleDelay(d time.Duration) ManagerOption {
	return func(m *SessionManager) {
		if d >= 0 {
			m.settleDelay = d
		}
	}
}

// WithManagerClock injects a custom clock (useful for tests).
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// SessionManager owns the authentication state of one client process. Build
// it in the composition root, call Start once, and Dispose on shutdown.
type SessionManager struct {
	provider IdentityProvider
	profiles ProfileStore

	mu    sync.RWMutex
	state AuthState
	phase Phase
	ready chan struct{}

	// opMu serializes initialization, the explicit operations and the
	// application of queued events.
	opMu       sync.Mutex
	generation atomic.Uint64

	started     atomic.Bool
	disposed    atomic.Bool
	changed     atomic.Bool
	startOnce   sync.Once
	disposeOnce sync.Once

	queueMu sync.Mutex
	queue   []eventAction
	wake    chan struct{}
	done    chan struct{}

	// guarded by mu
	loopCancel   context.CancelFunc
	subscription Subscription

	observersMu  sync.Mutex
	observers    map[uint64]func(AuthState)
	nextObserver uint64

	settleDelay    time.Duration
	activity       ActivitySink
	logger         Logger
	loggerProvider LoggerProvider
	now            func() time.Time
}

// NewSessionManager returns a manager in PhaseInitializing with IsLoading set.
func NewSessionManager(provider IdentityProvider, profiles ProfileStore, opts ...ManagerOption) *SessionManager {
	loggerProvider, logger := ResolveLogger("hostel.session", nil, nil)

	m := &SessionManager{
		provider:       provider,
		profiles:       profiles,
		state:          AuthState{IsLoading: true},
		phase:          PhaseInitializing,
		ready:          make(chan struct{}),
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
		observers:      map[uint64]func(AuthState){},
		settleDelay:    DefaultRegisterSettleDelay,
		activity:       noopActivitySink{},
		logger:         logger,
		loggerProvider: loggerProvider,
		now:            time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Start subscribes to the identity provider and runs initialization. It
// returns once the manager is ready; later calls are no-ops.
func (m *SessionManager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		if m.disposed.Load() {
			return
		}
		m.started.Store(true)

		loopCtx, cancel := context.WithCancel(context.Background())
		m.mu.Lock()
		m.loopCancel = cancel
		m.mu.Unlock()

		subscription := m.provider.OnAuthStateChange(m.handleEvent)

		m.mu.Lock()
		if m.disposed.Load() {
			m.mu.Unlock()
			if subscription != nil {
				subscription.Unsubscribe()
			}
			cancel()
			return
		}
		m.subscription = subscription
		m.mu.Unlock()

		go m.loop(loopCtx)
		m.initialize(ctx)
	})
}

// Dispose unsubscribes from the provider and stops the event loop. State is
// never written after Dispose returns.
func (m *SessionManager) Dispose() {
	m.disposeOnce.Do(func() {
		m.mu.Lock()
		m.disposed.Store(true)
		subscription, cancel := m.subscription, m.loopCancel
		m.subscription, m.loopCancel = nil, nil
		m.mu.Unlock()

		if subscription != nil {
			subscription.Unsubscribe()
		}
		if cancel != nil {
			cancel()
		}
		close(m.done)
	})
}

// State returns a snapshot of the current state.
func (m *SessionManager) State() AuthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return AuthState{User: m.state.User.Clone(), IsLoading: m.state.IsLoading}
}

// User returns the current profile or nil.
func (m *SessionManager) User() *UserProfile {
	return m.State().User
}

// IsLoading reports whether initialization is still running.
func (m *SessionManager) IsLoading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.IsLoading
}

// IsAuthenticated reports whether a user is set.
func (m *SessionManager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.User != nil
}

// Phase returns the readiness phase.
func (m *SessionManager) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Ready is closed once initialization finished.
func (m *SessionManager) Ready() <-chan struct{} {
	return m.ready
}

// WaitReady blocks until the manager is ready or ctx is done.
func (m *SessionManager) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled while waiting for session initialization")
	}
}

// OnChange registers fn to be called with a snapshot after every committed
// state change. Observers run after the operation that changed the state has
// released the manager, so they may call Login, Register or Logout. The
// returned func removes it.
func (m *SessionManager) OnChange(fn func(AuthState)) func() {
	if fn == nil {
		return func() {}
	}

	m.observersMu.Lock()
	id := m.nextObserver
	m.nextObserver++
	m.observers[id] = fn
	m.observersMu.Unlock()

	return func() {
		m.observersMu.Lock()
		delete(m.observers, id)
		m.observersMu.Unlock()
	}
}

// initialize computes the starting state. Every path, including a panic in a
// collaborator, ends in finishInitialization.
func (m *SessionManager) initialize(ctx context.Context) {
	defer m.flushChanges()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	var staged *UserProfile
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session initialization panicked", "panic", r)
			staged = nil
		}
		m.finishInitialization(staged)
	}()

	session, err := m.provider.GetSession(ctx)
	if err != nil {
		m.logger.Error("session initialization failed to get session", "error", TransportError(err))
		return
	}

	if session == nil || session.UserID() == "" {
		m.logger.Debug("session initialization found no session")
		return
	}

	subject := session.UserID()
	profile, err := m.profiles.FetchProfileByID(ctx, subject)
	if err != nil || profile == nil {
		if err != nil {
			m.logger.Error("session initialization failed to fetch profile", "subject", subject, "error", err)
		} else {
			m.logger.Warn("session initialization found no profile for session", "subject", subject)
		}
		m.signOutQuietly(ctx, "orphaned session")
		m.recordActivity(ctx, newActivityEvent(ActivityEventSessionOrphaned, subject, "", nil, m.now()))
		return
	}

	staged = profile
	m.recordActivity(ctx, newActivityEvent(ActivityEventSessionRestored, subject, profile.Role, nil, m.now()))
}

func (m *SessionManager) finishInitialization(user *UserProfile) {
	m.mu.Lock()
	if m.disposed.Load() {
		m.mu.Unlock()
		return
	}
	m.state = AuthState{User: user, IsLoading: false}
	m.phase = PhaseReady
	m.mu.Unlock()

	close(m.ready)
	m.changed.Store(true)
}

// Login authenticates and commits the user only when the stored role matches
// role and the account is approved. On failure state is left untouched and
// the provider session is signed out.
func (m *SessionManager) Login(ctx context.Context, email, password string, role Role) error {
	payload := LoginPayload{Email: email, Password: password, Role: role}
	if err := payload.Validate(); err != nil {
		return err
	}

	defer m.flushChanges()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	session, err := m.provider.SignInWithPassword(ctx, payload.Email, payload.Password)
	if err != nil {
		err = authenticationError(err)
		m.recordLoginFailure(ctx, "", role, err)
		return err
	}

	subject := session.UserID()

	gate, err := m.profiles.FetchProfileFields(ctx, subject, ColumnRole, ColumnApprovalStatus, ColumnRejectionReason)
	switch {
	case err != nil:
		return m.rejectLogin(ctx, subject, role, profileLookupError(subject, err))
	case gate == nil:
		return m.rejectLogin(ctx, subject, role, profileNotFoundError(subject))
	}

	if err := checkLoginGate(gate, role); err != nil {
		return m.rejectLogin(ctx, subject, role, err)
	}

	profile, err := m.profiles.FetchProfileByID(ctx, subject)
	switch {
	case err != nil:
		return m.rejectLogin(ctx, subject, role, profileLookupError(subject, err))
	case profile == nil:
		return m.rejectLogin(ctx, subject, role, profileNotFoundError(subject))
	}

	m.commitUser(profile)
	m.recordActivity(ctx, newActivityEvent(ActivityEventLoginSuccess, subject, role, nil, m.now()))

	return nil
}

func (m *SessionManager) rejectLogin(ctx context.Context, subject string, role Role, err error) error {
	m.signOutQuietly(ctx, "rejected login")
	m.recordLoginFailure(ctx, subject, role, err)
	return err
}

func (m *SessionManager) recordLoginFailure(ctx context.Context, subject string, role Role, err error) {
	m.logger.Info("login rejected", "subject", subject, "role", role, "error", err)
	m.recordActivity(ctx, newActivityEvent(ActivityEventLoginFailure, subject, role, map[string]any{
		"error": err.Error(),
		"code":  TextCodeOf(err),
	}, m.now()))
}

// Register creates the identity and its profile. Only admins end up signed
// in; every other role is signed out right after the profile is stored.
func (m *SessionManager) Register(ctx context.Context, payload RegisterPayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}

	defer m.flushChanges()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	session, err := m.provider.SignUp(ctx, payload.Email, payload.Password)
	if err != nil {
		return authenticationError(err)
	}

	subject := session.UserID()
	profile := payload.Profile(subject)

	if err := m.profiles.InsertProfile(ctx, profile); err != nil {
		m.signOutQuietly(ctx, "profile creation failed")
		m.logger.Error("register failed to insert profile", "subject", subject, "error", err)
		return profileCreationError(subject, err)
	}

	m.recordActivity(ctx, newActivityEvent(ActivityEventRegister, subject, profile.Role, map[string]any{
		"approval_status": string(profile.ApprovalStatus),
	}, m.now()))

	if profile.Role != RoleAdmin {
		m.signOutQuietly(ctx, "registration pending approval")
		return nil
	}

	if err := m.settle(ctx); err != nil {
		m.signOutQuietly(ctx, "registration cancelled")
		return err
	}

	full, err := m.profiles.FetchProfileByID(ctx, subject)
	switch {
	case err != nil:
		m.signOutQuietly(ctx, "profile read back failed")
		return profileLookupError(subject, err)
	case full == nil:
		m.signOutQuietly(ctx, "profile read back failed")
		return profileNotFoundError(subject)
	}

	m.commitUser(full)
	return nil
}

// Logout signs out of the provider and clears the user. Provider errors are
// returned and leave the state as it was.
func (m *SessionManager) Logout(ctx context.Context) error {
	defer m.flushChanges()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	current := m.User()

	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Error("logout failed", "error", err)
		return signOutError(err)
	}

	m.generation.Add(1)
	m.commitUser(nil)

	var subject string
	var role Role
	if current != nil {
		subject, role = current.ID, current.Role
	}
	m.recordActivity(ctx, newActivityEvent(ActivityEventLogout, subject, role, nil, m.now()))

	return nil
}

func (m *SessionManager) settle(ctx context.Context) error {
	if m.settleDelay <= 0 {
		return nil
	}

	timer := time.NewTimer(m.settleDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during registration")
	}
}

// signOutQuietly signs out as cleanup. Any SIGNED_IN event queued before this
// point is invalidated.
func (m *SessionManager) signOutQuietly(ctx context.Context, reason string) {
	m.generation.Add(1)
	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Warn("cleanup sign out failed", "reason", reason, "error", err)
	}
}

func (m *SessionManager) commitUser(profile *UserProfile) {
	m.mu.Lock()
	if m.disposed.Load() {
		m.mu.Unlock()
		return
	}
	m.state.User = profile.Clone()
	m.mu.Unlock()

	m.changed.Store(true)
}

// flushChanges notifies observers of changes committed by the caller. It is
// deferred ahead of taking opMu so it runs once opMu is released.
func (m *SessionManager) flushChanges() {
	if m.changed.Swap(false) && !m.disposed.Load() {
		m.notify()
	}
}

func (m *SessionManager) notify() {
	snapshot := m.State()

	m.observersMu.Lock()
	observers := make([]func(AuthState), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.observersMu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}

func (m *SessionManager) recordActivity(ctx context.Context, event ActivityEvent) {
	if err := normalizeActivitySink(m.activity).Record(ctx, event); err != nil {
		m.logger.Warn("activity sink error", "error", err)
	}
}
