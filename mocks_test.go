package hostel_test

import (
	"context"
	"sync"

	"github.com/goliatone/go-hostel"
	"github.com/stretchr/testify/mock"
)

// MockProfileStore implements hostel.ProfileStore
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) FetchProfileByID(ctx context.Context, id string) (*hostel.UserProfile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hostel.UserProfile), args.Error(1)
}

func (m *MockProfileStore) FetchProfileFields(ctx context.Context, id string, fields ...string) (*hostel.UserProfile, error) {
	args := m.Called(ctx, id, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hostel.UserProfile), args.Error(1)
}

func (m *MockProfileStore) InsertProfile(ctx context.Context, profile *hostel.UserProfile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

// MockIdentityProvider implements hostel.IdentityProvider. Calls are
// recorded with testify; listeners registered through OnAuthStateChange can
// be driven with Emit, and EchoOnSignIn/EchoOnSignOut make the mock emit the
// way a real provider does.
type MockIdentityProvider struct {
	mock.Mock

	EchoOnSignIn  bool
	EchoOnSignOut bool
	// OnSubscribe runs after a listener is registered.
	OnSubscribe func()

	mu        sync.Mutex
	listeners map[int]func(hostel.AuthEvent)
	nextID    int
}

func (m *MockIdentityProvider) GetSession(ctx context.Context) (*hostel.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*hostel.Session), args.Error(1)
}

func (m *MockIdentityProvider) SignInWithPassword(ctx context.Context, email, password string) (*hostel.Session, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	session := args.Get(0).(*hostel.Session)
	if m.EchoOnSignIn {
		m.Emit(hostel.AuthEvent{Kind: hostel.EventSignedIn, Session: session})
	}
	return session, args.Error(1)
}

func (m *MockIdentityProvider) SignUp(ctx context.Context, email, password string) (*hostel.Session, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	session := args.Get(0).(*hostel.Session)
	if m.EchoOnSignIn {
		m.Emit(hostel.AuthEvent{Kind: hostel.EventSignedIn, Session: session})
	}
	return session, args.Error(1)
}

func (m *MockIdentityProvider) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	if args.Error(0) == nil && m.EchoOnSignOut {
		m.Emit(hostel.AuthEvent{Kind: hostel.EventSignedOut})
	}
	return args.Error(0)
}

func (m *MockIdentityProvider) OnAuthStateChange(fn func(hostel.AuthEvent)) hostel.Subscription {
	m.mu.Lock()
	if m.listeners == nil {
		m.listeners = map[int]func(hostel.AuthEvent){}
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	if m.OnSubscribe != nil {
		m.OnSubscribe()
	}

	return hostel.SubscriptionFunc(func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	})
}

// Emit delivers event synchronously to every listener.
func (m *MockIdentityProvider) Emit(event hostel.AuthEvent) {
	m.mu.Lock()
	listeners := make([]func(hostel.AuthEvent), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
}

// Listeners returns the number of active subscriptions.
func (m *MockIdentityProvider) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

func newSession(subject string) *hostel.Session {
	return &hostel.Session{
		AccessToken: "token-" + subject,
		TokenType:   "bearer",
		User:        hostel.SessionUser{ID: subject, Email: subject + "@hostel.test"},
	}
}
