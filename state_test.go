package hostel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduceEvent(t *testing.T) {
	signedIn := AuthEvent{Kind: EventSignedIn, Session: &Session{User: SessionUser{ID: "u1"}}}

	tests := []struct {
		name    string
		phase   Phase
		event   AuthEvent
		kind    actionKind
		subject string
	}{
		{name: "signed in while initializing", phase: PhaseInitializing, event: signedIn, kind: actionDiscard},
		{name: "signed out while initializing", phase: PhaseInitializing, event: AuthEvent{Kind: EventSignedOut}, kind: actionDiscard},
		{name: "signed in when ready", phase: PhaseReady, event: signedIn, kind: actionFetch, subject: "u1"},
		{name: "signed in without session", phase: PhaseReady, event: AuthEvent{Kind: EventSignedIn}, kind: actionDiscard},
		{name: "signed out when ready", phase: PhaseReady, event: AuthEvent{Kind: EventSignedOut}, kind: actionClear},
		{name: "token refreshed", phase: PhaseReady, event: AuthEvent{Kind: EventTokenRefreshed, Session: signedIn.Session}, kind: actionDiscard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := reduceEvent(tt.phase, tt.event)
			assert.Equal(t, tt.kind, action.kind, action.kind.String())
			assert.Equal(t, tt.subject, action.subject)
		})
	}
}

func TestCheckLoginGate(t *testing.T) {
	tests := []struct {
		name     string
		profile  UserProfile
		asserted Role
		check    func(error) bool
	}{
		{
			name:     "approved student",
			profile:  UserProfile{Role: RoleStudent, ApprovalStatus: ApprovalApproved},
			asserted: RoleStudent,
		},
		{
			name:     "role mismatch wins over pending",
			profile:  UserProfile{Role: RoleStudent, ApprovalStatus: ApprovalPending},
			asserted: RoleCaretaker,
			check:    IsRoleMismatch,
		},
		{
			name:     "pending caretaker",
			profile:  UserProfile{Role: RoleCaretaker, ApprovalStatus: ApprovalPending},
			asserted: RoleCaretaker,
			check:    IsPendingApproval,
		},
		{
			name:     "pending admin",
			profile:  UserProfile{Role: RoleAdmin, ApprovalStatus: ApprovalPending},
			asserted: RoleAdmin,
		},
		{
			name:     "rejected student",
			profile:  UserProfile{Role: RoleStudent, ApprovalStatus: ApprovalRejected},
			asserted: RoleStudent,
			check:    IsRejected,
		},
		{
			name:     "rejected admin",
			profile:  UserProfile{Role: RoleAdmin, ApprovalStatus: ApprovalRejected},
			asserted: RoleAdmin,
			check:    IsRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkLoginGate(&tt.profile, tt.asserted)
			if tt.check == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "initializing", PhaseInitializing.String())
	assert.Equal(t, "ready", PhaseReady.String())
	assert.Equal(t, "unknown", Phase(9).String())
}

func TestResolveLogger(t *testing.T) {
	t.Run("provider wins", func(t *testing.T) {
		fallback := &captureLogger{}
		named := &captureLogger{}
		provider := &loggerProviderSpy{byName: map[string]Logger{"hostel.session": named}}

		resolvedProvider, resolved := ResolveLogger("hostel.session", provider, fallback)

		assert.Same(t, provider, resolvedProvider)
		assert.Same(t, named, resolved)
		assert.Equal(t, []string{"hostel.session"}, provider.names)
	})

	t.Run("explicit logger when provider has none", func(t *testing.T) {
		fallback := &captureLogger{}
		provider := &loggerProviderSpy{}

		resolvedProvider, resolved := ResolveLogger("hostel.session", provider, fallback)

		assert.Same(t, fallback, resolved)
		assert.NotNil(t, resolvedProvider.GetLogger("other"))
	})

	t.Run("default logger", func(t *testing.T) {
		provider, logger := ResolveLogger("hostel.session", nil, nil)
		assert.NotNil(t, logger)
		assert.NotNil(t, provider.GetLogger("x"))
	})
}

func TestNewLoggerProvider(t *testing.T) {
	for _, level := range []string{"trace", "debug", "info", "warn", "error", "bogus", ""} {
		provider := NewLoggerProvider("hostel-test", level)
		require.NotNil(t, provider, level)
		assert.NotNil(t, provider.GetLogger("hostel.session"), level)
	}
}

func TestSessionManagerLogsDiscardedEvents(t *testing.T) {
	logger := &captureLogger{}
	manager := NewSessionManager(nil, nil, WithManagerLogger(logger))

	manager.handleEvent(AuthEvent{Kind: EventSignedIn, Session: &Session{User: SessionUser{ID: "u1"}}})

	require.Len(t, logger.calls, 1)
	assert.Equal(t, "trace", logger.calls[0].level)
	assert.Equal(t, "auth event discarded", logger.calls[0].message)
	assert.True(t, manager.IsLoading())
}

func TestActivitySinks(t *testing.T) {
	var seen []ActivityEventType
	first := ActivitySinkFunc(func(_ context.Context, event ActivityEvent) error {
		seen = append(seen, event.EventType)
		return nil
	})
	failing := ActivitySinkFunc(func(context.Context, ActivityEvent) error {
		return ErrTransport
	})

	sink := MultiActivitySink{first, nil, failing, first}
	err := sink.Record(context.Background(), newActivityEvent(ActivityEventLogout, "u1", RoleStudent, nil, time.Now()))

	assert.Error(t, err)
	assert.Equal(t, []ActivityEventType{ActivityEventLogout, ActivityEventLogout}, seen)
	assert.NoError(t, normalizeActivitySink(nil).Record(context.Background(), ActivityEvent{}))
	assert.NoError(t, ActivitySinkFunc(nil).Record(context.Background(), ActivityEvent{}))
}
