package hostel

// Phase is the readiness of a SessionManager. It only ever moves from
// PhaseInitializing to PhaseReady.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	default:
		return "unknown"
	}
}

// AuthState is a read-only snapshot of the session manager state.
type AuthState struct {
	User      *UserProfile `json:"user"`
	IsLoading bool         `json:"is_loading"`
}

// IsAuthenticated reports whether a user is set.
func (s AuthState) IsAuthenticated() bool {
	return s.User != nil
}

type actionKind int

const (
	actionDiscard actionKind = iota
	actionFetch
	actionClear
)

func (k actionKind) String() string {
	switch k {
	case actionFetch:
		return "fetch"
	case actionClear:
		return "clear"
	default:
		return "discard"
	}
}

// eventAction is what the event loop does for one provider notification.
type eventAction struct {
	kind       actionKind
	subject    string
	generation uint64
}

// reduceEvent maps (phase, event) to the action the event loop applies.
// Nothing is applied before the manager is ready.
func reduceEvent(phase Phase, event AuthEvent) eventAction {
	if phase != PhaseReady {
		return eventAction{kind: actionDiscard}
	}

	switch event.Kind {
	case EventSignedIn:
		if event.Session.UserID() == "" {
			return eventAction{kind: actionDiscard}
		}
		return eventAction{kind: actionFetch, subject: event.Session.UserID()}
	case EventSignedOut:
		return eventAction{kind: actionClear}
	default:
		return eventAction{kind: actionDiscard}
	}
}

// checkLoginGate enforces the role and approval rules applied on login.
func checkLoginGate(profile *UserProfile, asserted Role) error {
	if profile.Role != asserted {
		return roleMismatchError(asserted, profile.Role)
	}

	if profile.Role != RoleAdmin && profile.ApprovalStatus == ApprovalPending {
		return derive(ErrPendingApproval, nil, "", nil)
	}

	if profile.ApprovalStatus == ApprovalRejected {
		return rejectedError(profile.RejectionReason)
	}

	return nil
}
