package hostel

import "context"

// handleEvent is the provider callback. It only reduces and enqueues so the
// provider is never blocked on a profile fetch. The phase is read when the
// event arrives, so anything delivered before the manager is ready is
// dropped here.
func (m *SessionManager) handleEvent(event AuthEvent) {
	if m.disposed.Load() {
		return
	}

	m.mu.RLock()
	phase := m.phase
	m.mu.RUnlock()

	action := reduceEvent(phase, event)
	switch action.kind {
	case actionDiscard:
		m.logger.Trace("auth event discarded", "event", event.Kind, "phase", phase)
		return
	case actionClear:
		// anything signed in before this point is superseded
		m.generation.Add(1)
	}
	action.generation = m.generation.Load()

	m.queueMu.Lock()
	m.queue = append(m.queue, action)
	m.queueMu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *SessionManager) loop(ctx context.Context) {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}

		for {
			action, ok := m.dequeue()
			if !ok {
				break
			}
			m.apply(ctx, action)
		}
	}
}

func (m *SessionManager) dequeue() (eventAction, bool) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()

	if len(m.queue) == 0 {
		return eventAction{}, false
	}
	action := m.queue[0]
	m.queue[0] = eventAction{}
	m.queue = m.queue[1:]
	return action, true
}

// apply runs one queued action. Fetch actions stamped with an older
// generation belong to a session that has since been signed out and are
// skipped.
func (m *SessionManager) apply(ctx context.Context, action eventAction) {
	defer m.flushChanges()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.disposed.Load() {
		return
	}

	switch action.kind {
	case actionClear:
		m.commitUser(nil)
	case actionFetch:
		if action.generation != m.generation.Load() {
			m.logger.Debug("stale sign in event skipped", "subject", action.subject)
			return
		}
		profile, err := m.profiles.FetchProfileByID(ctx, action.subject)
		if err != nil {
			m.logger.Error("sign in event failed to fetch profile", "subject", action.subject, "error", err)
			return
		}
		if profile == nil {
			m.logger.Warn("sign in event found no profile", "subject", action.subject)
			return
		}
		if action.generation != m.generation.Load() {
			return
		}
		m.commitUser(profile)
	}
}
