// Package hostel provides the authentication core shared by the hostel
// dashboards (students, caretakers, admins): a session manager that owns the
// process-wide auth state, the profile model, and the typed errors surfaced to
// the UI layer.
//
// Session lifecycle:
//   - SessionManager.Start restores any persisted session exactly once. Every
//     outcome (no session, provider error, missing profile, success) ends in a
//     single deferred finalizer that clears IsLoading and moves the manager to
//     PhaseReady.
//   - Identity provider notifications are ignored while the manager is in
//     PhaseInitializing. Providers replay a SIGNED_IN echo when they restore a
//     stored session, and applying it would race the initializer.
//   - Login validates role and approval state before committing a user.
//     Register only keeps a live session for auto approved roles (admin).
//
// Collaborators:
//   - IdentityProvider is implemented by identity.Client, which fronts either a
//     GoTrue compatible HTTP API (identity/gotrue) or the in-process authority
//     (identity/local).
//   - ProfileStore is implemented by profiles.Store on top of bun.
//
// Activity sinks:
//   - ActivitySink receives best-effort audit events (login, register, logout,
//     restored and orphaned sessions). Errors are logged and never block auth.
package hostel
