package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/goliatone/go-hostel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	signedIn  = regexp.MustCompile(`"authenticated":\s*true`)
	signedOut = regexp.MustCompile(`"authenticated":\s*false`)
)

func localEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOSTEL_CONFIG", "")
	t.Setenv("HOSTEL_LOG_LEVEL", "error")
	t.Setenv("HOSTEL_DATABASE_DRIVER", "sqlite")
	t.Setenv("HOSTEL_DATABASE_DSN", "file:"+filepath.Join(dir, "hostel.db")+"?_pragma=foreign_keys(1)")
	t.Setenv("HOSTEL_IDENTITY_SESSION_FILE", filepath.Join(dir, "session.json"))
	t.Setenv("HOSTEL_AUTHD_SIGNING_KEY", "a-test-signing-key-of-some-length")
	t.Setenv("HOSTEL_SESSION_REGISTER_SETTLE_DELAY", "0s")
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), append([]string{"--local"}, args...), &out)
	return out.String(), err
}

func TestAdminSessionSurvivesAcrossRuns(t *testing.T) {
	localEnv(t)

	out, err := runCLI(t, "register",
		"--email", "warden@example.com", "--password", "secret-pass",
		"--name", "Head Warden", "--role", "admin")
	require.NoError(t, err)
	assert.Regexp(t, signedIn, out)

	out, err = runCLI(t, "whoami")
	require.NoError(t, err)
	assert.Regexp(t, signedIn, out)
	assert.Contains(t, out, "warden@example.com")

	out, err = runCLI(t, "logout")
	require.NoError(t, err)
	assert.Regexp(t, signedOut, out)

	out, err = runCLI(t, "whoami")
	require.NoError(t, err)
	assert.Regexp(t, signedOut, out)
}

func TestStudentLoginWaitsForApproval(t *testing.T) {
	localEnv(t)

	out, err := runCLI(t, "register",
		"--email", "ana@example.com", "--password", "secret-pass",
		"--name", "Ana", "--role", "student", "--hostel", "h-1", "--room", "12")
	require.NoError(t, err)
	assert.Regexp(t, signedOut, out)

	_, err = runCLI(t, "login", "--email", "ana@example.com", "--password", "secret-pass", "--role", "student")
	require.Error(t, err)
	assert.Equal(t, hostel.TextCodePending, hostel.TextCodeOf(err))

	_, err = runCLI(t, "login", "--email", "ana@example.com", "--password", "secret-pass", "--role", "admin")
	require.Error(t, err)
	assert.Equal(t, hostel.TextCodeRoleMismatch, hostel.TextCodeOf(err))
}

func TestUsageErrors(t *testing.T) {
	localEnv(t)

	_, err := runCLI(t)
	assert.EqualError(t, err, "missing command")

	_, err = runCLI(t, "checkout")
	assert.EqualError(t, err, `unknown command "checkout"`)

	_, err = runCLI(t, "login", "--bogus")
	assert.Error(t, err)

	_, err = runCLI(t, "login", "--email", "not-an-email", "--password", "x")
	require.Error(t, err)
	assert.Equal(t, hostel.TextCodeInvalidPayload, hostel.TextCodeOf(err))
}

func TestAuditFileRecordsActivity(t *testing.T) {
	localEnv(t)
	audit := filepath.Join(t.TempDir(), "audit.jsonl")

	_, err := runCLI(t, "--audit-file", audit, "register",
		"--email", "cara@example.com", "--password", "secret-pass",
		"--name", "Cara", "--role", "caretaker", "--hostel", "h-2")
	require.NoError(t, err)

	_, err = runCLI(t, "--audit-file", audit, "login",
		"--email", "cara@example.com", "--password", "wrong-pass", "--role", "caretaker")
	require.Error(t, err)

	raw, err := os.ReadFile(audit)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"verb":"auth.register"`)
	assert.Contains(t, string(raw), `"verb":"auth.login.failure"`)
	assert.Contains(t, string(raw), `"actor_id":"hostelctl"`)
}

func TestMetricsFileCountsRunEvents(t *testing.T) {
	localEnv(t)
	prom := filepath.Join(t.TempDir(), "hostelctl.prom")

	_, err := runCLI(t, "--metrics-file", prom, "register",
		"--email", "dev@example.com", "--password", "secret-pass",
		"--name", "Dev", "--role", "student", "--hostel", "h-3")
	require.NoError(t, err)

	raw, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `hostel_auth_events_total{event="auth.register",role="student"} 1`)

	_, err = runCLI(t, "--metrics-file", prom, "login",
		"--email", "dev@example.com", "--password", "secret-pass", "--role", "student")
	require.Error(t, err)

	raw, err = os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `hostel_login_failures_total{code="APPROVAL_PENDING"} 1`)
	assert.NotContains(t, string(raw), `event="auth.register"`, "each run writes its own counters")
}
