package authd_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-hostel"
	"github.com/goliatone/go-hostel/authd"
	"github.com/goliatone/go-hostel/database"
	"github.com/goliatone/go-hostel/identity"
	"github.com/goliatone/go-hostel/identity/gotrue"
	"github.com/goliatone/go-hostel/identity/local"
	"github.com/goliatone/go-hostel/metrics"
	"github.com/goliatone/go-hostel/profiles"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var signingKey = []byte("authd-test-signing-key")

func TestMain(m *testing.M) {
	local.PasswordCost = bcrypt.MinCost
	os.Exit(m.Run())
}

type fixture struct {
	server    *authd.Server
	authority *local.Authority
	store     *profiles.Store
	registry  *prometheus.Registry
}

func setup(t *testing.T, opts ...authd.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(database.DriverSQLite, database.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	authority, err := local.NewAuthority(db, local.Config{SigningKey: signingKey})
	require.NoError(t, err)
	require.NoError(t, authority.CreateSchema(ctx))

	store := profiles.NewStore(db)
	require.NoError(t, store.CreateSchema(ctx))

	registry := prometheus.NewRegistry()
	collector := metrics.New()
	require.NoError(t, collector.Register(registry))

	opts = append([]authd.Option{authd.WithMetrics(collector, registry)}, opts...)
	return &fixture{
		server:    authd.New(authority, store, opts...),
		authority: authority,
		store:     store,
		registry:  registry,
	}
}

func (f *fixture) do(t *testing.T, method, target, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func (f *fixture) signUp(t *testing.T, email string) map[string]any {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/auth/v1/signup", "", map[string]string{"email": email, "password": "secret1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body
}

func (f *fixture) admin(t *testing.T) string {
	t.Helper()
	body := f.signUp(t, "warden@hostel.test")
	user := body["user"].(map[string]any)
	require.NoError(t, f.store.InsertProfile(context.Background(), &hostel.UserProfile{
		ID:       user["id"].(string),
		Email:    "warden@hostel.test",
		FullName: "Meera",
		Role:     hostel.RoleAdmin,
	}))
	return body["access_token"].(string)
}

func TestHealth(t *testing.T) {
	f := setup(t)
	resp, body := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestSignUpAndPasswordGrant(t *testing.T) {
	f := setup(t)

	body := f.signUp(t, "asha@hostel.test")
	assert.NotEmpty(t, body["access_token"])
	assert.Equal(t, "bearer", body["token_type"])

	resp, body := f.do(t, http.MethodPost, "/auth/v1/token?grant_type=password", "",
		map[string]string{"email": "asha@hostel.test", "password": "secret1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["access_token"].(string)

	resp, body = f.do(t, http.MethodGet, "/auth/v1/user", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "asha@hostel.test", body["email"])
	assert.Equal(t, local.AuthenticatedRole, body["role"])

	resp, body = f.do(t, http.MethodPost, "/auth/v1/token?grant_type=password", "",
		map[string]string{"email": "asha@hostel.test", "password": "nope-nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "authentication_failed", body["error_code"])
	assert.Equal(t, "invalid login credentials", body["msg"])

	resp, _ = f.do(t, http.MethodPost, "/auth/v1/signup", "", map[string]string{"email": "asha@hostel.test", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/auth/v1/token?grant_type=magic", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unsupported_grant_type", body["error_code"])
}

func TestRefreshAndLogout(t *testing.T) {
	f := setup(t)
	body := f.signUp(t, "asha@hostel.test")

	resp, refreshed := f.do(t, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "",
		map[string]string{"refresh_token": body["refresh_token"].(string)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := refreshed["access_token"].(string)

	resp, _ = f.do(t, http.MethodPost, "/auth/v1/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/auth/v1/logout", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "session_not_found", body["error_code"])

	resp, _ = f.do(t, http.MethodGet, "/auth/v1/user", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/auth/v1/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminApproval(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	adminToken := f.admin(t)

	student := f.signUp(t, "asha@hostel.test")
	studentID := student["user"].(map[string]any)["id"].(string)
	studentToken := student["access_token"].(string)
	require.NoError(t, f.store.InsertProfile(ctx, &hostel.UserProfile{
		ID:       studentID,
		Email:    "asha@hostel.test",
		FullName: "Asha",
		Role:     hostel.RoleStudent,
	}))

	resp, _ := f.do(t, http.MethodGet, "/admin/profiles?status=pending", studentToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/admin/profiles", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/admin/profiles?status=pending", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	raw, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, raw.StatusCode)
	var pending []hostel.UserProfile
	require.NoError(t, json.NewDecoder(raw.Body).Decode(&pending))
	require.Len(t, pending, 1)
	assert.Equal(t, studentID, pending[0].ID)

	resp, _ = f.do(t, http.MethodGet, "/admin/profiles?status=maybe", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.do(t, http.MethodPatch, "/admin/profiles/"+studentID+"/approval", adminToken,
		map[string]string{"status": "rejected", "reason": "room allocation full"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", body["approval_status"])

	resp, _ = f.do(t, http.MethodPatch, "/admin/profiles/"+studentID+"/approval", adminToken,
		map[string]string{"status": "maybe"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPatch, "/admin/profiles/nobody/approval", adminToken,
		map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	stored, err := f.store.FetchProfileByID(ctx, studentID)
	require.NoError(t, err)
	assert.Equal(t, hostel.ApprovalRejected, stored.ApprovalStatus)
}

func TestRateLimit(t *testing.T) {
	f := setup(t, authd.WithRateLimit(0.001, 2))

	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodPost, "/auth/v1/token?grant_type=password", "",
			map[string]string{"email": "nobody@hostel.test", "password": "secret1"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodPost, "/auth/v1/token?grant_type=password", "",
		map[string]string{"email": "nobody@hostel.test", "password": "secret1"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", body["error_code"])

	resp, _ = f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is not limited")
}

func TestAdminRoutesAreRateLimited(t *testing.T) {
	f := setup(t, authd.WithRateLimit(0.001, 2))
	token := f.admin(t)

	resp, _ := f.do(t, http.MethodGet, "/admin/profiles", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/admin/profiles", token, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", body["error_code"])
}

func TestBearerScheme(t *testing.T) {
	f := setup(t)
	token := f.signUp(t, "asha@hostel.test")["access_token"].(string)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"canonical", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
		{"missing separator", "Bearer" + token, http.StatusUnauthorized},
		{"scheme only", "Bearer ", http.StatusUnauthorized},
		{"other scheme", "Basic " + token, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/v1/user", nil)
			req.Header.Set("Authorization", tc.header)
			resp, err := f.server.App().Test(req, -1)
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := setup(t)
	f.do(t, http.MethodGet, "/health", "", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(raw), `hostel_http_requests_total{method="GET",route="/health",status="200"} 1`))
}

func TestSessionManagerAgainstDaemon(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	httpServer := httptest.NewServer(adaptor.FiberApp(f.server.App()))
	t.Cleanup(httpServer.Close)

	client := identity.NewClient(
		gotrue.New(gotrue.Config{URL: httpServer.URL + "/auth/v1"}),
		identity.WithTokenInspector(identity.NewHMACInspector(signingKey)),
	)
	manager := hostel.NewSessionManager(client, f.store, hostel.WithRegisterSettleDelay(0))
	t.Cleanup(manager.Dispose)
	manager.Start(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, manager.WaitReady(waitCtx))

	require.NoError(t, manager.Register(ctx, hostel.RegisterPayload{
		Email:    "ravi@hostel.test",
		Password: "secret1",
		FullName: "Ravi",
		Role:     hostel.RoleCaretaker,
	}))
	assert.Nil(t, manager.User())

	err := manager.Login(ctx, "ravi@hostel.test", "wrong-pass", hostel.RoleCaretaker)
	assert.True(t, hostel.IsAuthenticationError(err))

	err = manager.Login(ctx, "ravi@hostel.test", "secret1", hostel.RoleStudent)
	assert.True(t, hostel.IsRoleMismatch(err))

	err = manager.Login(ctx, "ravi@hostel.test", "secret1", hostel.RoleCaretaker)
	assert.True(t, hostel.IsPendingApproval(err))
	assert.Nil(t, manager.User())
}
