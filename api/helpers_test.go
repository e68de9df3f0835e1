package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/garnizeh/hostel/api"
	"github.com/garnizeh/hostel/internal/config"
	"github.com/garnizeh/hostel/internal/identity"
	"github.com/garnizeh/hostel/internal/metrics"
	"github.com/garnizeh/hostel/internal/provision"
	"github.com/garnizeh/hostel/internal/ratelimit"
	"github.com/garnizeh/hostel/pkg/models"
	"github.com/garnizeh/hostel/pkg/repository"
	"github.com/garnizeh/hostel/pkg/repository/mock"
	"github.com/gorilla/mux"
)

func init() {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	api.SetLogger(quiet)
	provision.SetLogger(quiet)
}

type env struct {
	m        *mock.Mocks
	idp      *identity.Local
	metrics  *metrics.Metrics
	router   *mux.Router
	uids     map[models.Role]string
	tokens   map[models.Role]string
	outcomes []string
	limiter  ratelimit.Limiter
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{
		m:       mock.NewMocks(),
		metrics: metrics.New(),
		uids:    map[models.Role]string{},
		tokens:  map[models.Role]string{},
	}
	e.idp = identity.NewLocal(e.m.Identities, identity.LocalConfig{
		Secret:           "testsecret",
		Issuer:           "hostel-test",
		PasswordSetupURL: "https://hostel.test/set-password",
	})
	for _, role := range []models.Role{models.RoleSuperuser, models.RoleWarden, models.RoleStudent} {
		e.addUser(t, ctx, role, string(role)+"@hostel.test")
	}

	e.route(e.m.Profiles)
	return e
}

// route rebuilds the router so handlers and Authenticate read profiles
// through profiles.
func (e *env) route(profiles repository.ProfileRepo) {
	gate := provision.NewGate(e.idp, e.m.Profiles, e.limiter, nil).WithObserver(func(o string) {
		e.outcomes = append(e.outcomes, o)
		e.metrics.ObserveProvisioning(o)
	})
	cfg := &config.Config{}
	e.router = api.SetupRoutes(cfg, "1.2.3", "2026-01-01T00:00:00Z", api.Services{
		Verifier:   e.idp,
		Passwords:  e.idp,
		Profiles:   profiles,
		Devices:    e.m.Profiles,
		Leaves:     e.m.Leaves,
		Complaints: e.m.Complaints,
		Gate:       gate,
		Metrics:    e.metrics,
	})
}

func (e *env) addUser(t *testing.T, ctx context.Context, role models.Role, email string) string {
	t.Helper()
	rec, err := e.idp.CreateUserWithPassword(ctx, identity.UserToCreate{Email: email, DisplayName: string(role)}, "password1")
	if err != nil {
		t.Fatalf("seed identity %s: %v", email, err)
	}
	e.m.Profiles.Put(models.Profile{UID: rec.UID, Email: rec.Email, Name: string(role), Role: role, Status: models.AccountActive})
	tok, err := e.idp.IssueIDToken(rec.UID, rec.Email)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, ok := e.uids[role]; !ok {
		e.uids[role] = rec.UID
		e.tokens[role] = tok
	}
	return tok
}

func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var er errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	env := struct {
		Data any `json:"data"`
	}{Data: v}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode data body %q: %v", w.Body.String(), err)
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body %s", w.Code, want, w.Body.String())
	}
}
