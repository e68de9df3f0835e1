package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/garnizeh/hostel/internal/identity"
	"github.com/garnizeh/hostel/pkg/models"
)

func TestSigninHandler(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name       string
		body       any
		wantStatus int
	}{
		{name: "InvalidRequest", body: "not a json", wantStatus: http.StatusBadRequest},
		{name: "MissingPassword", body: map[string]string{"email": "warden@hostel.test"}, wantStatus: http.StatusBadRequest},
		{name: "WrongPassword", body: map[string]string{"email": "warden@hostel.test", "password": "nope-nope"}, wantStatus: http.StatusUnauthorized},
		{name: "UnknownEmail", body: map[string]string{"email": "ghost@hostel.test", "password": "password1"}, wantStatus: http.StatusUnauthorized},
		{name: "Success", body: map[string]string{"email": "Warden@hostel.test", "password": "password1"}, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/v1/auth/signin", "", tt.body)
			expectStatus(t, w, tt.wantStatus)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var ar struct {
				Token   string         `json:"token"`
				Profile models.Profile `json:"profile"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &ar); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ar.Token == "" || ar.Profile.Role != models.RoleWarden {
				t.Fatalf("unexpected response %+v", ar)
			}
			// the issued token authenticates the caller
			expectStatus(t, e.do(t, http.MethodGet, "/v1/profile", ar.Token, nil), http.StatusOK)
		})
	}
}

func TestSigninInactiveAccount(t *testing.T) {
	e := newEnv(t)
	p, _ := e.m.Profiles.GetProfile(context.Background(), e.uids[models.RoleStudent])
	p.Status = models.AccountInactive
	e.m.Profiles.Put(*p)

	w := e.do(t, http.MethodPost, "/v1/auth/signin", "", map[string]string{"email": "student@hostel.test", "password": "password1"})
	expectStatus(t, w, http.StatusForbidden)
	// outstanding tokens stop working too
	expectStatus(t, e.do(t, http.MethodGet, "/v1/profile", e.tokens[models.RoleStudent], nil), http.StatusForbidden)
}

func TestPasswordSetupFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec, err := e.idp.CreateUser(ctx, identity.UserToCreate{Email: "fresh@hostel.test", DisplayName: "Fresh"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	e.m.Profiles.Put(models.Profile{UID: rec.UID, Email: rec.Email, Name: "Fresh", Role: models.RoleStudent, Status: models.AccountActive})

	link, err := e.idp.PasswordSetupLink(ctx, "fresh@hostel.test")
	if err != nil {
		t.Fatalf("PasswordSetupLink: %v", err)
	}
	u, _ := url.Parse(link)
	setup := u.Query().Get("token")

	expectStatus(t, e.do(t, http.MethodPost, "/v1/auth/password", "", map[string]string{"token": "bogus", "password": "long enough"}), http.StatusBadRequest)
	expectStatus(t, e.do(t, http.MethodPost, "/v1/auth/password", "", map[string]string{"token": setup, "password": "short"}), http.StatusBadRequest)
	expectStatus(t, e.do(t, http.MethodPost, "/v1/auth/password", "", map[string]string{"token": setup, "password": "long enough"}), http.StatusOK)

	expectStatus(t, e.do(t, http.MethodPost, "/v1/auth/signin", "", map[string]string{"email": "fresh@hostel.test", "password": "long enough"}), http.StatusOK)

	// the link is spent once a password is set
	expectStatus(t, e.do(t, http.MethodPost, "/v1/auth/password", "", map[string]string{"token": setup, "password": "someone else"}), http.StatusBadRequest)
	expectStatus(t, e.do(t, http.MethodPost, "/v1/auth/signin", "", map[string]string{"email": "fresh@hostel.test", "password": "someone else"}), http.StatusUnauthorized)
}

func TestDeletedIdentityForcesSignOut(t *testing.T) {
	e := newEnv(t)
	if err := e.idp.DeleteUser(context.Background(), e.uids[models.RoleStudent]); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	w := e.do(t, http.MethodGet, "/v1/profile", e.tokens[models.RoleStudent], nil)
	expectStatus(t, w, http.StatusUnauthorized)
	if er := decodeError(t, w); er.Error.Code != "auth/profile-missing" {
		t.Fatalf("code = %q", er.Error.Code)
	}
}
