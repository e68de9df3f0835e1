package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/garnizeh/hostel/internal/identity"
	"github.com/garnizeh/hostel/pkg/models"
	"github.com/garnizeh/hostel/pkg/repository"
)

// PasswordAuth is satisfied by *identity.Local.
type PasswordAuth interface {
	SignIn(ctx context.Context, email, password string) (string, *identity.UserRecord, error)
	CompletePasswordSetup(ctx context.Context, token, password string) error
}

type AuthHandler struct {
	auth     PasswordAuth
	profiles repository.ProfileRepo
}

// NewAuthHandler creates a new AuthHandler with required dependencies.
func NewAuthHandler(a PasswordAuth, pr repository.ProfileRepo) *AuthHandler {
	return &AuthHandler{auth: a, profiles: pr}
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token   string          `json:"token"`
	Profile *models.Profile `json:"profile"`
}

type passwordSetupRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeErrorStatus(w, http.StatusBadRequest, "request/missing-fields", "Email and password are required.")
		return
	}

	tok, rec, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeErrorStatus(w, http.StatusUnauthorized, "auth/invalid-credentials", "Credentials not found.")
		return
	case errors.Is(err, identity.ErrUserDisabled):
		writeErrorStatus(w, http.StatusForbidden, CodeInactive, "Account is disabled.")
		return
	case err != nil:
		logger.Error("signin", slog.Any("err", err))
		writeErrorStatus(w, http.StatusInternalServerError, "internal", "Internal Server Error")
		return
	}

	p, err := h.profiles.GetProfile(r.Context(), rec.UID)
	if err != nil {
		logger.Error("signin: load profile", slog.String("uid", rec.UID), slog.Any("err", err))
		writeErrorStatus(w, http.StatusInternalServerError, "internal", "Internal Server Error")
		return
	}
	if p == nil {
		writeErrorStatus(w, http.StatusUnauthorized, CodeProfileMissing, "Account profile not found.")
		return
	}
	if !p.Active() {
		writeErrorStatus(w, http.StatusForbidden, CodeInactive, "Account is inactive.")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: tok, Profile: p})
}

// CompletePasswordSetup sets the password for the account named by a
// setup token from the password setup mail.
func (h *AuthHandler) CompletePasswordSetup(w http.ResponseWriter, r *http.Request) {
	var req passwordSetupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Token == "" || req.Password == "" {
		writeErrorStatus(w, http.StatusBadRequest, "request/missing-fields", "Token and password are required.")
		return
	}

	err := h.auth.CompletePasswordSetup(r.Context(), req.Token, req.Password)
	switch {
	case errors.Is(err, identity.ErrWeakPassword):
		writeErrorStatus(w, http.StatusBadRequest, "auth/weak-password", err.Error())
		return
	case errors.Is(err, identity.ErrInvalidToken), errors.Is(err, identity.ErrUserNotFound):
		writeErrorStatus(w, http.StatusBadRequest, "auth/invalid-setup-token", "The password setup link is invalid or expired.")
		return
	case err != nil:
		logger.Error("password setup", slog.Any("err", err))
		writeErrorStatus(w, http.StatusInternalServerError, "internal", "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password set"})
}
