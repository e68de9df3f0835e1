package api

import (
	"net/http"
	"strings"

	"github.com/garnizeh/hostel/pkg/apperror"
	"github.com/garnizeh/hostel/pkg/repository"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type ProfileHandler struct {
	profiles repository.ProfileRepo
	devices  repository.DeviceRepo
}

func NewProfileHandler(pr repository.ProfileRepo, dr repository.DeviceRepo) *ProfileHandler {
	return &ProfileHandler{profiles: pr, devices: dr}
}

type updateProfileRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type registerDeviceRequest struct {
	Token string `json:"token" validate:"required,max=4096"`
}

// GetProfile returns the caller's own profile.
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, ProfileFromContext(r.Context()))
}

// UpdateProfile lets the caller change their display name. Role, status
// and student fields are edited through the users endpoints.
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		writeError(w, r, apperror.InvalidArgument("profile/invalid-name", "Name is required and must be at most 200 characters."))
		return
	}

	uid := ProfileFromContext(r.Context()).UID
	if err := h.profiles.UpdateProfileName(r.Context(), uid, req.Name); err != nil {
		writeError(w, r, apperror.Internal("profile/update-failed", "Could not update profile.", err))
		return
	}
	updated, err := h.profiles.GetProfile(r.Context(), uid)
	if err != nil {
		writeError(w, r, apperror.Internal("profile/lookup-failed", "Could not load profile.", err))
		return
	}
	if updated == nil {
		writeError(w, r, apperror.NotFound("profile/not-found", "Profile not found."))
		return
	}
	writeData(w, http.StatusOK, updated)
}

// RegisterDevice adds a push token to the caller's device set. Registering
// the same token twice is a no-op.
func (h *ProfileHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if err := validate.Struct(req); err != nil {
		writeError(w, r, apperror.InvalidArgument("devices/invalid-token", "A device token is required."))
		return
	}

	uid := ProfileFromContext(r.Context()).UID
	if err := h.devices.AddDeviceToken(r.Context(), uid, req.Token); err != nil {
		writeError(w, r, apperror.Internal("devices/register-failed", "Could not register device.", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
