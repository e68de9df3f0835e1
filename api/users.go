package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/garnizeh/hostel/pkg/apperror"
	"github.com/garnizeh/hostel/pkg/models"
	"github.com/garnizeh/hostel/pkg/repository"
	"github.com/gorilla/mux"
)

// UsersHandler serves account administration for wardens and superusers.
// Wardens manage students; superusers manage students and wardens.
type UsersHandler struct {
	profiles repository.ProfileRepo
}

func NewUsersHandler(pr repository.ProfileRepo) *UsersHandler {
	return &UsersHandler{profiles: pr}
}

type updateUserRequest struct {
	Name     *string               `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Role     *models.Role          `json:"role,omitempty"`
	Status   *models.AccountStatus `json:"status,omitempty"`
	RollNo   *string               `json:"rollNo,omitempty" validate:"omitempty,max=50"`
	HostelNo *string               `json:"hostelNo,omitempty" validate:"omitempty,max=50"`
	RoomNo   *string               `json:"roomNo,omitempty" validate:"omitempty,max=50"`
}

// canManage reports whether caller may edit target.
func canManage(caller models.Role, target models.Role) bool {
	switch caller {
	case models.RoleSuperuser:
		return target == models.RoleStudent || target == models.RoleWarden
	case models.RoleWarden:
		return target == models.RoleStudent
	default:
		return false
	}
}

func (h *UsersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	caller := ProfileFromContext(r.Context())
	q := r.URL.Query()
	f := models.ProfileFilter{
		Role:   models.Role(q.Get("role")),
		Status: models.AccountStatus(q.Get("status")),
	}
	if f.Role != "" && !f.Role.Valid() {
		writeError(w, r, apperror.InvalidArgument("users/invalid-role", "Unknown role filter."))
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, r, apperror.InvalidArgument("users/invalid-status", "Unknown status filter."))
		return
	}
	if caller.Role == models.RoleWarden {
		if f.Role != "" && f.Role != models.RoleStudent {
			writeError(w, r, apperror.PermissionDenied(CodeForbidden, "Wardens can only list students."))
			return
		}
		f.Role = models.RoleStudent
	}

	users, err := h.profiles.ListProfiles(r.Context(), f)
	if err != nil {
		writeError(w, r, apperror.Internal("users/list-failed", "Could not list users.", err))
		return
	}
	if users == nil {
		users = []models.Profile{}
	}
	writeData(w, http.StatusOK, users)
}

// UpdateUser edits another account. Setting status to inactive is the soft
// delete; only superusers change roles, and only between student and
// warden.
func (h *UsersHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	caller := ProfileFromContext(r.Context())
	uid := mux.Vars(r)["uid"]

	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, apperror.InvalidArgument("users/invalid-payload", "Invalid user fields."))
		return
	}

	if uid == caller.UID {
		writeError(w, r, apperror.PermissionDenied(CodeForbidden, "Use the profile endpoint to edit your own account."))
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		writeError(w, r, apperror.InvalidArgument("users/invalid-status", "Status must be active or inactive."))
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			writeError(w, r, apperror.InvalidArgument("users/invalid-payload", "Name cannot be empty."))
			return
		}
		req.Name = &name
	}

	// Authorization runs against the stored profile inside the update, so a
	// concurrent role change cannot widen what the caller may edit.
	target, err := h.profiles.UpdateProfile(r.Context(), uid, func(target *models.Profile) error {
		return applyUserUpdate(caller.Role, target, req)
	})
	if err != nil {
		if apperror.KindOf(err) != apperror.KindInternal {
			writeError(w, r, err)
			return
		}
		writeError(w, r, apperror.Internal("users/update-failed", "Could not update user.", err))
		return
	}
	if target == nil {
		writeError(w, r, apperror.NotFound("users/not-found", "User not found."))
		return
	}
	logger.Info("user updated",
		slog.String("uid", target.UID),
		slog.String("by", caller.UID),
		slog.String("role", string(target.Role)),
		slog.String("status", string(target.Status)),
	)
	writeData(w, http.StatusOK, target)
}

// applyUserUpdate edits target in place after checking that a caller with
// role callerRole may make the requested changes. Fields absent from req
// keep their stored values.
func applyUserUpdate(callerRole models.Role, target *models.Profile, req updateUserRequest) error {
	if !canManage(callerRole, target.Role) {
		return apperror.PermissionDenied(CodeForbidden, "You cannot modify this user.")
	}
	if req.Role != nil && *req.Role != target.Role {
		if callerRole != models.RoleSuperuser {
			return apperror.PermissionDenied(CodeForbidden, "Only a superuser can change roles.")
		}
		if *req.Role != models.RoleStudent && *req.Role != models.RoleWarden {
			return apperror.InvalidArgument("users/invalid-role", "Role must be student or warden.")
		}
		target.Role = *req.Role
		if target.Role != models.RoleStudent {
			target.RollNo, target.HostelNo, target.RoomNo = "", "", ""
		}
	}
	if req.Status != nil {
		target.Status = *req.Status
	}
	if req.Name != nil {
		target.Name = *req.Name
	}
	if target.Role == models.RoleStudent {
		if req.RollNo != nil {
			target.RollNo = *req.RollNo
		}
		if req.HostelNo != nil {
			target.HostelNo = *req.HostelNo
		}
		if req.RoomNo != nil {
			target.RoomNo = *req.RoomNo
		}
	}
	return nil
}
