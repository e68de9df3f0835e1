package api

import (
	"net/http"
	"slices"
	"strings"

	"github.com/garnizeh/hostel/pkg/apperror"
	"github.com/garnizeh/hostel/pkg/models"
	"github.com/garnizeh/hostel/pkg/repository"
	"github.com/gorilla/mux"
)

type LeavesHandler struct {
	leaves repository.LeaveRepo
}

func NewLeavesHandler(lr repository.LeaveRepo) *LeavesHandler {
	return &LeavesHandler{leaves: lr}
}

type createLeaveRequest struct {
	FromDate string `json:"fromDate" validate:"required,datetime=2006-01-02"`
	ToDate   string `json:"toDate" validate:"required,datetime=2006-01-02"`
	Reason   string `json:"reason" validate:"required,max=2000"`
}

// CreateLeave files a leave request for the calling student.
func (h *LeavesHandler) CreateLeave(w http.ResponseWriter, r *http.Request) {
	var req createLeaveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validate.Struct(req); err != nil {
		writeError(w, r, apperror.InvalidArgument("leaves/invalid-payload", "fromDate and toDate must be YYYY-MM-DD and a reason is required."))
		return
	}
	// ISO dates compare lexically
	if req.ToDate < req.FromDate {
		writeError(w, r, apperror.InvalidArgument("leaves/invalid-range", "toDate must not be before fromDate."))
		return
	}

	l := &models.Leave{
		StudentID: ProfileFromContext(r.Context()).UID,
		FromDate:  req.FromDate,
		ToDate:    req.ToDate,
		Reason:    req.Reason,
	}
	if err := h.leaves.CreateLeave(r.Context(), l); err != nil {
		writeError(w, r, apperror.Internal("leaves/create-failed", "Could not file leave request.", err))
		return
	}
	writeData(w, http.StatusCreated, l)
}

// ListLeaves returns the caller's own leaves for students and every leave
// (optionally filtered by studentId) for moderators.
func (h *LeavesHandler) ListLeaves(w http.ResponseWriter, r *http.Request) {
	caller := ProfileFromContext(r.Context())
	studentID := caller.UID
	if caller.Role.Moderator() {
		studentID = r.URL.Query().Get("studentId")
	}
	out, err := h.leaves.ListLeaves(r.Context(), studentID)
	if err != nil {
		writeError(w, r, apperror.Internal("leaves/list-failed", "Could not list leave requests.", err))
		return
	}
	if out == nil {
		out = []models.Leave{}
	}
	writeData(w, http.StatusOK, out)
}

// ModerateLeave records a moderator's decision. The write and its change
// event commit together; the owning student is notified asynchronously.
func (h *LeavesHandler) ModerateLeave(w http.ResponseWriter, r *http.Request) {
	mod, err := decodeModeration(w, r, models.LeaveStatuses)
	if err != nil {
		writeError(w, r, err)
		return
	}
	l, err := h.leaves.ModerateLeave(r.Context(), mux.Vars(r)["id"], mod)
	if err != nil {
		writeError(w, r, apperror.Internal("leaves/moderate-failed", "Could not update leave request.", err))
		return
	}
	if l == nil {
		writeError(w, r, apperror.NotFound("leaves/not-found", "Leave request not found."))
		return
	}
	writeData(w, http.StatusOK, l)
}

func decodeModeration(w http.ResponseWriter, r *http.Request, allowed []string) (models.Moderation, error) {
	var mod models.Moderation
	if err := decodeJSON(w, r, &mod); err != nil {
		return mod, err
	}
	mod.Status = strings.TrimSpace(mod.Status)
	mod.Remarks = strings.TrimSpace(mod.Remarks)
	if err := validate.Struct(mod); err != nil {
		return mod, apperror.InvalidArgument("moderation/invalid-payload", "A status is required and remarks must be at most 2000 characters.")
	}
	if !slices.Contains(allowed, mod.Status) {
		return mod, apperror.InvalidArgument("moderation/invalid-status", "Status must be one of: "+strings.Join(allowed, ", ")+".")
	}
	return mod, nil
}
