package api

import (
	"net/http"
	"strings"

	"github.com/garnizeh/hostel/pkg/apperror"
	"github.com/garnizeh/hostel/pkg/models"
	"github.com/garnizeh/hostel/pkg/repository"
	"github.com/gorilla/mux"
)

type ComplaintsHandler struct {
	complaints repository.ComplaintRepo
}

func NewComplaintsHandler(cr repository.ComplaintRepo) *ComplaintsHandler {
	return &ComplaintsHandler{complaints: cr}
}

type createComplaintRequest struct {
	Category    string `json:"category" validate:"required,max=100"`
	Description string `json:"description" validate:"required,max=4000"`
}

func (h *ComplaintsHandler) CreateComplaint(w http.ResponseWriter, r *http.Request) {
	var req createComplaintRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Category = strings.TrimSpace(req.Category)
	req.Description = strings.TrimSpace(req.Description)
	if err := validate.Struct(req); err != nil {
		writeError(w, r, apperror.InvalidArgument("complaints/invalid-payload", "A category and description are required."))
		return
	}

	c := &models.Complaint{
		StudentID:   ProfileFromContext(r.Context()).UID,
		Category:    req.Category,
		Description: req.Description,
	}
	if err := h.complaints.CreateComplaint(r.Context(), c); err != nil {
		writeError(w, r, apperror.Internal("complaints/create-failed", "Could not file complaint.", err))
		return
	}
	writeData(w, http.StatusCreated, c)
}

func (h *ComplaintsHandler) ListComplaints(w http.ResponseWriter, r *http.Request) {
	caller := ProfileFromContext(r.Context())
	studentID := caller.UID
	if caller.Role.Moderator() {
		studentID = r.URL.Query().Get("studentId")
	}
	out, err := h.complaints.ListComplaints(r.Context(), studentID)
	if err != nil {
		writeError(w, r, apperror.Internal("complaints/list-failed", "Could not list complaints.", err))
		return
	}
	if out == nil {
		out = []models.Complaint{}
	}
	writeData(w, http.StatusOK, out)
}

func (h *ComplaintsHandler) ModerateComplaint(w http.ResponseWriter, r *http.Request) {
	mod, err := decodeModeration(w, r, models.ComplaintStatuses)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.complaints.ModerateComplaint(r.Context(), mux.Vars(r)["id"], mod)
	if err != nil {
		writeError(w, r, apperror.Internal("complaints/moderate-failed", "Could not update complaint.", err))
		return
	}
	if c == nil {
		writeError(w, r, apperror.NotFound("complaints/not-found", "Complaint not found."))
		return
	}
	writeData(w, http.StatusOK, c)
}
