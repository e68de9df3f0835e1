package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/garnizeh/hostel/internal/provision"
	"github.com/garnizeh/hostel/pkg/apperror"
)

// AccountCreator is satisfied by *provision.Gate.
type AccountCreator interface {
	CreateAccount(ctx context.Context, req provision.Request) (*provision.Result, error)
}

type AccountsHandler struct {
	gate AccountCreator
}

func NewAccountsHandler(g AccountCreator) *AccountsHandler {
	return &AccountsHandler{gate: g}
}

// createAccountRequest is the callable envelope. Clients that cannot set
// headers may send the credential as idToken.
type createAccountRequest struct {
	IDToken string            `json:"idToken,omitempty"`
	Data    provision.Payload `json:"data"`
}

// CreateAccount serves POST /createNewUser and POST /v1/accounts.
func (h *AccountsHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createAccountRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, r, apperror.InvalidArgument("request/malformed", "Request body must be valid JSON."))
		return
	}

	cred := bearerToken(r)
	if cred == "" {
		cred = req.IDToken
	}

	res, err := h.gate.CreateAccount(r.Context(), provision.Request{Credential: cred, Payload: req.Data, Raw: raw})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}
