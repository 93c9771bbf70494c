package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mcoot/mpserver/internal/api/request"
	"github.com/mcoot/mpserver/internal/api/response"
)

// AdminIssuer is recorded as the issuer of bans made through the API
const AdminIssuer = "api"

// CommandRunner executes admin console commands
type CommandRunner interface {
	Admin(ctx context.Context, issuer, line string) (string, error)
}

// AdminHandler handles the admin command endpoint
type AdminHandler struct {
	runner CommandRunner
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(runner CommandRunner) *AdminHandler {
	return &AdminHandler{
		runner: runner,
	}
}

// Run handles POST /api/v1/admin
func (h *AdminHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req request.AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}

	command := strings.TrimSpace(req.Command)
	if command == "" {
		WriteError(w, NewInvalidRequestError("command is required"))
		return
	}

	out, err := h.runner.Admin(r.Context(), AdminIssuer, command)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.Admin{Command: command, Output: out})
}
