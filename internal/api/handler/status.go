package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/mcoot/mpserver/internal/api/response"
	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/server"
)

// StatusSource answers read-only queries about the running server
type StatusSource interface {
	Session() string
	Status(ctx context.Context) (server.Status, error)
	Games(ctx context.Context) ([]server.GameInfo, error)
	RecentGames(ctx context.Context) ([]model.GameRecord, error)
	Users(ctx context.Context) ([]server.UserInfo, error)
	Bans(ctx context.Context, deleted bool) ([]model.BanRecord, error)
}

// StatusHandler handles the read-only status endpoints
type StatusHandler struct {
	source StatusSource
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(source StatusSource) *StatusHandler {
	return &StatusHandler{
		source: source,
	}
}

// Health handles GET /healthz. It fails once the server stops answering.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.source.Status(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.Health{Status: "ok", Session: h.source.Session()})
}

// Status handles GET /api/v1/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.source.Status(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, status)
}

// Games handles GET /api/v1/games
func (h *StatusHandler) Games(w http.ResponseWriter, r *http.Request) {
	open, err := h.source.Games(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	recent, err := h.source.RecentGames(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}

	resp := response.Games{Open: open, Recent: make([]response.GameRecord, len(recent))}
	for i, rec := range recent {
		resp.Recent[i] = response.GameRecordFromModel(rec)
	}
	response.JSON(w, http.StatusOK, resp)
}

// Users handles GET /api/v1/users
func (h *StatusHandler) Users(w http.ResponseWriter, r *http.Request) {
	users, err := h.source.Users(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, users)
}

// Bans handles GET /api/v1/bans. ?deleted=true lists the removed bans.
func (h *StatusHandler) Bans(w http.ResponseWriter, r *http.Request) {
	deleted := false
	if v := r.URL.Query().Get("deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteError(w, NewInvalidRequestError("deleted must be true or false"))
			return
		}
		deleted = b
	}

	bans, err := h.source.Bans(r.Context(), deleted)
	if err != nil {
		WriteError(w, err)
		return
	}
	resp := response.Bans{Deleted: deleted, Bans: make([]response.Ban, len(bans))}
	for i, b := range bans {
		resp.Bans[i] = response.BanFromModel(b)
	}
	response.JSON(w, http.StatusOK, resp)
}
