package server

import (
	"context"
	"time"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/services/game"
)

// Status summarizes the running server
type Status struct {
	Session          string    `json:"session"`
	StartedAt        time.Time `json:"started_at"`
	Uptime           string    `json:"uptime"`
	Connections      int       `json:"connections"`
	Players          int       `json:"players"`
	LobbyPlayers     int       `json:"lobby_players"`
	Games            int       `json:"games"`
	GamesStarted     int       `json:"games_started"`
	GamesClosed      int       `json:"games_closed"`
	Logins           int       `json:"logins"`
	Bans             int       `json:"bans"`
	LobbyDiffs       int       `json:"lobby_diffs"`
	ShuttingDown     bool      `json:"shutting_down"`
	DenyUnregistered bool      `json:"deny_unregistered"`
}

// GameInfo describes an open game
type GameInfo struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	State     string   `json:"state"`
	Host      string   `json:"host"`
	Scenario  string   `json:"scenario,omitempty"`
	Era       string   `json:"era,omitempty"`
	Turn      string   `json:"turn,omitempty"`
	Password  bool     `json:"password"`
	Players   []string `json:"players"`
	Observers []string `json:"observers"`
}

// UserInfo describes a logged in player
type UserInfo struct {
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Game       int       `json:"game,omitempty"`
	Registered bool      `json:"registered"`
	Moderator  bool      `json:"moderator"`
	Version    string    `json:"version"`
	LoginTime  time.Time `json:"login_time"`
}

func (s *Server) stats() model.Stats {
	gs := s.deps.Games.Stats()
	return model.Stats{
		Connections:  len(s.conns),
		Players:      s.deps.Registry.Len(),
		LobbyPlayers: len(s.deps.Registry.LobbyMembers()),
		Games:        s.deps.Games.Len(),
		GamesStarted: gs.Started,
		GamesClosed:  gs.Closed,
		Logins:       s.logins,
		Bans:         s.deps.Bans.Count(),
		Uptime:       s.deps.Clock.Since(s.startedAt).Round(time.Second),
	}
}

// Status returns the server summary
func (s *Server) Status(ctx context.Context) (Status, error) {
	var out Status
	err := s.call(ctx, func() {
		st := s.stats()
		out = Status{
			Session:          s.deps.Session,
			StartedAt:        s.startedAt,
			Uptime:           st.Uptime.String(),
			Connections:      st.Connections,
			Players:          st.Players,
			LobbyPlayers:     st.LobbyPlayers,
			Games:            st.Games,
			GamesStarted:     st.GamesStarted,
			GamesClosed:      st.GamesClosed,
			Logins:           st.Logins,
			Bans:             st.Bans,
			LobbyDiffs:       s.deps.Lobby.DiffCount(),
			ShuttingDown:     s.shutdown != shutdownNone,
			DenyUnregistered: s.denyUnregistered,
		}
	})
	return out, err
}

// Games lists the open games in id order
func (s *Server) Games(ctx context.Context) ([]GameInfo, error) {
	var out []GameInfo
	err := s.call(ctx, func() {
		out = make([]GameInfo, 0, s.deps.Games.Len())
		for _, g := range s.deps.Games.Games() {
			out = append(out, s.gameInfo(g))
		}
	})
	return out, err
}

func (s *Server) gameInfo(g *game.Game) GameInfo {
	desc := g.Description()
	info := GameInfo{
		ID:        int(g.ID()),
		Name:      g.Name(),
		State:     string(g.State()),
		Host:      s.deps.Registry.Name(g.Owner()),
		Scenario:  desc.Attr("scenario"),
		Era:       desc.Attr("era"),
		Turn:      desc.Attr("turn"),
		Password:  desc.BoolAttr("password", false),
		Players:   []string{},
		Observers: []string{},
	}
	for _, m := range g.Members() {
		name := s.deps.Registry.Name(m)
		if g.IsPlayer(m) {
			info.Players = append(info.Players, name)
		} else {
			info.Observers = append(info.Observers, name)
		}
	}
	return info
}

// Users lists the logged in players in connection order
func (s *Server) Users(ctx context.Context) ([]UserInfo, error) {
	var out []UserInfo
	err := s.call(ctx, func() {
		players := s.deps.Registry.All()
		out = make([]UserInfo, 0, len(players))
		for _, p := range players {
			node := s.userNode(p)
			out = append(out, UserInfo{
				Name:       p.Name,
				Status:     node.Attr("status"),
				Game:       int(p.Game),
				Registered: p.Registered,
				Moderator:  p.Moderator,
				Version:    p.Version,
				LoginTime:  p.LoginTime,
			})
		}
	})
	return out, err
}

// Bans lists the active bans, or the removed ones when deleted is set
func (s *Server) Bans(ctx context.Context, deleted bool) ([]model.BanRecord, error) {
	var out []model.BanRecord
	err := s.call(ctx, func() {
		out = s.deps.Bans.List(deleted, "")
	})
	if out == nil {
		out = []model.BanRecord{}
	}
	return out, err
}

// RecentGames returns the records of the most recently closed games
func (s *Server) RecentGames(ctx context.Context) ([]model.GameRecord, error) {
	var out []model.GameRecord
	err := s.call(ctx, func() {
		out = append([]model.GameRecord{}, s.recent...)
	})
	return out, err
}
