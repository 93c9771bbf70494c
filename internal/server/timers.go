package server

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/wml"
)

// timers are the reactor's periodic jobs. A disabled timer has a nil
// channel, which never fires in a select.
type timers struct {
	banSweep      <-chan time.Time
	metrics       <-chan time.Time
	dummies       <-chan time.Time
	tournaments   <-chan time.Time
	shutdownCheck <-chan time.Time

	tickers []*time.Ticker
}

func (t *timers) every(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return nil
	}
	tk := time.NewTicker(d)
	t.tickers = append(t.tickers, tk)
	return tk.C
}

func (t *timers) stop() {
	for _, tk := range t.tickers {
		tk.Stop()
	}
}

func (s *Server) startTimers() *timers {
	cfg := s.cfg.Timers
	t := &timers{}
	t.banSweep = t.every(cfg.BanSweep)
	t.metrics = t.every(cfg.MetricsDump)
	if cfg.DummyPlayers > 0 {
		t.dummies = t.every(cfg.DummyChurn)
	}
	if s.cfg.Server.TournamentsFile != "" {
		t.tournaments = t.every(cfg.TournamentsRefresh)
		s.refreshTournaments()
	}
	t.shutdownCheck = t.every(cfg.ShutdownCheck)
	return t
}

func (s *Server) sweepBans() {
	s.deps.Bans.CheckBanTimes(s.deps.Clock.Now())
}

func (s *Server) dumpMetrics() {
	st := s.stats()
	s.logger.Info("metrics",
		slog.Int("connections", st.Connections),
		slog.Int("players", st.Players),
		slog.Int("lobby_players", st.LobbyPlayers),
		slog.Int("games", st.Games),
		slog.Int("games_started", st.GamesStarted),
		slog.Int("games_closed", st.GamesClosed),
		slog.Int("logins", st.Logins),
		slog.Int("bans", st.Bans),
		slog.Int("lobby_diffs", s.deps.Lobby.DiffCount()),
		slog.Duration("uptime", st.Uptime),
	)
}

// churnDummies adds synthetic lobby users until the configured number is
// reached, then retires the oldest one, so lobby clients keep receiving
// user diffs on an idle server
func (s *Server) churnDummies() {
	if len(s.dummies) >= s.cfg.Timers.DummyPlayers {
		name := s.dummies[0]
		s.dummies = s.dummies[1:]
		s.deps.Lobby.RemoveUser(name)
		return
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("dummy%d", i)
		if _, taken := s.deps.Registry.GetByName(name); taken || s.isDummy(name) {
			continue
		}
		s.dummies = append(s.dummies, name)
		s.deps.Lobby.AddUser(wml.NewNode(protocol.KindUser).
			Set("name", name).
			SetBool("available", true).
			SetBool("registered", false).
			SetBool("moderator", false).
			Set("location", "").
			SetInt("game_id", 0).
			Set("status", "lobby"), 0)
		return
	}
}

func (s *Server) isDummy(name string) bool {
	for _, d := range s.dummies {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}

// refreshTournaments reads the tournaments file off the reactor and posts
// the result back to it
func (s *Server) refreshTournaments() {
	file := s.cfg.Server.TournamentsFile
	go func() {
		data, err := os.ReadFile(file)
		s.post(event{kind: evCall, fn: func() {
			if err != nil {
				s.logger.Warn("tournaments file unreadable", slog.String("file", file), slog.String("error", err.Error()))
				return
			}
			s.tournaments = strings.TrimSpace(string(data))
		}})
	}()
}
