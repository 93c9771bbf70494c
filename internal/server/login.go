package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/services/ban"
	"github.com/mcoot/mpserver/internal/wml"
)

func (s *Server) dispatch(c *conn, doc *wml.Node) {
	switch c.state {
	case stateVersion:
		s.handleVersion(c, doc)
	case stateLogin:
		s.handleLogin(c, doc)
	default:
		s.handlePlayer(c, doc)
	}
}

// handleVersion answers the client's [version] with a login request, a
// redirect or a rejection
func (s *Server) handleVersion(c *conn, doc *wml.Node) {
	body := doc.Child(protocol.KindVersion)
	if body == nil {
		c.Send(protocol.Error("Expected [version]."))
		s.disconnect(c, true)
		return
	}
	version := body.Attr("version")

	for _, r := range s.cfg.Server.Redirects {
		if ok, _ := path.Match(r.Pattern, version); ok {
			c.logger.Info("redirecting client", slog.String("version", version), slog.String("host", r.Host))
			c.Send(protocol.Redirect(r.Host, r.Port))
			s.disconnect(c, true)
			return
		}
	}
	if !s.versionAccepted(version) {
		c.logger.Info("rejecting client version", slog.String("version", version))
		c.Send(protocol.Reject(strings.Join(s.cfg.Server.Versions, ",")))
		s.disconnect(c, true)
		return
	}

	c.version = version
	c.state = stateLogin
	c.Send(protocol.MustLogin())
}

func (s *Server) versionAccepted(version string) bool {
	for _, pattern := range s.cfg.Server.Versions {
		if ok, _ := path.Match(pattern, version); ok {
			return true
		}
	}
	return false
}

// handleLogin runs one login attempt. Recoverable failures leave the
// connection waiting for another [login].
func (s *Server) handleLogin(c *conn, doc *wml.Node) {
	body := doc.Child(protocol.KindLogin)
	if body == nil {
		c.Send(protocol.Error("You must login first."))
		return
	}
	name := strings.TrimSpace(body.Attr("username"))
	if lerr := s.deps.Auth.ValidateName(name); lerr != nil {
		c.Send(protocol.LoginError(lerr.Code, lerr.Message))
		return
	}
	if rec, ok := s.deps.Bans.GetBanInfo(c.ip, name); ok {
		c.logger.Info("rejected banned login", slog.String("name", name), slog.String("reason", rec.Reason))
		c.Send(protocol.Error(bannedText(rec)))
		s.disconnect(c, true)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	user, err := s.deps.Auth.Lookup(ctx, name)
	if err != nil {
		c.logger.Error("user lookup failed", slog.String("name", name), slog.String("error", err.Error()))
		c.Send(protocol.Error("Login is temporarily unavailable."))
		return
	}

	var registered, moderator bool
	switch {
	case user == nil && s.denyUnregistered:
		c.Send(protocol.LoginError(model.LoginNameUnregistered,
			fmt.Sprintf("The nickname '%s' is not registered. This server disallows unregistered nicknames.", name)))
		return
	case user != nil:
		if banType := user.ActiveBan(s.deps.Clock.Now()); banType != model.ForumBanNone {
			c.Send(protocol.LoginError(banType.LoginCode(),
				fmt.Sprintf("The nickname '%s' is banned on this server.", name)))
			return
		}
		if !s.checkPassword(ctx, c, name, body.Attr("password")) {
			return
		}
		registered = true
		moderator = user.Moderator
	}

	if s.isDummy(name) {
		c.Send(protocol.LoginError(model.LoginNameTaken,
			fmt.Sprintf("The nickname '%s' is already taken.", name)))
		return
	}

	if existing, ok := s.deps.Registry.GetByName(name); ok {
		old, live := s.conns[existing.ConnID]
		if !registered || !live {
			c.Send(protocol.LoginError(model.LoginNameTaken,
				fmt.Sprintf("The nickname '%s' is already taken.", name)))
			return
		}
		old.logger.Info("ghosting previous connection", slog.String("name", name))
		old.Send(protocol.Error("You have logged in from another connection."))
		s.disconnect(old, true)
	}

	p := model.Player{
		ConnID:     c.id,
		Name:       name,
		Registered: registered,
		Moderator:  moderator,
		Version:    c.version,
		Source:     body.Attr("source"),
		IP:         c.ip,
		LoginTime:  s.deps.Clock.Now(),
	}
	if err := s.deps.Registry.Add(p, c); err != nil {
		c.Send(protocol.LoginError(model.LoginNameTaken,
			fmt.Sprintf("The nickname '%s' is already taken.", name)))
		return
	}
	c.state = stateLoggedIn
	c.limiter = chatLimiter(s.cfg.Flood.MessagesPerSecond, s.cfg.Flood.MessageBurst)
	s.logins++

	c.Send(protocol.JoinLobby(moderator, name))
	s.deps.Lobby.AddUser(s.userNode(p), c.id)
	s.deps.Lobby.SendSnapshot(c.id)
	if text := s.welcome(); text != "" {
		c.Send(protocol.ServerMessage(text))
	}

	c.logger.Info("player logged in",
		slog.String("name", name),
		slog.String("version", c.version),
		slog.Bool("registered", registered),
		slog.Bool("moderator", moderator),
	)
}

// checkPassword verifies a registered nick's password and applies the
// failed-attempt policy. It reports whether the login may proceed.
func (s *Server) checkPassword(ctx context.Context, c *conn, name, password string) bool {
	if password == "" {
		c.Send(protocol.LoginError(model.LoginPasswordRequest,
			fmt.Sprintf("The nickname '%s' is registered on this server.", name)))
		return false
	}
	if _, err := s.deps.Auth.Authenticate(ctx, name, password); err != nil {
		if !errors.Is(err, model.ErrWrongPassword) {
			c.logger.Error("authentication failed", slog.String("name", name), slog.String("error", err.Error()))
			c.Send(protocol.Error("Login is temporarily unavailable."))
			return false
		}
		attempts, exceeded := s.deps.Auth.RecordFailure(c.ip)
		c.logger.Info("incorrect password", slog.String("name", name), slog.Int("attempts", attempts))
		if !exceeded {
			c.Send(protocol.LoginError(model.LoginPasswordIncorrect,
				fmt.Sprintf("The password you provided for the nickname '%s' was incorrect.", name)))
			return false
		}

		duration := s.deps.Auth.Config().FailedLoginBan
		if _, err := s.deps.Bans.Ban(ban.Request{
			Target:   c.ip,
			Duration: fmt.Sprintf("%ds", int(duration.Seconds())),
			Reason:   "Too many failed login attempts",
			Issuer:   "server",
		}); err != nil {
			c.logger.Error("failed login ban", slog.String("error", err.Error()))
		}
		c.Send(protocol.LoginError(model.LoginTooManyAttempts,
			"You have made too many failed login attempts."))
		s.disconnect(c, true)
		return false
	}
	s.deps.Auth.ClearFailures(c.ip)
	return true
}

// welcome is the message of the day plus any tournament announcements
func (s *Server) welcome() string {
	parts := make([]string, 0, 2)
	if s.motd != "" {
		parts = append(parts, s.motd)
	}
	if s.tournaments != "" {
		parts = append(parts, s.tournaments)
	}
	return strings.Join(parts, "\n")
}

// userNode is a player's entry in the lobby document
func (s *Server) userNode(p model.Player) *wml.Node {
	status := model.StatusLobby
	location := ""
	if g, ok := s.deps.Games.Get(p.Game); ok {
		location = g.Name()
		status = model.StatusObserving
		if g.IsPlayer(p.ConnID) {
			status = model.StatusPlaying
		}
	}
	return wml.NewNode(protocol.KindUser).
		Set("name", p.Name).
		SetBool("available", true).
		SetBool("registered", p.Registered).
		SetBool("moderator", p.Moderator).
		Set("location", location).
		SetInt("game_id", int(p.Game)).
		Set("status", string(status))
}

func (s *Server) refreshUser(id model.ConnID) {
	if p, ok := s.deps.Registry.Get(id); ok {
		s.deps.Lobby.UpdateUser(s.userNode(p))
	}
}
