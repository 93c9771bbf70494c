package server

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/services/game"
	"github.com/mcoot/mpserver/internal/wml"
)

// Queries any logged in player may run
var publicQueries = map[string]bool{
	"help":  true,
	"games": true,
	"motd":  true,
}

// handlePlayer routes a message from a logged in player by location.
// Protocol misuse is answered privately and never closes the connection.
func (s *Server) handlePlayer(c *conn, doc *wml.Node) {
	p, ok := s.deps.Registry.Get(c.id)
	if !ok {
		return
	}

	var err error
	if p.InLobby() {
		err = s.handleLobby(c, p, doc)
	} else if g, ok := s.deps.Games.Get(p.Game); ok {
		err = s.handleGame(c, p, g, doc)
	} else {
		s.logger.Warn("player in unknown game", slog.String("player", p.Name), slog.Int("game", int(p.Game)))
		s.deps.Lobby.Hold(c.id)
		_ = s.deps.Registry.SetGame(c.id, 0)
		s.returnToLobby(c.id)
	}
	if err != nil {
		s.reply(c, err)
	}
}

func (s *Server) reply(c *conn, err error) {
	text := err.Error()
	var um *model.UserMessage
	if errors.As(err, &um) {
		text = um.Text
	}
	c.logger.Debug("request refused", slog.String("error", err.Error()))
	c.Send(protocol.ServerMessage(text))
}

func (s *Server) handleLobby(c *conn, p model.Player, doc *wml.Node) error {
	body := doc.FirstChild()
	if body == nil {
		return nil
	}

	switch body.Name {
	case protocol.KindCreateGame:
		if s.shutdown != shutdownNone {
			return model.Tell(model.ErrCreationDisabled, "This server is shutting down. No new games can be created.")
		}
		name := strings.TrimSpace(body.Attr("name"))
		if name == "" {
			name = p.Name + "'s game"
		}
		if _, err := s.deps.Games.CreateGame(p, name, body.Attr("password"), body.BoolAttr("observer", true)); err != nil {
			return err
		}
		s.refreshUser(c.id)

	case protocol.KindJoin:
		g, ok := s.deps.Games.Get(model.GameID(body.IntAttr("id", 0)))
		if !ok {
			return model.Tell(model.ErrGameNotFound, "Attempt to join unknown game.")
		}
		if _, err := g.AddPlayer(p, body.BoolAttr("observer", false), body.Attr("password")); err != nil {
			return err
		}
		s.refreshUser(c.id)

	case protocol.KindMessage:
		if !c.limiter.Allow() {
			return model.Tell(model.ErrPermissionDenied, "You are sending too many messages too fast. Your message has not been relayed.")
		}
		text := body.Attr("message")
		if strings.TrimSpace(text) == "" {
			return nil
		}
		s.deps.Registry.SendMany(s.deps.Registry.LobbyMembers(), protocol.Chat(p.Name, text), c.id)

	case protocol.KindWhisper:
		return s.whisper(c, p, body)

	case protocol.KindQuery:
		c.Send(protocol.ServerMessage(s.query(p, body.Attr("type"))))

	case protocol.KindPing:

	default:
		c.logger.Debug("unexpected lobby message", slog.String("kind", body.Name))
	}
	return nil
}

func (s *Server) whisper(c *conn, p model.Player, body *wml.Node) error {
	if !c.limiter.Allow() {
		return model.Tell(model.ErrPermissionDenied, "You are sending too many messages too fast. Your message has not been relayed.")
	}
	receiver := body.Attr("receiver")
	target, ok := s.deps.Registry.GetByName(receiver)
	if !ok {
		return model.Tell(model.ErrPlayerNotFound, fmt.Sprintf("Can't find '%s'.", receiver))
	}
	s.deps.Registry.Send(target.ConnID, protocol.Whisper(p.Name, target.Name, body.Attr("message")))
	return nil
}

// query runs a command typed into the chat. Moderators get the full admin
// command set.
func (s *Server) query(p model.Player, line string) string {
	line = strings.TrimSpace(line)
	cmd, _, _ := strings.Cut(line, " ")
	if !p.Moderator && !publicQueries[strings.ToLower(cmd)] {
		return fmt.Sprintf("Error: unrecognized query: '%s'\nValid options are: help, games, motd", cmd)
	}
	if !p.Moderator && strings.EqualFold(cmd, "motd") {
		line = "motd"
	}
	return s.execute(p.Name, line)
}

func (s *Server) handleGame(c *conn, p model.Player, g *game.Game, doc *wml.Node) error {
	if doc.HasChild(protocol.KindScenario) {
		return g.SetLevel(c.id, doc)
	}
	body := doc.FirstChild()
	if body == nil {
		return nil
	}

	switch body.Name {
	case protocol.KindTurn:
		return g.ProcessTurn(c.id, body)
	case protocol.KindRequestChoice:
		return g.HandleChoice(c.id, body)
	case protocol.KindScenarioDiff:
		return g.ApplyScenarioDiff(c.id, body)
	case protocol.KindStartGame:
		if err := g.StartGame(c.id); err != nil {
			return err
		}
		s.refreshMembers(g)
	case protocol.KindChangeController:
		if err := g.ChangeController(c.id, body); err != nil {
			return err
		}
		s.refreshMembers(g)
	case protocol.KindChangeControllerWML:
		if err := g.ChangeControllerWML(c.id, body); err != nil {
			return err
		}
		s.refreshMembers(g)
	case protocol.KindStoreNextScenario:
		return g.StoreNextScenario(c.id, body)
	case protocol.KindLoadNextScenario:
		return g.LoadNextScenario(c.id)
	case protocol.KindLeaveGame:
		s.leaveGame(c.id, g)
	case protocol.KindMessage:
		if !c.limiter.Allow() {
			return model.Tell(model.ErrPermissionDenied, "You are sending too many messages too fast. Your message has not been relayed.")
		}
		return g.Chat(c.id, body.Attr("message"))
	case protocol.KindWhisper:
		return s.whisper(c, p, body)
	case protocol.KindMute:
		return g.MuteObserver(c.id, body.Attr("username"))
	case protocol.KindUnmute:
		return g.UnmuteObserver(c.id, body.Attr("username"))
	case protocol.KindKick:
		target, err := g.KickMember(c.id, body.Attr("username"))
		if err != nil {
			return err
		}
		s.afterExpel(g, target)
	case protocol.KindBan:
		target, err := g.BanUser(c.id, body.Attr("username"))
		if err != nil {
			return err
		}
		s.afterExpel(g, target)
	case protocol.KindUnban:
		return g.UnbanUser(c.id, body.Attr("username"))
	case protocol.KindInfo:
		g.HandleInfo(c.id, body)
	case protocol.KindQuery:
		c.Send(protocol.ServerMessage(s.query(p, body.Attr("type"))))
	case protocol.KindPing:
	default:
		c.logger.Debug("unexpected game message", slog.String("kind", body.Name))
	}
	return nil
}

// leaveGame takes a member out of its game at its own request
func (s *Server) leaveGame(id model.ConnID, g *game.Game) {
	closing := g.RemovePlayer(id)
	s.returnToLobby(id)
	if closing {
		s.closeGame(g.ID(), model.EndReasonEmpty)
		return
	}
	s.refreshMembers(g)
}

func (s *Server) afterExpel(g *game.Game, target model.ConnID) {
	if target == 0 {
		return
	}
	s.returnToLobby(target)
	s.refreshMembers(g)
}

func (s *Server) refreshMembers(g *game.Game) {
	for _, m := range g.Members() {
		s.refreshUser(m)
	}
}
