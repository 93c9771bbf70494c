package game

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/wml"
)

// Commands any player or the host may send out of turn
var anytimeCommands = map[string]bool{
	"surrender": true,
	"label":     true,
	"rename":    true,
}

// ProcessTurn validates the commands of a [turn] from a member, records the
// legal ones and relays them to the other members
func (g *Game) ProcessTurn(sender model.ConnID, turn *wml.Node) error {
	if !g.IsMember(sender) {
		return model.ErrNotInGame
	}
	if g.state != model.GameStateStarted {
		return model.Tell(model.ErrGameNotStarted, "The game has not started.")
	}

	var recorded, relayed []*wml.Node
	for _, cmd := range turn.AllChildren() {
		if cmd.Name != protocol.KindCommand {
			g.logger.Debug("dropping non-command turn child", slog.String("name", cmd.Name))
			continue
		}
		inner := cmd.FirstChild()
		if inner == nil {
			continue
		}

		if inner.Name == "speak" {
			if g.speak(sender, cmd, inner) {
				relayed = append(relayed, cmd.Clone())
				g.chat = append(g.chat, protocol.Turn(cmd.Clone()))
			}
			continue
		}

		if !g.commandAllowed(sender, cmd, inner) {
			g.tellAll(fmt.Sprintf("Removing illegal command '%s' from: %s. Current player is: %s",
				inner.Name, g.names[sender], g.sideOwnerName(g.currentSide)))
			g.logger.Warn("illegal command removed",
				slog.String("command", inner.Name),
				slog.String("player", g.names[sender]),
				slog.Int("current_side", g.currentSide),
			)
			continue
		}
		g.advance(inner)
		recorded = append(recorded, cmd.Clone())
		relayed = append(relayed, cmd.Clone())
	}

	if len(recorded) > 0 {
		g.history = append(g.history, protocol.Turn(recorded...))
	}
	if len(relayed) > 0 {
		g.broadcast(protocol.Turn(relayed...), sender)
	}
	g.syncDescription()
	return nil
}

// speak prepares a chat command and reports whether it should be relayed to
// everyone. Muted and side-addressed messages are handled here.
func (g *Game) speak(sender model.ConnID, cmd, inner *wml.Node) bool {
	inner.Set("id", g.names[sender])
	if g.IsMuted(sender) {
		g.send(sender, protocol.ServerMessage("You have been muted, others can't see your message!"))
		return false
	}
	to, ok := inner.Lookup("to_sides")
	if !ok {
		return true
	}
	delivered := map[model.ConnID]bool{sender: true}
	for _, field := range strings.Split(to, ",") {
		number, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || number < 1 || number > len(g.sides) {
			continue
		}
		owner := g.sides[number-1].Owner
		if owner == 0 || delivered[owner] {
			continue
		}
		delivered[owner] = true
		g.send(owner, protocol.Turn(cmd.Clone()))
	}
	return false
}

func (g *Game) commandAllowed(sender model.ConnID, cmd, inner *wml.Node) bool {
	if cmd.BoolAttr("dependent", false) {
		side, err := strconv.Atoi(cmd.Attr("from_side"))
		if err == nil && g.ownsSide(sender, side) {
			return true
		}
		g.spoofed(sender, cmd)
		return false
	}
	if anytimeCommands[inner.Name] {
		return g.IsPlayer(sender) || sender == g.owner
	}
	if inner.Name == "init_side" && g.sideEnded {
		return g.ownsSide(sender, g.nextSide)
	}
	return g.ownsSide(sender, g.currentSide)
}

func (g *Game) spoofed(sender model.ConnID, cmd *wml.Node) {
	g.spoofs[sender]++
	limit := g.arena.cfg.SpoofLimit
	if limit > 0 && g.spoofs[sender] == limit {
		g.endReason = model.EndReasonOutOfSync
		g.logger.Warn("too many dependent commands for unowned sides",
			slog.String("player", g.names[sender]),
			slog.String("from_side", cmd.Attr("from_side")),
			slog.Int("count", g.spoofs[sender]),
		)
	}
}

// advance applies the turn-sequencing effect of a legal command
func (g *Game) advance(inner *wml.Node) {
	switch inner.Name {
	case "end_turn":
		g.nextSide = g.scanSide(g.currentSide)
		g.sideEnded = true
	case "init_side":
		if !g.sideEnded {
			return
		}
		previous := g.currentSide
		g.currentSide = g.nextSide
		g.sideEnded = false
		if g.currentSide <= previous {
			g.turn++
		}
	}
}

// HandleChoice serves a synchronized choice requested by the active side.
// Requests at or below the last served id are ignored.
func (g *Game) HandleChoice(sender model.ConnID, req *wml.Node) error {
	if g.state != model.GameStateStarted {
		return model.Tell(model.ErrGameNotStarted, "The game has not started.")
	}
	id := req.IntAttr("request_id", -1)
	if id < 0 {
		return model.Tell(model.ErrMalformedCommand, "Choice request without request_id.")
	}
	if id <= g.lastChoiceID {
		g.logger.Debug("ignoring served choice request", slog.Int("request_id", id))
		return nil
	}
	if !g.ownsSide(sender, g.currentSide) {
		return model.Tell(model.ErrNotSideOwner, "Only the current player can request a choice.")
	}

	data := req.FirstChild()
	if data == nil {
		return model.Tell(model.ErrMalformedCommand, "Empty choice request.")
	}

	switch data.Name {
	case "random_seed":
		g.lastChoiceID = id
		seed := fmt.Sprintf("%08x", g.arena.random.Uint32())
		g.serverCommand(wml.NewNode("random_seed").SetInt("request_id", id).Set("new_seed", seed))
	case "change_controller_wml":
		number := data.IntAttr("side", 0)
		if number < 1 || number > len(g.sides) {
			return model.Tell(model.ErrSideOutOfRange, fmt.Sprintf("Not a side: %d", number))
		}
		g.lastChoiceID = id
		controller := model.ParseController(data.Attr("controller"))
		var owner model.ConnID
		if controller != model.ControllerNone {
			if m, ok := g.memberByName(data.Attr("player")); ok {
				owner = m
			} else {
				owner = g.owner
			}
		}
		g.assignSide(number, owner, controller)
		g.syncDescription()
	case "add_side_wml":
		g.lastChoiceID = id
		number := g.addSide(data)
		g.serverCommand(wml.NewNode("add_side_wml").SetInt("request_id", id).SetInt("side", number))
	default:
		return model.Tell(model.ErrMalformedCommand, fmt.Sprintf("Unknown choice '%s'.", data.Name))
	}
	return nil
}

// serverCommand records a server-originated dependent command and sends it
// to every member
func (g *Game) serverCommand(body *wml.Node) {
	cmd := wml.NewNode(protocol.KindCommand).Set("from_side", "server").SetBool("dependent", true)
	cmd.AppendChild(body)
	doc := protocol.Turn(cmd)
	g.history = append(g.history, doc)
	g.broadcast(doc, 0)
}

func (g *Game) addSide(data *wml.Node) int {
	sc := g.scenario()
	side := wml.NewNode(protocol.KindSide)
	for _, a := range data.Attrs() {
		side.Set(a.Key, a.Value)
	}
	number := sc.ChildCount(protocol.KindSide) + 1
	side.SetInt("side", number)
	if !side.Has("controller") {
		side.Set("controller", string(model.ControllerNone))
	}
	sc.InsertChild(number-1, side)
	g.readSides()
	return number
}
