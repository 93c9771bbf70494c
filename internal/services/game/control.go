package game

import (
	"fmt"
	"log/slog"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/wml"
)

// TransferSideControl hands a side to another member. The side's owner and
// the host may do this. A null controller leaves the side without owner.
func (g *Game) TransferSideControl(sender model.ConnID, number int, player string, controller model.ControllerKind) error {
	if number < 1 || number > len(g.sides) {
		return model.Tell(model.ErrSideOutOfRange, fmt.Sprintf("Not a side: %d", number))
	}
	side := g.sides[number-1]
	if side.Owner != sender && sender != g.owner {
		return model.Tell(model.ErrNotSideOwner, "You can't change the controller of a side you don't own.")
	}

	var target model.ConnID
	if controller != model.ControllerNone {
		id, ok := g.memberByName(player)
		if !ok {
			return model.Tell(model.ErrPlayerNotFound, "Player/Observer not in this game.")
		}
		target = id
	}

	g.assignSide(number, target, controller)
	g.syncDescription()
	g.logger.Info("side control changed",
		slog.Int("side", number),
		slog.String("player", g.names[target]),
		slog.String("controller", string(controller)),
	)
	return nil
}

// assignSide records and announces a side changing hands. Each member is
// told whether the side is now local to it.
func (g *Game) assignSide(number int, owner model.ConnID, controller model.ControllerKind) {
	s := &g.sides[number-1]
	s.Owner = owner
	s.Controller = controller
	g.writeSide(number)

	name := g.names[owner]
	g.history = append(g.history, protocol.ChangeController(number, name, controller, false))
	for _, m := range g.members {
		g.send(m, protocol.ChangeController(number, name, controller, m == owner && owner != 0))
	}
}

// ChangeController handles a member's [change_controller] request. Only
// human and AI control can be requested this way.
func (g *Game) ChangeController(sender model.ConnID, body *wml.Node) error {
	number := body.IntAttr("side", 0)
	controller := model.ParseController(body.Attr("controller"))
	switch controller {
	case model.ControllerHuman, model.ControllerAI:
	default:
		return model.Tell(model.ErrMalformedCommand, "Only human or AI control can be requested.")
	}
	if g.state == model.GameStateUninitialized {
		return model.Tell(model.ErrLevelNotLoaded, "No scenario has been uploaded.")
	}
	return g.TransferSideControl(sender, number, body.Attr("player"), controller)
}

// ChangeControllerWML is the host's unrestricted variant used by scenario
// scripts; it may set any controller kind
func (g *Game) ChangeControllerWML(sender model.ConnID, body *wml.Node) error {
	if err := g.requireHost(sender, "change side controllers"); err != nil {
		return err
	}
	number := body.IntAttr("side", 0)
	if number < 1 || number > len(g.sides) {
		return model.Tell(model.ErrSideOutOfRange, fmt.Sprintf("Not a side: %d", number))
	}
	controller := model.ParseController(body.Attr("controller"))
	player := body.Attr("player")
	if controller == model.ControllerReserved {
		g.assignSide(number, 0, controller)
		g.sides[number-1].Reserved = player
		g.writeSide(number)
		g.syncDescription()
		return nil
	}
	return g.TransferSideControl(sender, number, player, controller)
}
