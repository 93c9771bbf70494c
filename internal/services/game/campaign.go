package game

import (
	"log/slog"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/wml"
)

// Replay is everything needed to write a finished scenario to disk
type Replay struct {
	Game     model.GameID
	Name     string
	Scenario string
	Turn     int
	Level    *wml.Node
	History  []*wml.Node
}

// ReplaySink stores replays. Save returns the name the replay is stored
// under.
type ReplaySink interface {
	Save(r Replay) string
}

func (g *Game) replay() Replay {
	r := Replay{
		Game: g.id,
		Name: g.name,
		Turn: g.turn,
	}
	if sc := g.scenario(); sc != nil {
		r.Scenario = sc.Attr("id")
		r.Level = g.level.Clone()
	}
	for _, doc := range g.history {
		r.History = append(r.History, doc.Clone())
	}
	return r
}

// saveReplay hands the current scenario to the replay sink, if any
func (g *Game) saveReplay() string {
	if !g.arena.cfg.SaveReplays || g.arena.replays == nil || g.level == nil || !g.Started() {
		return ""
	}
	name := g.arena.replays.Save(g.replay())
	g.logger.Info("replay saved", slog.String("file", name))
	return name
}

// StoreNextScenario installs the host's next campaign scenario. The
// finished scenario is saved as a replay and the history starts over.
func (g *Game) StoreNextScenario(sender model.ConnID, body *wml.Node) error {
	if err := g.requireHost(sender, "store the next scenario"); err != nil {
		return err
	}
	if !g.Started() {
		return model.Tell(model.ErrGameNotStarted, "The game has not started.")
	}
	if !body.HasChild(protocol.KindScenario) {
		return model.Tell(model.ErrMalformedCommand, "The next scenario has no [scenario].")
	}

	g.lastReplay = g.saveReplay()

	level := wml.NewDocument()
	for _, c := range body.AllChildren() {
		level.AppendChild(c.Clone())
	}
	g.level = level
	g.history = nil
	g.chat = nil
	g.numTurns = g.scenario().IntAttr("turns", -1)
	g.readSides()

	g.state = model.GameStateBetweenScenarios
	g.turn = 0
	g.currentSide = model.NoSide
	g.nextSide = model.NoSide
	g.sideEnded = false
	g.lastChoiceID = 0

	g.broadcast(protocol.NotifyNextScenario(), sender)
	g.syncDescription()
	g.logger.Info("next scenario stored", slog.String("scenario", g.scenario().Attr("id")))
	return nil
}

// LoadNextScenario sends the stored scenario to a member
func (g *Game) LoadNextScenario(sender model.ConnID) error {
	if !g.IsMember(sender) {
		return model.ErrNotInGame
	}
	if g.level == nil {
		return model.Tell(model.ErrLevelNotLoaded, "No scenario has been uploaded.")
	}
	g.send(sender, protocol.NextScenario(g.level))
	return nil
}
