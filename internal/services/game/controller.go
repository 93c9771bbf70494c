// Package game implements hosted game sessions: side ownership, turn
// sequencing, command legality, synchronized choices and in-game
// moderation.
package game

import (
	"log/slog"
	"sort"

	"github.com/mcoot/mpserver/internal/dependencies/clock"
	"github.com/mcoot/mpserver/internal/dependencies/random"
	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/wml"
)

// Directory resolves and reaches connected players
type Directory interface {
	Get(id model.ConnID) (model.Player, bool)
	GetByName(name string) (model.Player, bool)
	SetGame(id model.ConnID, game model.GameID) error
	Send(id model.ConnID, doc *wml.Node) bool
}

// Lobby is the public listing of games
type Lobby interface {
	AddGame(desc *wml.Node)
	UpdateGame(id model.GameID, desc *wml.Node)
	RemoveGame(id model.GameID)
	Hold(id model.ConnID)
}

// Config holds game policy settings
type Config struct {
	// AllowObservers is the server-wide observer policy. A game allows
	// observers only if both it and this setting do.
	AllowObservers bool

	// SpoofLimit is the number of dependent commands for sides a member
	// does not own before the game is marked out of sync. Zero disables it.
	SpoofLimit int

	SaveReplays bool
}

// DefaultConfig returns the default game policy
func DefaultConfig() Config {
	return Config{
		AllowObservers: true,
		SpoofLimit:     10,
		SaveReplays:    true,
	}
}

// Stats counts games over the server's lifetime
type Stats struct {
	Created int
	Started int
	Closed  int
}

// Controller owns every game on the server
type Controller struct {
	games   map[model.GameID]*Game
	nextID  model.GameID
	dir     Directory
	lobby   Lobby
	replays ReplaySink
	clock   clock.Clock
	random  random.Random
	cfg     Config
	logger  *slog.Logger
	stats   Stats
}

// NewController creates a new game controller. replays may be nil.
func NewController(
	dir Directory,
	lobby Lobby,
	replays ReplaySink,
	clock clock.Clock,
	random random.Random,
	cfg Config,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		games:   make(map[model.GameID]*Game),
		nextID:  1,
		dir:     dir,
		lobby:   lobby,
		replays: replays,
		clock:   clock,
		random:  random,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "game-controller")),
	}
}

// CreateGame creates a game hosted by a lobby player. The game is listed
// once its host uploads a scenario.
func (c *Controller) CreateGame(host model.Player, name, password string, observers bool) (*Game, error) {
	if !host.InLobby() {
		return nil, model.Tell(model.ErrAlreadyInGame, "You are already in a game.")
	}
	id := c.nextID
	c.nextID++

	g := newGame(c, id, host, name, password, observers)
	if err := c.dir.SetGame(host.ConnID, id); err != nil {
		return nil, err
	}
	c.games[id] = g
	c.stats.Created++
	c.dir.Send(host.ConnID, protocol.CreateGameReply(id))

	c.logger.Info("game created",
		slog.Int("game", int(id)),
		slog.String("name", name),
		slog.String("host", host.Name),
		slog.Bool("password", password != ""),
	)
	return g, nil
}

// Get returns a game by id
func (c *Controller) Get(id model.GameID) (*Game, bool) {
	g, ok := c.games[id]
	return g, ok
}

// Games returns all games in id order
func (c *Controller) Games() []*Game {
	out := make([]*Game, 0, len(c.games))
	for _, g := range c.games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of open games
func (c *Controller) Len() int {
	return len(c.games)
}

// Stats returns lifetime counters
func (c *Controller) Stats() Stats {
	return c.stats
}

// CloseGame ends a game. Remaining members are sent back to the lobby and
// returned so the caller can resynchronize them. A reason already recorded
// by the game takes precedence.
func (c *Controller) CloseGame(id model.GameID, reason model.EndReason) ([]model.ConnID, *model.GameRecord, error) {
	g, ok := c.games[id]
	if !ok {
		return nil, nil, model.ErrGameNotFound
	}
	if g.endReason == model.EndReasonNone {
		g.endReason = reason
	}

	members := g.Members()
	for _, m := range members {
		c.lobby.Hold(m)
		_ = c.dir.SetGame(m, 0)
		c.dir.Send(m, protocol.LeaveGame())
	}
	if g.listed {
		c.lobby.RemoveGame(id)
	}

	file := g.saveReplay()
	if file == "" {
		file = g.lastReplay
	}
	g.state = model.GameStateEnded
	delete(c.games, id)
	c.stats.Closed++

	rec := &model.GameRecord{
		ID:        id,
		Name:      g.name,
		Turns:     g.turn,
		Players:   g.playerNames(),
		Reason:    g.endReason,
		Replay:    file,
		StartedAt: g.startedAt,
		EndedAt:   c.clock.Now(),
	}
	if sc := g.scenario(); sc != nil {
		rec.Scenario = sc.Attr("id")
		rec.Era = g.Description().Attr("era")
	}
	c.logger.Info("game closed",
		slog.Int("game", int(id)),
		slog.String("name", rec.Name),
		slog.String("reason", string(rec.Reason)),
		slog.Int("turns", rec.Turns),
		slog.Any("players", rec.Players),
		slog.String("replay", rec.Replay),
	)
	return members, rec, nil
}

func (g *Game) playerNames() []string {
	var out []string
	for _, s := range g.sides {
		if s.Owner != 0 && s.Controller == model.ControllerHuman {
			out = append(out, g.names[s.Owner])
		}
	}
	return out
}
