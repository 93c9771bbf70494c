// Package registry indexes logged-in players by connection, name, and game.
//
// The connection id map is the only primary store. The name and game
// indexes are derived and only change through Add, Remove, and SetGame.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/wml"
)

// Sink delivers documents to a connection
type Sink interface {
	Send(doc *wml.Node)
}

type entry struct {
	player model.Player
	sink   Sink
}

// Registry is not safe for concurrent use; the reactor owns it
type Registry struct {
	players map[model.ConnID]*entry
	byName  map[string]model.ConnID
	byGame  map[model.GameID]map[model.ConnID]struct{}
	logger  *slog.Logger
}

// New creates an empty registry
func New(logger *slog.Logger) *Registry {
	return &Registry{
		players: make(map[model.ConnID]*entry),
		byName:  make(map[string]model.ConnID),
		byGame:  make(map[model.GameID]map[model.ConnID]struct{}),
		logger:  logger.With(slog.String("component", "registry")),
	}
}

func nameKey(name string) string {
	return strings.ToLower(name)
}

// Add registers a player in the lobby. Names are unique case-insensitively.
func (r *Registry) Add(p model.Player, sink Sink) error {
	if _, ok := r.players[p.ConnID]; ok {
		return fmt.Errorf("connection %d already registered", p.ConnID)
	}
	if _, ok := r.byName[nameKey(p.Name)]; ok {
		return model.ErrNameTaken
	}
	p.Game = 0
	r.players[p.ConnID] = &entry{player: p, sink: sink}
	r.byName[nameKey(p.Name)] = p.ConnID
	r.index(0, p.ConnID)
	return nil
}

// Remove unregisters a connection and returns the removed player
func (r *Registry) Remove(id model.ConnID) (model.Player, bool) {
	e, ok := r.players[id]
	if !ok {
		return model.Player{}, false
	}
	delete(r.players, id)
	delete(r.byName, nameKey(e.player.Name))
	r.unindex(e.player.Game, id)
	return e.player, true
}

// Get returns a copy of the player on a connection
func (r *Registry) Get(id model.ConnID) (model.Player, bool) {
	e, ok := r.players[id]
	if !ok {
		return model.Player{}, false
	}
	return e.player, true
}

// GetByName looks a player up case-insensitively
func (r *Registry) GetByName(name string) (model.Player, bool) {
	id, ok := r.byName[nameKey(name)]
	if !ok {
		return model.Player{}, false
	}
	return r.Get(id)
}

// Name returns the player's name, or "" for unknown connections
func (r *Registry) Name(id model.ConnID) string {
	if e, ok := r.players[id]; ok {
		return e.player.Name
	}
	return ""
}

// SetGame moves a player between games; 0 is the lobby
func (r *Registry) SetGame(id model.ConnID, game model.GameID) error {
	e, ok := r.players[id]
	if !ok {
		return model.ErrPlayerNotFound
	}
	if e.player.Game == game {
		return nil
	}
	r.unindex(e.player.Game, id)
	e.player.Game = game
	r.index(game, id)
	return nil
}

// SetModerator changes the moderator flag of a connected player
func (r *Registry) SetModerator(id model.ConnID, moderator bool) error {
	e, ok := r.players[id]
	if !ok {
		return model.ErrPlayerNotFound
	}
	e.player.Moderator = moderator
	return nil
}

// LobbyMembers returns the connections not in any game, in id order
func (r *Registry) LobbyMembers() []model.ConnID {
	return r.GameMembers(0)
}

// GameMembers returns the connections in a game, in id order
func (r *Registry) GameMembers(game model.GameID) []model.ConnID {
	set := r.byGame[game]
	out := make([]model.ConnID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// All returns every player in connection id order
func (r *Registry) All() []model.Player {
	out := make([]model.Player, 0, len(r.players))
	for _, e := range r.players {
		out = append(out, e.player)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}

// Len returns the number of registered players
func (r *Registry) Len() int {
	return len(r.players)
}

// Send delivers a document to one connection
func (r *Registry) Send(id model.ConnID, doc *wml.Node) bool {
	e, ok := r.players[id]
	if !ok {
		return false
	}
	e.sink.Send(doc)
	return true
}

// SendMany delivers a document to each listed connection except one
func (r *Registry) SendMany(ids []model.ConnID, doc *wml.Node, except model.ConnID) {
	for _, id := range ids {
		if id == except {
			continue
		}
		r.Send(id, doc)
	}
}

func (r *Registry) index(game model.GameID, id model.ConnID) {
	set, ok := r.byGame[game]
	if !ok {
		set = make(map[model.ConnID]struct{})
		r.byGame[game] = set
	}
	set[id] = struct{}{}
}

func (r *Registry) unindex(game model.GameID, id model.ConnID) {
	set, ok := r.byGame[game]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 && game != 0 {
		delete(r.byGame, game)
	}
}
