package game

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/wml"
)

// Game is one hosted session. It is not safe for concurrent use; the server
// reactor owns every game.
type Game struct {
	id       model.GameID
	name     string
	password string
	owner    model.ConnID
	state    model.GameState
	arena    *Controller
	logger   *slog.Logger

	// members in join order
	members []model.ConnID
	names   map[model.ConnID]string

	sides   []model.Side
	level   *wml.Node
	history []*wml.Node
	chat    []*wml.Node
	listed  bool

	turn         int
	numTurns     int
	currentSide  int
	nextSide     int
	sideEnded    bool
	lastChoiceID int

	observersAllowed bool
	muted            map[model.ConnID]bool
	muteAll          bool
	bannedIPs        map[string]bool
	bannedNames      map[string]bool
	spoofs           map[model.ConnID]int

	endReason  model.EndReason
	lastReplay string
	createdAt  time.Time
	startedAt  time.Time
}

func newGame(arena *Controller, id model.GameID, host model.Player, name, password string, observers bool) *Game {
	return &Game{
		id:               id,
		name:             name,
		password:         password,
		owner:            host.ConnID,
		state:            model.GameStateUninitialized,
		arena:            arena,
		logger:           arena.logger.With(slog.Int("game", int(id))),
		members:          []model.ConnID{host.ConnID},
		names:            map[model.ConnID]string{host.ConnID: host.Name},
		numTurns:         -1,
		currentSide:      model.NoSide,
		nextSide:         model.NoSide,
		observersAllowed: observers && arena.cfg.AllowObservers,
		muted:            make(map[model.ConnID]bool),
		bannedIPs:        make(map[string]bool),
		bannedNames:      make(map[string]bool),
		spoofs:           make(map[model.ConnID]int),
		createdAt:        arena.clock.Now(),
	}
}

// ID returns the game id
func (g *Game) ID() model.GameID {
	return g.id
}

func (g *Game) Name() string {
	return g.name
}

// Owner returns the host connection
func (g *Game) Owner() model.ConnID {
	return g.owner
}

func (g *Game) State() model.GameState {
	return g.state
}

func (g *Game) Turn() int {
	return g.turn
}

func (g *Game) EndReason() model.EndReason {
	return g.endReason
}

// Listed reports whether the game appears in the lobby
func (g *Game) Listed() bool {
	return g.listed
}

func (g *Game) HistoryLen() int {
	return len(g.history)
}

// CurrentSide is the 1-based side whose turn it is, or NoSide
func (g *Game) CurrentSide() int {
	return g.currentSide
}

// NextSide is the side expected to begin once the current side has ended
func (g *Game) NextSide() int {
	return g.nextSide
}

// Members returns the connections in the game in join order
func (g *Game) Members() []model.ConnID {
	out := make([]model.ConnID, len(g.members))
	copy(out, g.members)
	return out
}

// MemberNames returns the names of all members in join order
func (g *Game) MemberNames() []string {
	out := make([]string, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, g.names[m])
	}
	return out
}

// Sides returns a copy of the side table
func (g *Game) Sides() []model.Side {
	out := make([]model.Side, len(g.sides))
	copy(out, g.sides)
	return out
}

// Level returns a copy of the current level document, or nil
func (g *Game) Level() *wml.Node {
	if g.level == nil {
		return nil
	}
	return g.level.Clone()
}

// IsMember reports whether the connection belongs to the game
func (g *Game) IsMember(id model.ConnID) bool {
	return g.indexOf(id) >= 0
}

// IsPlayer reports whether the member controls at least one side
func (g *Game) IsPlayer(id model.ConnID) bool {
	for _, s := range g.sides {
		if s.Owner == id {
			return true
		}
	}
	return false
}

// IsObserver reports whether the member controls no side
func (g *Game) IsObserver(id model.ConnID) bool {
	return g.IsMember(id) && !g.IsPlayer(id)
}

// IsMuted reports whether chat from the member is suppressed
func (g *Game) IsMuted(id model.ConnID) bool {
	return g.IsObserver(id) && (g.muteAll || g.muted[id])
}

// Started reports whether play has begun at least once
func (g *Game) Started() bool {
	return !g.startedAt.IsZero()
}

func (g *Game) indexOf(id model.ConnID) int {
	for i, m := range g.members {
		if m == id {
			return i
		}
	}
	return -1
}

func (g *Game) memberByName(name string) (model.ConnID, bool) {
	for _, m := range g.members {
		if strings.EqualFold(g.names[m], name) {
			return m, true
		}
	}
	return 0, false
}

func (g *Game) send(id model.ConnID, doc *wml.Node) {
	g.arena.dir.Send(id, doc)
}

func (g *Game) tellAll(text string) {
	g.broadcast(protocol.ServerMessage(text), 0)
}

// broadcast sends doc to every member but one. doc must not be modified
// afterwards.
func (g *Game) broadcast(doc *wml.Node, except model.ConnID) {
	for _, m := range g.members {
		if m != except {
			g.send(m, doc)
		}
	}
}

func (g *Game) requireHost(id model.ConnID, action string) error {
	if id != g.owner {
		return model.Tell(model.ErrNotHost, fmt.Sprintf("You cannot %s: not the game host.", action))
	}
	return nil
}

func (g *Game) scenario() *wml.Node {
	if g.level == nil {
		return nil
	}
	return g.level.Child(protocol.KindScenario)
}

// Description builds the [game] node shown in the lobby
func (g *Game) Description() *wml.Node {
	desc := wml.NewNode(protocol.KindGame).
		SetInt("id", int(g.id)).
		Set("name", g.name).
		SetBool("password", g.password != "").
		SetBool("observer", g.observersAllowed).
		SetBool("started", g.state == model.GameStateStarted)

	if g.numTurns > 0 {
		desc.Set("turn", fmt.Sprintf("%d/%d", g.turn, g.numTurns))
	} else {
		desc.Set("turn", fmt.Sprintf("%d", g.turn))
	}

	humans, vacant := 0, 0
	for _, s := range g.sides {
		if s.Controller == model.ControllerHuman {
			humans++
			if s.Owner == 0 {
				vacant++
			}
		}
	}
	desc.SetInt("human_sides", humans).SetInt("vacant_slots", vacant)

	if sc := g.scenario(); sc != nil {
		title := sc.Attr("name")
		if title == "" {
			title = sc.Attr("id")
		}
		desc.Set("scenario", title)
		era := sc.Attr("era")
		if e := g.level.Child("era"); e != nil {
			era = e.Attr("id")
		}
		desc.Set("era", era)
	}
	desc.Set("host", g.names[g.owner])
	return desc
}

func (g *Game) syncDescription() {
	if g.listed {
		g.arena.lobby.UpdateGame(g.id, g.Description())
	}
}

// readSides rebuilds the side table from the level, keeping the owners of
// sides that still exist
func (g *Game) readSides() {
	sc := g.scenario()
	if sc == nil {
		g.sides = nil
		return
	}
	old := g.sides
	nodes := sc.Children(protocol.KindSide)
	g.sides = make([]model.Side, len(nodes))
	for i, n := range nodes {
		side := model.Side{
			Number:     i + 1,
			Controller: model.ParseController(n.Attr("controller")),
			SaveID:     n.Attr("save_id"),
		}
		if side.Controller == model.ControllerReserved {
			side.Reserved = n.Attr("current_player")
		}
		if i < len(old) && old[i].Owner != 0 && g.IsMember(old[i].Owner) {
			switch side.Controller {
			case model.ControllerHuman, model.ControllerAI:
				side.Owner = old[i].Owner
			}
		}
		if side.Controller == model.ControllerAI && side.Owner == 0 {
			side.Owner = g.owner
		}
		g.sides[i] = side
	}
	for i := range g.sides {
		g.writeSide(i + 1)
	}
}

// writeSide mirrors a side's controller and player into the level
func (g *Game) writeSide(number int) {
	sc := g.scenario()
	if sc == nil {
		return
	}
	n := sc.ChildAt(protocol.KindSide, number-1)
	if n == nil {
		return
	}
	s := g.sides[number-1]
	n.Set("controller", string(s.Controller))
	switch {
	case s.Owner != 0:
		n.Set("current_player", g.names[s.Owner])
	case s.Controller == model.ControllerReserved:
		n.Set("current_player", s.Reserved)
	default:
		n.Delete("current_player")
	}
}

func (g *Game) claimSide(id model.ConnID) int {
	name := g.names[id]
	for i := range g.sides {
		s := &g.sides[i]
		if s.Controller == model.ControllerReserved && s.Owner == 0 && strings.EqualFold(s.Reserved, name) {
			s.Controller = model.ControllerHuman
			s.Owner = id
			g.writeSide(s.Number)
			return s.Number
		}
	}
	for i := range g.sides {
		s := &g.sides[i]
		if s.Free() {
			s.Owner = id
			g.writeSide(s.Number)
			return s.Number
		}
	}
	return model.NoSide
}

// SetLevel installs the scenario uploaded by the host and lists the game
func (g *Game) SetLevel(sender model.ConnID, level *wml.Node) error {
	if err := g.requireHost(sender, "upload a scenario"); err != nil {
		return err
	}
	switch g.state {
	case model.GameStateUninitialized, model.GameStateLevelInit:
	default:
		return model.Tell(model.ErrGameStarted, "The game has already started.")
	}
	if !level.HasChild(protocol.KindScenario) {
		return model.Tell(model.ErrMalformedCommand, "The scenario upload has no [scenario].")
	}

	first := g.level == nil
	g.level = level.Clone()
	g.numTurns = g.scenario().IntAttr("turns", -1)
	g.readSides()
	if first {
		g.claimSide(g.owner)
	}
	g.state = model.GameStateLevelInit

	if !g.listed {
		g.listed = true
		g.arena.lobby.AddGame(g.Description())
	} else {
		g.syncDescription()
	}
	g.logger.Info("scenario loaded",
		slog.String("scenario", g.scenario().Attr("id")),
		slog.Int("sides", len(g.sides)),
	)
	return nil
}

// ApplyScenarioDiff patches the level and relays the patch
func (g *Game) ApplyScenarioDiff(sender model.ConnID, diff *wml.Node) error {
	if err := g.requireHost(sender, "change the scenario"); err != nil {
		return err
	}
	if g.level == nil {
		return model.Tell(model.ErrLevelNotLoaded, "No scenario has been uploaded.")
	}
	if err := wml.ApplyDiff(g.level, diff); err != nil {
		g.logger.Warn("rejected scenario diff", slog.Any("error", err))
		return model.Tell(err, "The scenario change could not be applied.")
	}
	g.numTurns = g.scenario().IntAttr("turns", g.numTurns)
	g.readSides()

	relay := wml.NewDocument()
	relay.AppendChild(diff.Clone()).Name = protocol.KindScenarioDiff
	g.broadcast(relay, sender)
	g.syncDescription()
	return nil
}

// StartGame begins play on the current level
func (g *Game) StartGame(sender model.ConnID) error {
	if err := g.requireHost(sender, "start the game"); err != nil {
		return err
	}
	switch g.state {
	case model.GameStateLevelInit, model.GameStateBetweenScenarios:
	case model.GameStateUninitialized:
		return model.Tell(model.ErrLevelNotLoaded, "No scenario has been uploaded.")
	default:
		return model.Tell(model.ErrGameStarted, "The game has already started.")
	}

	if g.startedAt.IsZero() {
		g.startedAt = g.arena.clock.Now()
		g.arena.stats.Started++
	}
	g.state = model.GameStateStarted
	g.turn = 1
	g.currentSide = g.scanSide(len(g.sides))
	g.nextSide = g.currentSide
	g.sideEnded = false

	g.broadcast(protocol.StartGame(), sender)
	g.syncDescription()
	g.logger.Info("game started",
		slog.Int("current_side", g.currentSide),
		slog.Int("members", len(g.members)),
	)
	return nil
}

// scanSide returns the first side after the given one whose controller
// takes turns, wrapping around, or NoSide when there is none
func (g *Game) scanSide(after int) int {
	n := len(g.sides)
	for i := 1; i <= n; i++ {
		number := (after-1+i+n)%n + 1
		if g.sides[number-1].Controller != model.ControllerNone {
			return number
		}
	}
	return model.NoSide
}

func (g *Game) ownsSide(id model.ConnID, number int) bool {
	if number < 1 || number > len(g.sides) {
		return false
	}
	return g.sides[number-1].Owner == id
}

func (g *Game) sideOwnerName(number int) string {
	if number < 1 || number > len(g.sides) {
		return ""
	}
	return g.names[g.sides[number-1].Owner]
}

// AddPlayer admits a player. It returns whether the player joined as an
// observer.
func (g *Game) AddPlayer(p model.Player, observer bool, password string) (bool, error) {
	if g.IsMember(p.ConnID) {
		return false, model.Tell(model.ErrAlreadyInGame, "You are already in this game.")
	}
	if g.state == model.GameStateEnded {
		return false, model.Tell(model.ErrGameEnded, "This game has already ended.")
	}
	if !p.Moderator && (g.bannedNames[strings.ToLower(p.Name)] || (p.IP != "" && g.bannedIPs[p.IP])) {
		return false, model.Tell(model.ErrBannedFromGame, "You are banned from this game.")
	}
	if g.password != "" && password != g.password && !p.Moderator {
		return false, model.Tell(model.ErrIncorrectPassword, "Incorrect password.")
	}
	if g.level == nil {
		return false, model.Tell(model.ErrLevelNotLoaded, "Attempt to join a game that has not been initialized yet.")
	}

	g.names[p.ConnID] = p.Name
	side := model.NoSide
	if !observer && g.state == model.GameStateLevelInit {
		side = g.claimSide(p.ConnID)
	}
	observer = side == model.NoSide
	if observer && !g.observersAllowed && !p.Moderator {
		delete(g.names, p.ConnID)
		return false, model.Tell(model.ErrObserversForbidden, "Observers are not allowed in this game.")
	}

	if err := g.arena.dir.SetGame(p.ConnID, g.id); err != nil {
		if side != model.NoSide {
			g.sides[side-1].Owner = 0
			g.writeSide(side)
		}
		delete(g.names, p.ConnID)
		return false, err
	}
	g.members = append(g.members, p.ConnID)

	if observer {
		g.broadcast(protocol.ObserverJoined(p.Name), p.ConnID)
	} else {
		g.broadcast(protocol.ChangeController(side, p.Name, model.ControllerHuman, false), p.ConnID)
		g.broadcast(protocol.ServerMessage(p.Name+" has joined the game."), p.ConnID)
	}

	g.send(p.ConnID, protocol.JoinGameReply(g.id, observer))
	g.send(p.ConnID, g.level.Clone())
	if g.state == model.GameStateStarted {
		g.send(p.ConnID, protocol.StartGame())
	}
	for _, doc := range g.history {
		g.send(p.ConnID, doc.Clone())
	}
	for _, doc := range g.chat {
		g.send(p.ConnID, doc.Clone())
	}
	if !observer {
		g.send(p.ConnID, protocol.ChangeController(side, p.Name, model.ControllerHuman, true))
	}

	g.syncDescription()
	g.logger.Info("player joined",
		slog.String("player", p.Name),
		slog.Bool("observer", observer),
		slog.Int("side", side),
	)
	return observer, nil
}

// RemovePlayer takes a member out of the game and moves it back to the
// lobby. It reports whether the game must now be closed.
func (g *Game) RemovePlayer(id model.ConnID) bool {
	idx := g.indexOf(id)
	if idx < 0 {
		return false
	}
	name := g.names[id]
	wasObserver := !g.IsPlayer(id)

	g.members = append(g.members[:idx], g.members[idx+1:]...)
	delete(g.muted, id)
	delete(g.spoofs, id)
	// the connection may already be gone from the directory
	g.arena.lobby.Hold(id)
	_ = g.arena.dir.SetGame(id, 0)

	if len(g.members) == 0 {
		if g.endReason == model.EndReasonNone {
			g.endReason = model.EndReasonEmpty
		}
		delete(g.names, id)
		return true
	}

	if id == g.owner {
		if !g.Started() {
			g.endReason = model.EndReasonHostLeft
			g.tellAll("The host has left the game.")
			delete(g.names, id)
			return true
		}
		g.owner = g.pickOwner()
		g.send(g.owner, protocol.HostTransfer(g.names[g.owner]))
		g.broadcast(protocol.ServerMessage(g.names[g.owner]+" has been made the new host."), g.owner)
		g.logger.Info("host transferred", slog.String("host", g.names[g.owner]))
	}

	for i := range g.sides {
		s := &g.sides[i]
		if s.Owner != id {
			continue
		}
		if g.Started() {
			g.assignSide(s.Number, g.owner, s.Controller)
		} else {
			s.Owner = 0
			g.writeSide(s.Number)
		}
	}

	if wasObserver {
		g.broadcast(protocol.ObserverQuit(name), 0)
	} else {
		g.tellAll(name + " has left the game.")
	}
	delete(g.names, id)
	g.syncDescription()
	g.logger.Info("player left", slog.String("player", name))
	return false
}

// pickOwner prefers the earliest joined player, then the earliest observer
func (g *Game) pickOwner() model.ConnID {
	for _, m := range g.members {
		if g.IsPlayer(m) {
			return m
		}
	}
	return g.members[0]
}

// Chat relays a game chat line from a member
func (g *Game) Chat(sender model.ConnID, text string) error {
	if !g.IsMember(sender) {
		return model.ErrNotInGame
	}
	if g.IsMuted(sender) {
		return model.Tell(model.ErrPermissionDenied, "You have been muted, others can't see your message!")
	}
	doc := protocol.Chat(g.names[sender], text)
	g.chat = append(g.chat, doc)
	g.broadcast(doc, sender)
	return nil
}

// HandleInfo records what the clients report about the game's end
func (g *Game) HandleInfo(sender model.ConnID, info *wml.Node) {
	if info.Attr("type") != "termination" || !g.IsPlayer(sender) {
		return
	}
	condition := info.Attr("condition")
	switch condition {
	case "victory":
		g.endReason = model.EndReasonVictory
	case "defeat":
		g.endReason = model.EndReasonDefeat
	case "":
	default:
		g.endReason = model.EndReason(condition)
	}
	g.logger.Info("termination reported",
		slog.String("player", g.names[sender]),
		slog.String("condition", condition),
	)
}
