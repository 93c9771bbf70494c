// Package lobby maintains the lobby document listing open games and online
// users, and replicates it to lobby clients as diffs.
package lobby

import (
	"log/slog"
	"strconv"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/wml"
)

// Recipients delivers documents to lobby-resident connections
type Recipients interface {
	LobbyMembers() []model.ConnID
	Send(id model.ConnID, doc *wml.Node) bool
	SendMany(ids []model.ConnID, doc *wml.Node, except model.ConnID)
}

// Broadcaster owns the lobby document. Every change is applied locally and
// sent as the same diff to every lobby member, so the document and the diff
// stream always describe the same state.
type Broadcaster struct {
	doc        *wml.Node
	recipients Recipients
	logger     *slog.Logger

	// held connections are back in the lobby but have not been sent a
	// snapshot yet, so diffs would not apply to anything they hold
	held map[model.ConnID]struct{}

	diffs int
}

// NewBroadcaster creates a broadcaster with an empty game list
func NewBroadcaster(recipients Recipients, logger *slog.Logger) *Broadcaster {
	doc := wml.NewDocument()
	doc.AddChild(protocol.KindGamelist)
	return &Broadcaster{
		doc:        doc,
		recipients: recipients,
		logger:     logger.With(slog.String("component", "lobby-broadcaster")),
		held:       make(map[model.ConnID]struct{}),
	}
}

// Snapshot returns a copy of the full lobby document
func (b *Broadcaster) Snapshot() *wml.Node {
	return b.doc.Clone()
}

// SendSnapshot sends the full document to one connection and resumes
// diffs to it
func (b *Broadcaster) SendSnapshot(id model.ConnID) {
	delete(b.held, id)
	b.recipients.Send(id, b.Snapshot())
}

// Hold stops diffs to a connection until its next snapshot. Call it before
// moving a connection back into the lobby.
func (b *Broadcaster) Hold(id model.ConnID) {
	b.held[id] = struct{}{}
}

// Release drops a hold without sending anything, for connections that are
// going away
func (b *Broadcaster) Release(id model.ConnID) {
	delete(b.held, id)
}

// DiffCount returns the number of diffs broadcast so far
func (b *Broadcaster) DiffCount() int {
	return b.diffs
}

// Game returns a copy of a listed game's description
func (b *Broadcaster) Game(id model.GameID) (*wml.Node, bool) {
	g, _ := b.findGame(id)
	if g == nil {
		return nil, false
	}
	return g.Clone(), true
}

// AddGame lists a game. desc must be a [game] node carrying an id.
func (b *Broadcaster) AddGame(desc *wml.Node) {
	id := model.GameID(desc.IntAttr("id", 0))
	if existing, _ := b.findGame(id); existing != nil {
		b.UpdateGame(id, desc)
		return
	}
	index := b.gamelist().ChildCount(protocol.KindGame)
	b.commit(0, gamelistOp(wml.InsertChild(index, desc.Clone())))
}

// UpdateGame brings a listed game's description in line with desc. Nothing
// is sent when the description is unchanged.
func (b *Broadcaster) UpdateGame(id model.GameID, desc *wml.Node) {
	current, index := b.findGame(id)
	if current == nil {
		b.logger.Warn("update for unlisted game", slog.Int("game", int(id)))
		return
	}
	sub := wml.Diff(current, desc)
	if sub.IsEmpty() {
		return
	}
	sub.Name = protocol.KindGame
	b.commit(0, gamelistOp(wml.ChangeChild(index, sub)))
}

// RemoveGame delists a game
func (b *Broadcaster) RemoveGame(id model.GameID) {
	current, index := b.findGame(id)
	if current == nil {
		return
	}
	b.commit(0, gamelistOp(wml.DeleteChild(index, protocol.KindGame)))
}

// AddUser lists a user. The new user's own connection is excluded; it
// receives a snapshot instead.
func (b *Broadcaster) AddUser(user *wml.Node, except model.ConnID) {
	if existing, _ := b.findUser(user.Attr("name")); existing != nil {
		b.UpdateUser(user)
		return
	}
	index := b.doc.ChildCount(protocol.KindUser)
	b.commit(except, wml.InsertChild(index, user.Clone()))
}

// UpdateUser replaces a listed user's attributes
func (b *Broadcaster) UpdateUser(user *wml.Node) {
	current, index := b.findUser(user.Attr("name"))
	if current == nil {
		b.logger.Warn("update for unlisted user", slog.String("name", user.Attr("name")))
		return
	}
	sub := wml.Diff(current, user)
	if sub.IsEmpty() {
		return
	}
	sub.Name = protocol.KindUser
	b.commit(0, wml.ChangeChild(index, sub))
}

// RemoveUser delists a user
func (b *Broadcaster) RemoveUser(name string) {
	current, index := b.findUser(name)
	if current == nil {
		return
	}
	b.commit(0, wml.DeleteChild(index, protocol.KindUser))
}

// Users returns copies of the listed users
func (b *Broadcaster) Users() []*wml.Node {
	var out []*wml.Node
	for _, u := range b.doc.Children(protocol.KindUser) {
		out = append(out, u.Clone())
	}
	return out
}

// Games returns copies of the listed games
func (b *Broadcaster) Games() []*wml.Node {
	var out []*wml.Node
	for _, g := range b.gamelist().Children(protocol.KindGame) {
		out = append(out, g.Clone())
	}
	return out
}

// commit applies the operation to the document and, only if it applied,
// broadcasts it
func (b *Broadcaster) commit(except model.ConnID, op *wml.Node) {
	diff := wml.NewDocument()
	diff.AppendChild(op)
	if err := wml.ApplyDiff(b.doc, diff); err != nil {
		b.logger.Error("rejected inconsistent lobby change", slog.Any("error", err))
		return
	}
	b.diffs++
	b.recipients.SendMany(b.synced(), protocol.GamelistDiff(op), except)
}

// synced returns the lobby members whose view of the document is current
func (b *Broadcaster) synced() []model.ConnID {
	members := b.recipients.LobbyMembers()
	if len(b.held) == 0 {
		return members
	}
	out := make([]model.ConnID, 0, len(members))
	for _, id := range members {
		if _, ok := b.held[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func (b *Broadcaster) gamelist() *wml.Node {
	return b.doc.Child(protocol.KindGamelist)
}

func (b *Broadcaster) findGame(id model.GameID) (*wml.Node, int) {
	return b.gamelist().FindChild(protocol.KindGame, "id", strconv.Itoa(int(id)))
}

func (b *Broadcaster) findUser(name string) (*wml.Node, int) {
	return b.doc.FindChild(protocol.KindUser, "name", name)
}

func gamelistOp(inner *wml.Node) *wml.Node {
	sub := wml.NewNode(protocol.KindGamelist)
	sub.AppendChild(inner)
	return wml.ChangeChild(0, sub)
}
