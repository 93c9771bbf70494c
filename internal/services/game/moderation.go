package game

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/protocol"
)

func (g *Game) moderationTarget(sender model.ConnID, name string) (model.ConnID, error) {
	target, ok := g.memberByName(name)
	if !ok {
		return 0, model.Tell(model.ErrPlayerNotFound, fmt.Sprintf("'%s' is not a member of this game.", name))
	}
	if target == sender {
		return 0, model.Tell(model.ErrCannotTargetSelf, "Don't kick yourself, silly.")
	}
	if p, ok := g.arena.dir.Get(target); ok && p.Moderator {
		return 0, model.Tell(model.ErrTargetModerator, "You're not allowed to kick a moderator.")
	}
	return target, nil
}

// KickMember removes a member on the host's request and returns the kicked
// connection so the caller can return it to the lobby
func (g *Game) KickMember(sender model.ConnID, name string) (model.ConnID, error) {
	if err := g.requireHost(sender, "kick"); err != nil {
		return 0, err
	}
	target, err := g.moderationTarget(sender, name)
	if err != nil {
		return 0, err
	}
	g.expel(target, " has been kicked.")
	return target, nil
}

// BanUser bans a name, and the IP of a connected player, from the game.
// A banned member is removed and its connection returned.
func (g *Game) BanUser(sender model.ConnID, name string) (model.ConnID, error) {
	if err := g.requireHost(sender, "ban"); err != nil {
		return 0, err
	}
	target, err := g.moderationTarget(sender, name)
	if err != nil && !errors.Is(err, model.ErrPlayerNotFound) {
		return 0, err
	}

	g.bannedNames[strings.ToLower(name)] = true
	if p, ok := g.arena.dir.GetByName(name); ok && p.IP != "" {
		if p.Moderator {
			delete(g.bannedNames, strings.ToLower(name))
			return 0, model.Tell(model.ErrTargetModerator, "You're not allowed to ban a moderator.")
		}
		g.bannedIPs[p.IP] = true
	}
	g.logger.Info("game ban", slog.String("name", name), slog.String("by", g.names[sender]))

	if target == 0 {
		g.send(sender, protocol.ServerMessage("Banned "+name+" from this game."))
		return 0, nil
	}
	g.expel(target, " has been banned.")
	return target, nil
}

// UnbanUser lifts a game ban by name
func (g *Game) UnbanUser(sender model.ConnID, name string) error {
	if err := g.requireHost(sender, "unban"); err != nil {
		return err
	}
	key := strings.ToLower(name)
	if !g.bannedNames[key] {
		return model.Tell(model.ErrBanNotFound, fmt.Sprintf("'%s' is not banned.", name))
	}
	delete(g.bannedNames, key)
	if p, ok := g.arena.dir.GetByName(name); ok {
		delete(g.bannedIPs, p.IP)
	}
	g.send(sender, protocol.ServerMessage("Unbanned "+name+"."))
	return nil
}

// BannedNames lists the names banned from the game
func (g *Game) BannedNames() []string {
	out := make([]string, 0, len(g.bannedNames))
	for n := range g.bannedNames {
		out = append(out, n)
	}
	return out
}

func (g *Game) expel(target model.ConnID, verb string) {
	name := g.names[target]
	g.send(target, protocol.LeaveGame())
	g.RemovePlayer(target)
	g.tellAll(name + verb)
	g.logger.Info("member expelled", slog.String("player", name), slog.String("action", strings.TrimSpace(verb)))
}

// MuteObserver silences an observer. An empty name mutes every observer,
// toggling on repeat.
func (g *Game) MuteObserver(sender model.ConnID, name string) error {
	if err := g.requireHost(sender, "mute"); err != nil {
		return err
	}
	if name == "" {
		g.muteAll = !g.muteAll
		if g.muteAll {
			g.tellAll("Mute all observers")
		} else {
			g.tellAll("Stop muting all observers")
		}
		return nil
	}
	target, ok := g.memberByName(name)
	if !ok || !g.IsObserver(target) {
		return model.Tell(model.ErrNotObserver, fmt.Sprintf("Observer '%s' not found.", name))
	}
	if g.muted[target] {
		return model.Tell(model.ErrNotObserver, fmt.Sprintf("Observer '%s' is already muted.", name))
	}
	g.muted[target] = true
	g.tellAll(g.names[target] + " has been muted.")
	return nil
}

// UnmuteObserver restores an observer's chat. An empty name clears every
// mute.
func (g *Game) UnmuteObserver(sender model.ConnID, name string) error {
	if err := g.requireHost(sender, "unmute"); err != nil {
		return err
	}
	if name == "" {
		g.muteAll = false
		g.muted = make(map[model.ConnID]bool)
		g.tellAll("Stop muting all observers")
		return nil
	}
	target, ok := g.memberByName(name)
	if !ok || !g.muted[target] {
		return model.Tell(model.ErrNotObserver, fmt.Sprintf("Observer '%s' is not muted.", name))
	}
	delete(g.muted, target)
	g.tellAll(g.names[target] + " has been unmuted.")
	return nil
}
