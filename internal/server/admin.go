package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"path"
	"sort"
	"strings"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/services/ban"
)

var adminUsage = []string{
	"help",
	"status [<nick-mask|ip-mask>]",
	"stats",
	"metrics",
	"games",
	"motd [<message>]",
	"msg <message>",
	"lobbymsg <message>",
	"kick <nick-mask|ip-mask>",
	"ban <ip-mask|nick> <time> <reason>",
	"kban <ip-mask|nick> <time> <reason>",
	"gban <ip-mask|nick> <group> <time> <reason>",
	"unban <ip-mask|nick>",
	"ungban <group>",
	"bans [deleted] [<ip-mask>]",
	"dul [yes|no]",
	"register <nick> <password>",
	"setmod <nick> <yes|no>",
	"userban <nick> <account|ip|email|none> <time>",
	"shut_down [now]",
	"restart",
}

// Admin runs an administrative command on the reactor and returns its
// output
func (s *Server) Admin(ctx context.Context, issuer, line string) (string, error) {
	var out string
	err := s.call(ctx, func() {
		out = s.execute(issuer, line)
	})
	return out, err
}

// execute runs one administrative command line
func (s *Server) execute(issuer, line string) string {
	line = strings.TrimSpace(line)
	cmd, args, _ := strings.Cut(line, " ")
	cmd = strings.ToLower(cmd)
	args = strings.TrimSpace(args)

	if cmd != "" && cmd != "help" {
		s.logger.Info("admin command", slog.String("issuer", issuer), slog.String("command", line))
	}

	switch cmd {
	case "":
		return "No command given. Try 'help'."
	case "help":
		return "Available commands: " + strings.Join(adminUsage, ", ")
	case "status":
		return s.cmdStatus(args)
	case "stats":
		return s.cmdStats()
	case "metrics":
		return s.cmdMetrics()
	case "games":
		return s.cmdGames()
	case "motd":
		return s.cmdMotd(args)
	case "msg":
		return s.cmdMsg(args, false)
	case "lobbymsg":
		return s.cmdMsg(args, true)
	case "kick":
		return s.cmdKick(args)
	case "ban":
		return s.cmdBan(issuer, args, false, false)
	case "kban":
		return s.cmdBan(issuer, args, true, false)
	case "gban":
		return s.cmdBan(issuer, args, false, true)
	case "unban":
		return s.cmdUnban(args)
	case "ungban":
		return s.cmdUngban(args)
	case "bans":
		return s.cmdBans(args)
	case "dul", "deny_unregistered_login":
		return s.cmdDul(args)
	case "register":
		return s.cmdRegister(args)
	case "setmod":
		return s.cmdSetmod(args)
	case "userban":
		return s.cmdUserban(args)
	case "shut_down":
		return s.cmdShutdown(args)
	case "restart":
		return s.cmdRestart()
	}
	return fmt.Sprintf("Command '%s' is not recognized. Try 'help'.", cmd)
}

// matchPlayers returns the online players whose nick matches a glob or
// whose address falls in an IP mask
func (s *Server) matchPlayers(mask string) []model.Player {
	var out []model.Player
	prefix, err := ban.ParseTarget(mask)
	byAddress := err == nil
	for _, p := range s.deps.Registry.All() {
		if byAddress {
			if addr, err := netip.ParseAddr(p.IP); err == nil && prefix.Contains(addr.Unmap()) {
				out = append(out, p)
			}
			continue
		}
		if ok, _ := path.Match(strings.ToLower(mask), strings.ToLower(p.Name)); ok {
			out = append(out, p)
		}
	}
	return out
}

// cmdStatus reports the summary counts followed by the matching users
func (s *Server) cmdStatus(mask string) string {
	players := s.deps.Registry.All()
	if mask != "" {
		players = s.matchPlayers(mask)
	}
	var sb strings.Builder
	sb.WriteString(s.cmdStats())
	if len(players) == 0 {
		sb.WriteString("\nNo matching users.")
		return sb.String()
	}
	fmt.Fprintf(&sb, "\n%d user(s):", len(players))
	for _, p := range players {
		where := "lobby"
		if g, ok := s.deps.Games.Get(p.Game); ok {
			where = fmt.Sprintf("game %d (%s)", g.ID(), g.Name())
		}
		fmt.Fprintf(&sb, "\n'%s' @ %s conn %d in %s", p.Name, p.IP, p.ConnID, where)
		if p.Moderator {
			sb.WriteString(" [moderator]")
		}
	}
	return sb.String()
}

func (s *Server) cmdStats() string {
	st := s.stats()
	return fmt.Sprintf("Number of games = %d\nTotal number of users = %d\nNumber of users in the lobby = %d\nConnections = %d\nLogins = %d\nActive bans = %d\nUptime = %s",
		st.Games, st.Players, st.LobbyPlayers, st.Connections, st.Logins, st.Bans, st.Uptime)
}

func (s *Server) cmdMetrics() string {
	st := s.stats()
	return fmt.Sprintf("Games open: %d, started: %d, closed: %d\nLobby diffs sent: %d\nSession: %s\nUptime: %s",
		st.Games, st.GamesStarted, st.GamesClosed, s.deps.Lobby.DiffCount(), s.deps.Session, st.Uptime)
}

func (s *Server) cmdGames() string {
	games := s.deps.Games.Games()
	if len(games) == 0 {
		return "No games."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d game(s):", len(games))
	for _, g := range games {
		fmt.Fprintf(&sb, "\n%d '%s' %s turn %d members: %s",
			g.ID(), g.Name(), g.State(), g.Turn(), strings.Join(g.MemberNames(), ", "))
	}
	return sb.String()
}

func (s *Server) cmdMotd(text string) string {
	if text == "" {
		if s.motd == "" {
			return "No message of the day set."
		}
		return "Message of the day:\n" + s.motd
	}
	s.motd = text
	return "Message of the day set to: " + text
}

func (s *Server) cmdMsg(text string, lobbyOnly bool) string {
	if text == "" {
		return "You must type a message."
	}
	doc := protocol.ServerMessage(text)
	if lobbyOnly {
		members := s.deps.Registry.LobbyMembers()
		s.deps.Registry.SendMany(members, doc, 0)
		return fmt.Sprintf("Message sent to %d lobby user(s).", len(members))
	}
	players := s.deps.Registry.All()
	for _, p := range players {
		s.deps.Registry.Send(p.ConnID, doc)
	}
	return fmt.Sprintf("Message sent to %d user(s).", len(players))
}

func (s *Server) cmdKick(mask string) string {
	if mask == "" {
		return "You must enter a mask to kick."
	}
	players := s.matchPlayers(mask)
	if len(players) == 0 {
		return "No user matched '" + mask + "'."
	}
	var lines []string
	for _, p := range players {
		lines = append(lines, s.kick(p))
	}
	return strings.Join(lines, "\n")
}

func (s *Server) kick(p model.Player) string {
	if c, ok := s.conns[p.ConnID]; ok {
		c.Send(protocol.Error("You have been kicked."))
		s.disconnect(c, true)
	}
	return "Kicked " + p.Name + " (" + p.IP + ")."
}

// cmdBan handles ban, kban and gban. A nick target bans the nick from
// anywhere; an address or mask bans the address range.
func (s *Server) cmdBan(issuer, args string, kick, group bool) string {
	fields := strings.Fields(args)
	minArgs := 2
	usage := "Syntax: ban <ip-mask|nick> <time> <reason>"
	if group {
		minArgs = 3
		usage = "Syntax: gban <ip-mask|nick> <group> <time> <reason>"
	}
	if len(fields) < minArgs {
		return usage
	}
	target := fields[0]
	req := ban.Request{Issuer: issuer}
	rest := fields[1:]
	if group {
		req.Group = rest[0]
		rest = rest[1:]
	}
	req.Duration = rest[0]
	req.Reason = strings.Join(rest[1:], " ")
	if ban.IsAddress(target) {
		req.Target = target
	} else {
		req.Nick = target
	}

	rec, err := s.deps.Bans.Ban(req)
	if err != nil {
		return "Ban failed: " + err.Error()
	}
	out := "Added ban: " + ban.Describe(*rec, s.deps.Clock.Now())

	if kick {
		var kicked []string
		for _, p := range s.matchPlayers(target) {
			kicked = append(kicked, s.kick(p))
		}
		if len(kicked) > 0 {
			out += "\n" + strings.Join(kicked, "\n")
		}
	}
	return out
}

func (s *Server) cmdUnban(target string) string {
	if target == "" {
		return "You must enter an ip-mask or nick to unban."
	}
	n, err := s.deps.Bans.Unban(target)
	if err != nil {
		return "Unban failed: " + err.Error()
	}
	return fmt.Sprintf("Removed %d ban(s) on '%s'.", n, target)
}

func (s *Server) cmdUngban(group string) string {
	if group == "" {
		return "You must enter a group to unban."
	}
	n, err := s.deps.Bans.UnbanGroup(group)
	if err != nil {
		return "Unban failed: " + err.Error()
	}
	return fmt.Sprintf("Removed %d ban(s) in group '%s'.", n, group)
}

func (s *Server) cmdBans(args string) string {
	deleted := false
	mask := ""
	for _, f := range strings.Fields(args) {
		if f == "deleted" {
			deleted = true
		} else {
			mask = f
		}
	}
	recs := s.deps.Bans.List(deleted, mask)
	if len(recs) == 0 {
		if deleted {
			return "No removed bans."
		}
		return "No bans set."
	}
	now := s.deps.Clock.Now()
	lines := make([]string, 0, len(recs)+1)
	if deleted {
		lines = append(lines, "Removed bans:")
	} else {
		lines = append(lines, "Active bans:")
	}
	for _, rec := range recs {
		lines = append(lines, ban.Describe(rec, now))
	}
	if groups := s.deps.Bans.Groups(); len(groups) > 0 && !deleted {
		names := make([]string, 0, len(groups))
		for g := range groups {
			names = append(names, g)
		}
		sort.Strings(names)
		lines = append(lines, "Ban groups: "+strings.Join(names, ", "))
	}
	return strings.Join(lines, "\n")
}

func (s *Server) cmdDul(arg string) string {
	switch strings.ToLower(arg) {
	case "":
	case "yes":
		s.denyUnregistered = true
	case "no":
		s.denyUnregistered = false
	default:
		return "Syntax: dul [yes|no]"
	}
	if s.denyUnregistered {
		return "Unregistered logins are denied."
	}
	return "Unregistered logins are allowed."
}

func (s *Server) cmdRegister(args string) string {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return "Syntax: register <nick> <password>"
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if _, err := s.deps.Auth.Register(ctx, fields[0], fields[1], ""); err != nil {
		return "Registration failed: " + err.Error()
	}
	return "Registered '" + fields[0] + "'."
}

func (s *Server) cmdSetmod(args string) string {
	fields := strings.Fields(args)
	if len(fields) != 2 || (fields[1] != "yes" && fields[1] != "no") {
		return "Syntax: setmod <nick> <yes|no>"
	}
	moderator := fields[1] == "yes"
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.deps.Auth.SetModerator(ctx, fields[0], moderator); err != nil {
		return "Failed: " + err.Error()
	}
	if p, ok := s.deps.Registry.GetByName(fields[0]); ok && p.Registered {
		_ = s.deps.Registry.SetModerator(p.ConnID, moderator)
		s.refreshUser(p.ConnID)
	}
	if moderator {
		return "'" + fields[0] + "' is now a moderator."
	}
	return "'" + fields[0] + "' is no longer a moderator."
}

func (s *Server) cmdUserban(args string) string {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return "Syntax: userban <nick> <account|ip|email|none> <time>"
	}
	banType := model.ForumBanType(strings.ToLower(fields[1]))
	if banType == "none" {
		banType = model.ForumBanNone
	}
	switch banType {
	case model.ForumBanNone, model.ForumBanAccount, model.ForumBanIP, model.ForumBanEmail:
	default:
		return "Unknown ban type '" + fields[1] + "'."
	}

	var expires string
	if len(fields) > 2 {
		expires = fields[2]
	} else {
		expires = ban.Permanent
	}
	expiry, err := ban.ParseTime(s.deps.Clock.Now(), expires, s.cfg.Bans.Presets)
	if err != nil {
		return "Failed: " + err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.deps.Auth.SetBan(ctx, fields[0], banType, expiry); err != nil {
		return "Failed: " + err.Error()
	}
	if banType == model.ForumBanNone {
		return "Lifted the account ban on '" + fields[0] + "'."
	}
	return fmt.Sprintf("Set %s ban on '%s'.", banType, fields[0])
}

func (s *Server) cmdShutdown(arg string) string {
	if arg == "now" {
		s.stopping = true
		return "Shutting down now."
	}
	s.beginShutdown(shutdownGraceful)
	return fmt.Sprintf("Server will shut down once the %d remaining game(s) end. No new games can be created.", s.deps.Games.Len())
}

func (s *Server) cmdRestart() string {
	s.beginShutdown(shutdownRestart)
	return fmt.Sprintf("Server will restart once the %d remaining game(s) end.", s.deps.Games.Len())
}

// beginShutdown stops accepting connections and game creation; the
// shutdown check stops the reactor once no games remain
func (s *Server) beginShutdown(mode shutdownMode) {
	if s.shutdown == shutdownNone {
		s.closeListeners()
		s.logger.Info("graceful shutdown started", slog.Bool("restart", mode == shutdownRestart))
	}
	s.shutdown = mode
	s.checkShutdown()
}

func (s *Server) checkShutdown() {
	if s.shutdown != shutdownNone && s.deps.Games.Len() == 0 {
		s.stopping = true
	}
}
