package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter
func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		o.printJSON(map[string]string{"message": msg})
	} else {
		fmt.Fprintln(o.w, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case HealthResult:
		o.printHealthResult(v)
	case Status:
		o.printStatus(v)
	case Games:
		o.printGames(v)
	case []UserInfo:
		o.printUsers(v)
	case Bans:
		o.printBans(v)
	case AdminResult:
		o.printAdminResult(v)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// HealthResult response type (matches API)
type HealthResult struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}

// Status is the server summary
type Status struct {
	Session          string    `json:"session"`
	StartedAt        time.Time `json:"started_at"`
	Uptime           string    `json:"uptime"`
	Connections      int       `json:"connections"`
	Players          int       `json:"players"`
	LobbyPlayers     int       `json:"lobby_players"`
	Games            int       `json:"games"`
	GamesStarted     int       `json:"games_started"`
	GamesClosed      int       `json:"games_closed"`
	Logins           int       `json:"logins"`
	Bans             int       `json:"bans"`
	LobbyDiffs       int       `json:"lobby_diffs"`
	ShuttingDown     bool      `json:"shutting_down"`
	DenyUnregistered bool      `json:"deny_unregistered"`
}

// GameInfo is an open game
type GameInfo struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	State     string   `json:"state"`
	Host      string   `json:"host"`
	Scenario  string   `json:"scenario,omitempty"`
	Era       string   `json:"era,omitempty"`
	Turn      string   `json:"turn,omitempty"`
	Password  bool     `json:"password"`
	Players   []string `json:"players"`
	Observers []string `json:"observers"`
}

// GameRecord is a closed game
type GameRecord struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Scenario  string    `json:"scenario,omitempty"`
	Era       string    `json:"era,omitempty"`
	Turns     int       `json:"turns"`
	Players   []string  `json:"players"`
	Reason    string    `json:"reason"`
	Replay    string    `json:"replay,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Games combines open and recently closed games
type Games struct {
	Open   []GameInfo   `json:"open"`
	Recent []GameRecord `json:"recent"`
}

// UserInfo is a logged in player
type UserInfo struct {
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Game       int       `json:"game,omitempty"`
	Registered bool      `json:"registered"`
	Moderator  bool      `json:"moderator"`
	Version    string    `json:"version"`
	LoginTime  time.Time `json:"login_time"`
}

// Ban is one ban entry
type Ban struct {
	Target  string     `json:"target"`
	Nick    string     `json:"nick,omitempty"`
	Issuer  string     `json:"issuer,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Group   string     `json:"group,omitempty"`
	Created time.Time  `json:"created"`
	Expires *time.Time `json:"expires"`
}

// Bans response type
type Bans struct {
	Deleted bool  `json:"deleted"`
	Bans    []Ban `json:"bans"`
}

// AdminResult is the output of an admin command
type AdminResult struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}

func (o *Output) printHealthResult(h HealthResult) {
	fmt.Fprintf(o.w, "Status: %s\n", h.Status)
	fmt.Fprintf(o.w, "Session: %s\n", h.Session)
}

func (o *Output) printStatus(s Status) {
	fmt.Fprintf(o.w, "Session: %s\n", s.Session)
	fmt.Fprintf(o.w, "Uptime: %s\n", s.Uptime)
	fmt.Fprintf(o.w, "Connections: %d\n", s.Connections)
	fmt.Fprintf(o.w, "Players: %d (%d in lobby)\n", s.Players, s.LobbyPlayers)
	fmt.Fprintf(o.w, "Games: %d open, %d started, %d closed\n", s.Games, s.GamesStarted, s.GamesClosed)
	fmt.Fprintf(o.w, "Logins: %d\n", s.Logins)
	fmt.Fprintf(o.w, "Bans: %d\n", s.Bans)
	if s.ShuttingDown {
		fmt.Fprintln(o.w, "Shutting down")
	}
	if s.DenyUnregistered {
		fmt.Fprintln(o.w, "Unregistered logins are denied")
	}
}

func (o *Output) printGames(g Games) {
	if len(g.Open) == 0 {
		fmt.Fprintln(o.w, "No open games.")
	} else {
		tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSTATE\tHOST\tSCENARIO\tTURN\tPLAYERS\tOBSERVERS")
		for _, game := range g.Open {
			name := game.Name
			if game.Password {
				name += " (password)"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
				game.ID, name, game.State, game.Host, game.Scenario, game.Turn,
				strings.Join(game.Players, ", "), len(game.Observers))
		}
		_ = tw.Flush()
	}

	if len(g.Recent) > 0 {
		fmt.Fprintf(o.w, "\nRecently closed (%d):\n", len(g.Recent))
		for _, r := range g.Recent {
			fmt.Fprintf(o.w, "  - #%d %s: %s after %d turns\n", r.ID, r.Name, r.Reason, r.Turns)
		}
	}
}

func (o *Output) printUsers(users []UserInfo) {
	if len(users) == 0 {
		fmt.Fprintln(o.w, "No users online.")
		return
	}
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tGAME\tVERSION\tFLAGS")
	for _, u := range users {
		var flags []string
		if u.Registered {
			flags = append(flags, "registered")
		}
		if u.Moderator {
			flags = append(flags, "moderator")
		}
		game := "-"
		if u.Game != 0 {
			game = fmt.Sprint(u.Game)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.Name, u.Status, game, u.Version, strings.Join(flags, ","))
	}
	_ = tw.Flush()
}

func (o *Output) printBans(b Bans) {
	if len(b.Bans) == 0 {
		if b.Deleted {
			fmt.Fprintln(o.w, "No deleted bans.")
		} else {
			fmt.Fprintln(o.w, "No active bans.")
		}
		return
	}
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tNICK\tEXPIRES\tISSUER\tREASON")
	for _, ban := range b.Bans {
		expires := "permanent"
		if ban.Expires != nil {
			expires = ban.Expires.UTC().Format(time.RFC3339)
		}
		target := ban.Target
		if target == "" {
			target = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", target, ban.Nick, expires, ban.Issuer, ban.Reason)
	}
	_ = tw.Flush()
}

func (o *Output) printAdminResult(a AdminResult) {
	fmt.Fprintln(o.w, strings.TrimRight(a.Output, "\n"))
}
