package model

import "time"

// EndReason records why a game ended, for post-mortem statistics
type EndReason string

const (
	EndReasonNone      EndReason = ""
	EndReasonVictory   EndReason = "victory"
	EndReasonDefeat    EndReason = "defeat"
	EndReasonOutOfSync EndReason = "out of sync"
	EndReasonHostLeft  EndReason = "host left"
	EndReasonEmpty     EndReason = "empty"
	EndReasonBanned    EndReason = "nick/IP ban"
	EndReasonShutdown  EndReason = "shutdown"
)

// GameRecord is the summary emitted when a game closes
type GameRecord struct {
	ID        GameID
	Name      string
	Scenario  string
	Era       string
	Turns     int
	Players   []string
	Reason    EndReason
	Replay    string
	StartedAt time.Time
	EndedAt   time.Time
}

// Stats is a snapshot of server counters
type Stats struct {
	Connections  int
	Players      int
	LobbyPlayers int
	Games        int
	GamesStarted int
	GamesClosed  int
	Logins       int
	Bans         int
	Uptime       time.Duration
}
