package model

import "time"

// ConnID identifies a live connection. It is the primary key for players.
type ConnID uint64

// Player is a logged-in connection
type Player struct {
	ConnID     ConnID
	Name       string
	Registered bool
	Moderator  bool
	Version    string
	Source     string
	IP         string
	LoginTime  time.Time

	// Game is 0 while the player is in the lobby
	Game GameID
}

// InLobby reports whether the player is not a member of any game
func (p *Player) InLobby() bool {
	return p.Game == 0
}

// RegisteredUser is a nickname with a stored password hash
type RegisteredUser struct {
	Username     string       `json:"username"`
	PasswordHash string       `json:"password_hash"`
	Email        string       `json:"email,omitempty"`
	Moderator    bool         `json:"moderator"`
	BanType      ForumBanType `json:"ban_type,omitempty"`
	BanExpiry    *time.Time   `json:"ban_expiry,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	LastLogin    time.Time    `json:"last_login"`
}

// ActiveBan returns the ban type in force at the given instant
func (u *RegisteredUser) ActiveBan(now time.Time) ForumBanType {
	if u.BanType == ForumBanNone {
		return ForumBanNone
	}
	if u.BanExpiry != nil && !now.Before(*u.BanExpiry) {
		return ForumBanNone
	}
	return u.BanType
}
