package response

import (
	"net/netip"
	"strconv"
	"time"

	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/server"
)

// Health is the body of a successful health check
type Health struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}

// Games lists the open games and the most recently closed ones
type Games struct {
	Open   []server.GameInfo `json:"open"`
	Recent []GameRecord      `json:"recent"`
}

// GameRecord represents a closed game
type GameRecord struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Scenario  string    `json:"scenario,omitempty"`
	Era       string    `json:"era,omitempty"`
	Turns     int       `json:"turns"`
	Players   []string  `json:"players"`
	Reason    string    `json:"reason"`
	Replay    string    `json:"replay,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at"`
}

// GameRecordFromModel converts model.GameRecord
func GameRecordFromModel(r model.GameRecord) GameRecord {
	players := r.Players
	if players == nil {
		players = []string{}
	}
	return GameRecord{
		ID:        int(r.ID),
		Name:      r.Name,
		Scenario:  r.Scenario,
		Era:       r.Era,
		Turns:     r.Turns,
		Players:   players,
		Reason:    string(r.Reason),
		Replay:    r.Replay,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
	}
}

// Ban represents a ban in API responses
type Ban struct {
	Target  string     `json:"target"`
	Nick    string     `json:"nick,omitempty"`
	Issuer  string     `json:"issuer,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Group   string     `json:"group,omitempty"`
	Created time.Time  `json:"created"`
	Expires *time.Time `json:"expires"`
}

// BanFromModel converts model.BanRecord. Nick bans have no address target.
func BanFromModel(b model.BanRecord) Ban {
	target := ""
	if b.Nick == "" || b.Mask != 0 {
		target = b.IP
		if addr, err := netip.ParseAddr(b.IP); err != nil || b.Mask != addr.BitLen() {
			target = b.IP + "/" + strconv.Itoa(b.Mask)
		}
	}
	return Ban{
		Target:  target,
		Nick:    b.Nick,
		Issuer:  b.Issuer,
		Reason:  b.Reason,
		Group:   b.Group,
		Created: b.Created,
		Expires: b.Expires,
	}
}

// Bans lists bans, active or removed
type Bans struct {
	Deleted bool  `json:"deleted"`
	Bans    []Ban `json:"bans"`
}

// Admin is the response after running an admin command
type Admin struct {
	Command string `json:"command"`
	Output  string `json:"output"`
}
