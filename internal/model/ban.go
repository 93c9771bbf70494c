package model

import "time"

// BanRecord is one IP/subnet (and optionally nick) ban
type BanRecord struct {
	IP      string     `json:"ip"`
	Mask    int        `json:"mask"`
	Nick    string     `json:"nick,omitempty"`
	Issuer  string     `json:"issuer"`
	Reason  string     `json:"reason"`
	Group   string     `json:"group,omitempty"`
	Created time.Time  `json:"created"`
	Expires *time.Time `json:"expires,omitempty"`
	Deleted *time.Time `json:"deleted,omitempty"`
}

// Permanent reports whether the ban never expires
func (b *BanRecord) Permanent() bool {
	return b.Expires == nil
}

// BanSnapshot is the persisted state of the ban manager
type BanSnapshot struct {
	Active      []BanRecord    `json:"active"`
	Deleted     []BanRecord    `json:"deleted"`
	LastGroupID int            `json:"last_group_id"`
	Groups      map[string]int `json:"groups,omitempty"`
}
