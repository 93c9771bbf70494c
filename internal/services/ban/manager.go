// Package ban keeps the active and archived IP/nick bans, expires timed bans
// in order, and persists the list through a storage backend.
//
// A Manager is not safe for concurrent use; the server reactor owns it.
package ban

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/mcoot/mpserver/internal/dependencies/clock"
	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/storage"
)

// Config holds ban manager settings
type Config struct {
	// Presets maps names usable as durations ("short") to duration strings
	Presets map[string]string

	// DeletedLimit caps the archive of removed bans; 0 keeps everything
	DeletedLimit int
}

// DefaultConfig returns the default ban settings
func DefaultConfig() Config {
	return Config{
		Presets: map[string]string{
			"short":    "10m",
			"medium":   "1h",
			"long":     "1D",
			"verylong": "30D",
		},
		DeletedLimit: 1000,
	}
}

// Request describes a new ban. Target is an address or mask; when empty,
// Nick must be set and the ban matches that nick from any address.
type Request struct {
	Target   string
	Nick     string
	Duration string
	Reason   string
	Issuer   string
	Group    string
}

type entry struct {
	rec     model.BanRecord
	prefix  netip.Prefix
	removed bool
}

// matches reports whether the ban applies to the address and nick.
// Nick-only bans (zero-length mask) require the nick to match.
func (e *entry) matches(addr netip.Addr, nick string) bool {
	if e.prefix.Bits() == 0 && e.rec.Nick != "" {
		return nick != "" && strings.EqualFold(e.rec.Nick, nick)
	}
	return addr.IsValid() && e.prefix.Contains(addr)
}

func (e *entry) key() string {
	if e.prefix.Bits() == 0 && e.rec.Nick != "" {
		return "nick:" + strings.ToLower(e.rec.Nick)
	}
	return e.prefix.String()
}

// Manager owns the ban list
type Manager struct {
	store  storage.BanStore
	clock  clock.Clock
	logger *slog.Logger
	cfg    Config

	bans        []*entry
	byKey       map[string]*entry
	queue       expiryQueue
	deleted     []model.BanRecord
	groups      map[string]int
	lastGroupID int

	saver *saver
	seq   uint64
}

// New creates a ban manager. Call Load to read persisted bans.
func New(store storage.BanStore, clk clock.Clock, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		clock:  clk,
		logger: logger.With(slog.String("component", "ban")),
		cfg:    cfg,
		byKey:  make(map[string]*entry),
		groups: make(map[string]int),
	}
}

// Start moves persistence onto a background writer. Without Start every
// change is written synchronously.
func (m *Manager) Start() {
	if m.saver != nil {
		return
	}
	m.saver = newSaver(m.store, m.logger)
	go m.saver.run()
}

// Close flushes pending writes and stops the background writer
func (m *Manager) Close(ctx context.Context) error {
	err := m.Flush(ctx)
	if m.saver != nil {
		m.saver.close()
		m.saver = nil
	}
	return err
}

// Load replaces the in-memory state with the persisted snapshot
func (m *Manager) Load(ctx context.Context) error {
	snap, err := m.store.LoadBans(ctx)
	if err != nil {
		return fmt.Errorf("load bans: %w", err)
	}

	m.bans = nil
	m.byKey = make(map[string]*entry)
	m.queue = nil
	m.deleted = append([]model.BanRecord(nil), snap.Deleted...)
	m.groups = make(map[string]int, len(snap.Groups))
	for k, v := range snap.Groups {
		m.groups[k] = v
	}
	m.lastGroupID = snap.LastGroupID

	for _, rec := range snap.Active {
		prefix, err := netip.ParsePrefix(fmt.Sprintf("%s/%d", rec.IP, rec.Mask))
		if err != nil {
			m.logger.Warn("skipping unreadable ban", slog.String("ip", rec.IP), slog.Any("error", err))
			continue
		}
		m.insert(&entry{rec: rec, prefix: prefix.Masked()})
	}

	m.logger.Info("bans loaded",
		slog.Int("active", len(m.bans)),
		slog.Int("deleted", len(m.deleted)))
	return nil
}

// Ban adds a ban, replacing any existing ban on the same address or nick
func (m *Manager) Ban(req Request) (*model.BanRecord, error) {
	now := m.clock.Now()

	var prefix netip.Prefix
	switch {
	case req.Target != "":
		p, err := ParseTarget(req.Target)
		if err != nil {
			return nil, err
		}
		prefix = p
	case req.Nick != "":
		prefix = netip.PrefixFrom(netip.IPv4Unspecified(), 0)
	default:
		return nil, fmt.Errorf("%w: no address or nick", model.ErrInvalidTarget)
	}

	expires, err := ParseTime(now, req.Duration, m.cfg.Presets)
	if err != nil {
		return nil, err
	}

	e := &entry{
		prefix: prefix,
		rec: model.BanRecord{
			IP:      prefix.Addr().String(),
			Mask:    prefix.Bits(),
			Nick:    req.Nick,
			Issuer:  req.Issuer,
			Reason:  req.Reason,
			Group:   req.Group,
			Created: now,
			Expires: expires,
		},
	}

	if old, ok := m.byKey[e.key()]; ok {
		m.archive(old, now)
	}
	if req.Group != "" {
		if _, ok := m.groups[req.Group]; !ok {
			m.lastGroupID++
			m.groups[req.Group] = m.lastGroupID
		}
	}
	m.insert(e)
	m.persist()

	m.logger.Info("ban added",
		slog.String("target", e.key()),
		slog.String("issuer", req.Issuer),
		slog.String("reason", req.Reason),
		slog.String("group", req.Group))

	rec := e.rec
	return &rec, nil
}

// Unban removes bans on the given address, mask, or nick. It returns the
// number of bans removed.
func (m *Manager) Unban(target string) (int, error) {
	now := m.clock.Now()
	var removed int

	if prefix, err := ParseTarget(target); err == nil {
		for _, e := range m.active() {
			if e.prefix == prefix {
				m.archive(e, now)
				removed++
			}
		}
	} else {
		for _, e := range m.active() {
			if e.rec.Nick != "" && strings.EqualFold(e.rec.Nick, target) {
				m.archive(e, now)
				removed++
			}
		}
	}

	if removed == 0 {
		return 0, fmt.Errorf("%w: %s", model.ErrBanNotFound, target)
	}
	m.persist()
	return removed, nil
}

// UnbanGroup removes every ban tagged with the group
func (m *Manager) UnbanGroup(group string) (int, error) {
	now := m.clock.Now()
	var removed int
	for _, e := range m.active() {
		if e.rec.Group == group {
			m.archive(e, now)
			removed++
		}
	}
	if removed == 0 {
		return 0, fmt.Errorf("%w: group %s", model.ErrBanNotFound, group)
	}
	delete(m.groups, group)
	m.persist()
	return removed, nil
}

// CheckBanTimes archives every ban whose expiry is at or before now and
// returns how many expired
func (m *Manager) CheckBanTimes(now time.Time) int {
	expired := 0
	for {
		at, ok := m.queue.peek()
		if !ok || at.After(now) {
			break
		}
		e := heap.Pop(&m.queue).(*entry)
		if e.removed {
			continue
		}
		m.archive(e, now)
		expired++
	}
	if expired > 0 {
		m.logger.Info("bans expired", slog.Int("count", expired))
		m.persist()
	}
	return expired
}

// NextExpiry returns the earliest pending expiry
func (m *Manager) NextExpiry() (time.Time, bool) {
	for len(m.queue) > 0 && m.queue[0].removed {
		heap.Pop(&m.queue)
	}
	return m.queue.peek()
}

// IsIPBanned reports whether an address is covered by an active ban
func (m *Manager) IsIPBanned(ip string) bool {
	_, ok := m.GetBanInfo(ip, "")
	return ok
}

// GetBanInfo returns the first active ban matching the address or nick.
// Bans past their expiry do not match even before the sweep archives them.
func (m *Manager) GetBanInfo(ip, nick string) (*model.BanRecord, bool) {
	addr, err := netip.ParseAddr(ip)
	if err == nil {
		addr = addr.Unmap()
	}
	now := m.clock.Now()
	for _, e := range m.active() {
		if e.rec.Expires != nil && !now.Before(*e.rec.Expires) {
			continue
		}
		if e.matches(addr, nick) {
			rec := e.rec
			return &rec, true
		}
	}
	return nil, false
}

// List returns the active bans, or the archive when deleted is true,
// filtered by an optional address mask
func (m *Manager) List(deleted bool, mask string) []model.BanRecord {
	var filter netip.Prefix
	if mask != "" {
		if p, err := ParseTarget(mask); err == nil {
			filter = p
		}
	}
	keep := func(rec model.BanRecord) bool {
		if !filter.IsValid() {
			return true
		}
		addr, err := netip.ParseAddr(rec.IP)
		return err == nil && filter.Contains(addr)
	}

	var out []model.BanRecord
	if deleted {
		for _, rec := range m.deleted {
			if keep(rec) {
				out = append(out, rec)
			}
		}
		return out
	}
	for _, e := range m.active() {
		if keep(e.rec) {
			out = append(out, e.rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Groups returns the known ban groups and their ids
func (m *Manager) Groups() map[string]int {
	out := make(map[string]int, len(m.groups))
	for k, v := range m.groups {
		out[k] = v
	}
	return out
}

// Count returns the number of active bans
func (m *Manager) Count() int {
	return len(m.bans)
}

// Flush writes the current state synchronously
func (m *Manager) Flush(ctx context.Context) error {
	m.seq++
	job := saveJob{seq: m.seq, snap: m.snapshot()}
	if m.saver != nil {
		return m.saver.write(ctx, job)
	}
	return m.store.SaveBans(ctx, job.snap)
}

func (m *Manager) persist() {
	m.seq++
	job := saveJob{seq: m.seq, snap: m.snapshot()}
	if m.saver != nil {
		m.saver.submit(job)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.SaveBans(ctx, job.snap); err != nil {
		m.logger.Error("failed to save bans", slog.Any("error", err))
	}
}

func (m *Manager) snapshot() *model.BanSnapshot {
	snap := &model.BanSnapshot{
		Active:      make([]model.BanRecord, 0, len(m.bans)),
		Deleted:     append([]model.BanRecord(nil), m.deleted...),
		LastGroupID: m.lastGroupID,
		Groups:      m.Groups(),
	}
	for _, e := range m.bans {
		snap.Active = append(snap.Active, e.rec)
	}
	return snap
}

func (m *Manager) insert(e *entry) {
	m.bans = append(m.bans, e)
	m.byKey[e.key()] = e
	if e.rec.Expires != nil {
		heap.Push(&m.queue, e)
	}
}

// archive moves a ban to the deleted list. The heap entry is left for lazy
// removal.
func (m *Manager) archive(e *entry, now time.Time) {
	if e.removed {
		return
	}
	e.removed = true
	for i, x := range m.bans {
		if x == e {
			m.bans = append(m.bans[:i], m.bans[i+1:]...)
			break
		}
	}
	if m.byKey[e.key()] == e {
		delete(m.byKey, e.key())
	}

	rec := e.rec
	rec.Deleted = &now
	m.deleted = append(m.deleted, rec)
	if limit := m.cfg.DeletedLimit; limit > 0 && len(m.deleted) > limit {
		m.deleted = append([]model.BanRecord(nil), m.deleted[len(m.deleted)-limit:]...)
	}
}

// active returns a copy of the active list so callers may archive while
// iterating
func (m *Manager) active() []*entry {
	return append([]*entry(nil), m.bans...)
}

// Describe formats a ban for admin output
func Describe(rec model.BanRecord, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "'%s/%d'", rec.IP, rec.Mask)
	if rec.Nick != "" {
		fmt.Fprintf(&sb, " nick: %s", rec.Nick)
	}
	fmt.Fprintf(&sb, " issuer: %s reason: %s", rec.Issuer, rec.Reason)
	if rec.Group != "" {
		fmt.Fprintf(&sb, " group: %s", rec.Group)
	}
	switch {
	case rec.Deleted != nil:
		fmt.Fprintf(&sb, " removed: %s", rec.Deleted.UTC().Format(time.RFC3339))
	case rec.Expires == nil:
		sb.WriteString(" ends: never")
	default:
		fmt.Fprintf(&sb, " ends: %s (in %s)", rec.Expires.UTC().Format(time.RFC3339),
			rec.Expires.Sub(now).Round(time.Second))
	}
	return sb.String()
}
