// Package server runs the multiplayer game server. A single reactor
// goroutine owns all session, lobby, game and ban state; connection
// goroutines only move frames and post events to it.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcoot/mpserver/internal/config"
	"github.com/mcoot/mpserver/internal/dependencies/clock"
	"github.com/mcoot/mpserver/internal/model"
	"github.com/mcoot/mpserver/internal/protocol"
	"github.com/mcoot/mpserver/internal/services/auth"
	"github.com/mcoot/mpserver/internal/services/ban"
	"github.com/mcoot/mpserver/internal/services/game"
	"github.com/mcoot/mpserver/internal/services/lobby"
	"github.com/mcoot/mpserver/internal/services/registry"
	"github.com/mcoot/mpserver/internal/wml"
)

var (
	// ErrStopped is returned by requests made after the reactor exited
	ErrStopped = errors.New("server stopped")

	// ErrRestart is returned by Run after a restart command
	ErrRestart = errors.New("server restart requested")
)

const (
	inboxSize        = 1024
	handshakeTimeout = 10 * time.Second
	storeTimeout     = 5 * time.Second
	recentGames      = 50
)

type eventKind int

const (
	evConnect eventKind = iota
	evMessage
	evDisconnect
	evCall
)

type event struct {
	kind eventKind
	conn *conn
	doc  *wml.Node
	err  error
	fn   func()
}

type shutdownMode int

const (
	shutdownNone shutdownMode = iota
	shutdownGraceful
	shutdownRestart
)

// Deps are the services the reactor drives
type Deps struct {
	Registry *registry.Registry
	Lobby    *lobby.Broadcaster
	Games    *game.Controller
	Bans     *ban.Manager
	Auth     *auth.Service
	Clock    clock.Clock

	// Session identifies this server run in logs, replay names and the
	// status API
	Session string
}

// Server is the game protocol server
type Server struct {
	cfg    config.Config
	deps   Deps
	codec  protocol.Codec
	tls    *tls.Config
	logger *slog.Logger

	inbox    chan event
	quit     chan struct{}
	quitOnce sync.Once
	nextID   atomic.Uint64
	throttle *acceptThrottle

	mu        sync.Mutex
	listeners []net.Listener

	// reactor state
	conns            map[model.ConnID]*conn
	perIP            map[string]int
	motd             string
	tournaments      string
	denyUnregistered bool
	shutdown         shutdownMode
	stopping         bool
	startedAt        time.Time
	logins           int
	dummies          []string
	recent           []model.GameRecord
}

// New creates a server. TLS material is loaded here so a bad certificate
// fails at startup.
func New(cfg config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:              cfg,
		deps:             deps,
		codec:            protocol.NewCodec(cfg.Server.Compress, cfg.Server.MaxFrameSize),
		logger:           logger.With(slog.String("component", "server")),
		inbox:            make(chan event, inboxSize),
		quit:             make(chan struct{}),
		throttle:         newAcceptThrottle(cfg.Flood.AcceptsPerSecond, cfg.Flood.AcceptBurst),
		conns:            make(map[model.ConnID]*conn),
		perIP:            make(map[string]int),
		motd:             cfg.Server.MOTD,
		denyUnregistered: cfg.Login.DenyUnregistered,
		startedAt:        deps.Clock.Now(),
	}
	if cfg.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("load tls key pair: %w", err)
		}
		s.tls = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	return s, nil
}

// Session returns the server run id
func (s *Server) Session() string {
	return s.deps.Session
}

// Listen opens the configured TCP port
func (s *Server) Listen() (net.Listener, error) {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.Port))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return l, nil
}

// Serve accepts connections on l until it is closed
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	select {
	case <-s.quit:
		s.mu.Unlock()
		_ = l.Close()
		return ErrStopped
	default:
	}
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	s.logger.Info("accepting connections", slog.String("addr", l.Addr().String()))
	for {
		nc, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		ip := remoteIP(nc.RemoteAddr())
		if !s.throttle.allow(ip) {
			s.logger.Debug("accept throttled", slog.String("ip", ip))
			_ = nc.Close()
			continue
		}
		go s.handshake(nc, ip)
	}
}

// handshake answers the connection word and hands the connection to the
// reactor
func (s *Server) handshake(nc net.Conn, ip string) {
	_ = nc.SetDeadline(time.Now().Add(handshakeTimeout))
	word, err := protocol.ReadHandshake(nc)
	if err != nil {
		s.logger.Debug("handshake failed", slog.String("ip", ip), slog.String("error", err.Error()))
		_ = nc.Close()
		return
	}

	id := model.ConnID(s.nextID.Add(1))
	switch word {
	case protocol.HandshakeTLS:
		if s.tls == nil {
			_ = protocol.WriteHandshakeReply(nc, protocol.HandshakeNoTLS)
			_ = nc.Close()
			return
		}
		if err := protocol.WriteHandshakeReply(nc, 0); err != nil {
			_ = nc.Close()
			return
		}
		tc := tls.Server(nc, s.tls)
		if err := tc.Handshake(); err != nil {
			s.logger.Debug("tls handshake failed", slog.String("ip", ip), slog.String("error", err.Error()))
			_ = nc.Close()
			return
		}
		nc = tc
	default:
		if err := protocol.WriteHandshakeReply(nc, uint32(id)); err != nil {
			_ = nc.Close()
			return
		}
	}
	_ = nc.SetDeadline(time.Time{})

	c := newConn(id, nc, ip, s.codec, s.deps.Clock.Now(), s.logger)
	if !s.post(event{kind: evConnect, conn: c}) {
		_ = nc.Close()
	}
}

// Attach serves an already established stream, such as a websocket, that
// skips the handshake. The returned channel is closed when the connection
// is finished.
func (s *Server) Attach(nc net.Conn, ip string) <-chan struct{} {
	id := model.ConnID(s.nextID.Add(1))
	c := newConn(id, nc, ip, s.codec, s.deps.Clock.Now(), s.logger)
	if !s.throttle.allow(ip) || !s.post(event{kind: evConnect, conn: c}) {
		_ = nc.Close()
		close(c.done)
	}
	return c.done
}

// post hands an event to the reactor. It reports false once the reactor
// has stopped.
func (s *Server) post(ev event) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.inbox <- ev:
		return true
	case <-s.quit:
		return false
	}
}

// call runs fn on the reactor and waits for it to finish
func (s *Server) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !s.post(event{kind: evCall, fn: func() {
		fn()
		close(done)
	}}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Run is the reactor loop. It returns nil when ctx is cancelled or a
// shutdown completes, and ErrRestart after a restart command.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("server started",
		slog.String("session", s.deps.Session),
		slog.Bool("tls", s.tls != nil),
		slog.Bool("compress", s.cfg.Server.Compress),
	)
	t := s.startTimers()
	defer t.stop()

	for !s.stopping {
		select {
		case ev := <-s.inbox:
			s.handle(ev)
		case <-t.banSweep:
			s.sweepBans()
		case <-t.metrics:
			s.dumpMetrics()
		case <-t.dummies:
			s.churnDummies()
		case <-t.tournaments:
			s.refreshTournaments()
		case <-t.shutdownCheck:
			s.checkShutdown()
		case <-ctx.Done():
			s.logger.Info("server context cancelled")
			s.stopping = true
		}
	}

	s.teardown()
	if s.shutdown == shutdownRestart {
		return ErrRestart
	}
	return nil
}

func (s *Server) handle(ev event) {
	switch ev.kind {
	case evConnect:
		s.accept(ev.conn)
	case evMessage:
		if cur, ok := s.conns[ev.conn.id]; ok && cur == ev.conn && !cur.closed {
			s.dispatch(cur, ev.doc)
		}
	case evDisconnect:
		if cur, ok := s.conns[ev.conn.id]; ok && cur == ev.conn {
			s.disconnect(cur, false)
		}
	case evCall:
		ev.fn()
	}
}

// accept admits a connection that completed its handshake
func (s *Server) accept(c *conn) {
	go c.writeLoop()

	if s.shutdown != shutdownNone {
		c.Send(protocol.Error("The server is shutting down."))
		c.closeAfterFlush()
		return
	}
	if rec, ok := s.deps.Bans.GetBanInfo(c.ip, ""); ok {
		c.logger.Info("rejected banned address", slog.String("reason", rec.Reason))
		c.Send(protocol.Error(bannedText(rec)))
		c.closeAfterFlush()
		return
	}
	if limit := s.cfg.Server.MaxConnectionsPerIP; limit > 0 && s.perIP[c.ip] >= limit {
		c.logger.Info("too many connections from address", slog.Int("limit", limit))
		c.Send(protocol.Error("Too many connections from your IP."))
		c.closeAfterFlush()
		return
	}

	s.conns[c.id] = c
	s.perIP[c.ip]++
	go c.readLoop(s)
	c.Send(protocol.VersionQuery())
	c.logger.Debug("connection accepted")
}

// disconnect drops a connection and runs the full cleanup: game departure,
// registry removal and lobby delisting
func (s *Server) disconnect(c *conn, flush bool) {
	if _, ok := s.conns[c.id]; !ok {
		return
	}
	delete(s.conns, c.id)
	if s.perIP[c.ip]--; s.perIP[c.ip] <= 0 {
		delete(s.perIP, c.ip)
	}

	if flush {
		c.closeAfterFlush()
	} else {
		c.abort()
	}

	if c.state == stateLoggedIn {
		s.logout(c.id)
	}
	c.logger.Debug("connection closed", slog.Duration("duration", s.deps.Clock.Since(c.connectedAt)))
}

func (s *Server) logout(id model.ConnID) {
	p, ok := s.deps.Registry.Get(id)
	if !ok {
		return
	}
	if !p.InLobby() {
		if g, ok := s.deps.Games.Get(p.Game); ok && g.RemovePlayer(id) {
			s.closeGame(g.ID(), model.EndReasonEmpty)
		}
	}
	s.deps.Registry.Remove(id)
	s.deps.Lobby.Release(id)
	s.deps.Lobby.RemoveUser(p.Name)
	s.logger.Info("player logged out", slog.String("player", p.Name), slog.Uint64("conn", uint64(id)))
}

// closeGame closes a game and resynchronizes its remaining members with the
// lobby
func (s *Server) closeGame(id model.GameID, reason model.EndReason) {
	members, rec, err := s.deps.Games.CloseGame(id, reason)
	if err != nil {
		s.logger.Warn("close game failed", slog.Int("game", int(id)), slog.String("error", err.Error()))
		return
	}
	for _, m := range members {
		s.returnToLobby(m)
	}
	s.recent = append(s.recent, *rec)
	if len(s.recent) > recentGames {
		s.recent = s.recent[len(s.recent)-recentGames:]
	}
	s.checkShutdown()
}

// returnToLobby sends a player that left a game the current lobby and
// relists it
func (s *Server) returnToLobby(id model.ConnID) {
	s.deps.Lobby.SendSnapshot(id)
	s.refreshUser(id)
}

func (s *Server) teardown() {
	s.quitOnce.Do(func() { close(s.quit) })
	s.closeListeners()

	for _, g := range s.deps.Games.Games() {
		s.closeGame(g.ID(), model.EndReasonShutdown)
	}
	for _, c := range s.conns {
		c.closeAfterFlush()
	}
	// connections that raced the shutdown never reached the reactor
	for {
		select {
		case ev := <-s.inbox:
			if ev.kind == evConnect {
				go ev.conn.writeLoop()
				ev.conn.abort()
			}
			continue
		default:
		}
		break
	}
	s.logger.Info("server stopped",
		slog.Int("connections", len(s.conns)),
		slog.Duration("uptime", s.deps.Clock.Since(s.startedAt)),
	)
}

// closeListeners stops accepting new connections
func (s *Server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		_ = l.Close()
	}
	s.listeners = nil
}

func bannedText(rec *model.BanRecord) string {
	text := "You are banned."
	if rec.Reason != "" {
		text += " Reason: " + rec.Reason
	}
	if rec.Expires != nil {
		text += " Ban expires: " + rec.Expires.UTC().Format(time.RFC1123)
	}
	return text
}
