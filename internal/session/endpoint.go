/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package session wires one participant together: its relay connection,
// direct channels, replicated document and, while it is host, the game
// itself.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/plaguecourt/internal/channel"
	"github.com/Seednode/plaguecourt/internal/game"
	"github.com/Seednode/plaguecourt/internal/history"
	"github.com/Seednode/plaguecourt/internal/identity"
	"github.com/Seednode/plaguecourt/internal/relay"
	"github.com/Seednode/plaguecourt/internal/replica"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/sync/errgroup"
)

const (
	codeAttempts  = 8
	noteBuffer    = 256
	rejectGrace   = 250 * time.Millisecond
	retryInterval = 250 * time.Millisecond
)

var (
	ErrCodeRequired = errors.New("session code is required")
	ErrInvalidCode  = errors.New("invalid session code")
)

type Config struct {
	// RelayURL is the relay websocket, e.g. ws://localhost:8080/relay.
	RelayURL string
	// Code names the session to join. Hosts may leave it empty to get a
	// fresh one.
	Code     string
	Username string

	// Listen is where this endpoint accepts direct links.
	Listen string
	// Advertise lists hosts other endpoints should dial for Listen. When
	// empty, every local interface address is offered.
	Advertise []string

	Rules game.Rules
	// Rand drives role and task assignment while hosting. nil means a
	// random source.
	Rand    *rand.Rand
	Timeout time.Duration
	Period  time.Duration
	History *history.Store
	Logf    func(format string, args ...any)
}

// HostChanged is raised locally when failover settles on a new host.
type HostChanged struct {
	Host string `json:"host"`
}

func (HostChanged) MessageType() string { return "host-changed" }

// Endpoint is one participant in a session.
type Endpoint struct {
	cfg  Config
	self string

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	server  *http.Server
	relay   *relay.Client
	manager *channel.Manager
	replica *replica.Replicator[game.Document]
	loop    *game.Loop
	notes   chan replica.Message

	mu       sync.Mutex
	code     string
	game     *game.Game
	names    map[string]string
	private  *game.RoleAssigned
	last     game.Document
	rejected bool
	closed   bool
}

func newEndpoint(ctx context.Context, cfg Config) (*Endpoint, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = channel.DefaultTimeout
	}
	if cfg.Listen == "" {
		cfg.Listen = ":0"
	}
	if len(cfg.Rules.GameHours) == 0 {
		cfg.Rules = game.DefaultRules()
	}
	if cfg.Username == "" {
		cfg.Username = "player"
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen for links: %w", err)
	}

	port := ln.Addr().(*net.TCPAddr).Port

	var advertise []string
	for _, host := range cfg.Advertise {
		advertise = append(advertise, "ws://"+net.JoinHostPort(host, strconv.Itoa(port)))
	}
	if len(advertise) == 0 {
		advertise = channel.LocalCandidates("ws", port, "")
	}

	rc, err := relay.Dial(ctx, cfg.RelayURL)
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	e := &Endpoint{
		cfg:   cfg,
		self:  identity.NewPeerID(),
		relay: rc,
		loop:  game.NewLoop(),
		notes: make(chan replica.Message, noteBuffer),
		names: make(map[string]string),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	codec := replica.NewCodec()
	game.RegisterMessages(codec)

	e.manager = channel.NewManager(channel.Config{
		Self:      e.self,
		Signaler:  rc,
		Advertise: advertise,
		Timeout:   cfg.Timeout,
		OnOpen:    e.channelOpened,
		OnFailure: func(peer string, err error) {
			e.logf("SESSION: No channel to %s: %v", peer, err)
		},
		Logf: cfg.Logf,
	})

	e.replica = replica.New(replica.Config[game.Document]{
		Transport: e.manager,
		Codec:     codec,
		Period:    cfg.Period,
		OnMessage: e.received,
		Logf:      cfg.Logf,
	})

	mux := httprouter.New()
	e.manager.Register("", mux)

	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, gctx := errgroup.WithContext(e.ctx)
	e.group = group

	group.Go(func() error {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve links: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return e.loop.Run(gctx)
	})
	group.Go(func() error {
		return e.replica.Run(gctx)
	})
	group.Go(func() error {
		e.pumpRelay(gctx)
		return nil
	})

	return e, nil
}

// Host registers a new session and starts its game with this endpoint as
// the first player.
func Host(ctx context.Context, cfg Config) (*Endpoint, error) {
	e, err := newEndpoint(ctx, cfg)
	if err != nil {
		return nil, err
	}

	g := game.New(e.gameConfig())
	if err := g.Join(e.self, e.cfg.Username); err != nil {
		_ = e.Close()
		return nil, err
	}
	e.lead(g)

	code := strings.ToUpper(cfg.Code)
	taken := make(map[string]bool)
	for attempt := 1; ; attempt++ {
		if cfg.Code == "" {
			code = identity.UniqueSessionCode(func(c string) bool { return taken[c] })
		}

		err := e.relay.RegisterHost(ctx, code, e.self)
		if err == nil {
			break
		}
		taken[code] = true
		if !errors.Is(err, relay.ErrCodeCollision) || cfg.Code != "" || attempt >= codeAttempts {
			_ = e.Close()
			return nil, fmt.Errorf("register session: %w", err)
		}
	}

	e.mu.Lock()
	e.code = code
	e.mu.Unlock()

	e.logf("SESSION: Hosting session %s as %s", code, e.self)

	return e, nil
}

// Join registers with an existing session. Channels to the host open in
// the background; the first document follows shortly after.
func Join(ctx context.Context, cfg Config) (*Endpoint, error) {
	code := strings.ToUpper(strings.TrimSpace(cfg.Code))
	switch {
	case code == "":
		return nil, ErrCodeRequired
	case !identity.ValidSessionCode(code):
		return nil, fmt.Errorf("%w: %q", ErrInvalidCode, cfg.Code)
	}

	e, err := newEndpoint(ctx, cfg)
	if err != nil {
		return nil, err
	}

	host, err := e.relay.RegisterMember(ctx, code, e.self, e.cfg.Username)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("join session %s: %w", code, err)
	}

	e.mu.Lock()
	e.code = code
	e.mu.Unlock()

	e.replica.Follow(host)

	e.logf("SESSION: Joined session %s as %s, host is %s", code, e.self, host)

	return e, nil
}

func (e *Endpoint) logf(format string, args ...any) {
	if e.cfg.Logf != nil {
		e.cfg.Logf(format, args...)
	}
}

func (e *Endpoint) gameConfig() game.Config {
	return game.Config{
		Rules:     e.cfg.Rules,
		Host:      e.self,
		Rand:      e.cfg.Rand,
		Scheduler: e.loop,
		Notifier:  hostNotifier{e: e},
		Logf:      e.cfg.Logf,
	}
}

func (e *Endpoint) lead(g *game.Game) {
	e.mu.Lock()
	e.game = g
	e.mu.Unlock()

	e.replica.Lead(e.snapshot)
}

func (e *Endpoint) currentGame() *game.Game {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.game
}

// snapshot reads the canonical document through the loop. It must not be
// called from the loop itself.
func (e *Endpoint) snapshot() game.Document {
	if g := e.currentGame(); g != nil {
		var doc game.Document
		if err := e.loop.Do(e.ctx, func() { doc = g.Snapshot() }); err == nil {
			e.mu.Lock()
			e.last = doc.Clone()
			e.mu.Unlock()
			return doc
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.last.Clone()
}

func (e *Endpoint) broadcastSoon() {
	go func() {
		if err := e.replica.BroadcastNow(); err != nil && !errors.Is(err, replica.ErrNotHost) {
			e.logf("SESSION: Broadcast failed: %v", err)
		}
	}()
}

func (e *Endpoint) Self() string {
	return e.self
}

func (e *Endpoint) Code() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.code
}

func (e *Endpoint) IsHost() bool {
	return e.replica.IsHost()
}

// Document returns the host's canonical document on the host and the last
// received replica on members.
func (e *Endpoint) Document() (game.Document, bool) {
	if e.IsHost() {
		return e.snapshot(), true
	}
	return e.replica.Replica()
}

// Private returns the secret role information last sent to this endpoint.
func (e *Endpoint) Private() (game.RoleAssigned, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.private == nil {
		return game.RoleAssigned{}, false
	}
	private := *e.private
	private.Tasks = slices.Clone(private.Tasks)
	return private, true
}

// Notifications streams host notifications addressed to this endpoint,
// plus local HostChanged events. Slow readers miss messages.
func (e *Endpoint) Notifications() <-chan replica.Message {
	return e.notes
}

// Done is closed once the endpoint has been closed.
func (e *Endpoint) Done() <-chan struct{} {
	return e.ctx.Done()
}

// Act performs an action as this endpoint's player. The host applies it
// directly; members send it to the host and learn of rejections through
// an ActionRejected notification.
func (e *Endpoint) Act(ctx context.Context, action replica.Message) error {
	if !e.IsHost() {
		return e.replica.SendAction(action)
	}

	g := e.currentGame()

	var applyErr error
	if err := e.loop.Do(ctx, func() { applyErr = g.Apply(e.self, action) }); err != nil {
		return err
	}
	if applyErr != nil {
		return applyErr
	}

	e.broadcastSoon()
	return nil
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.closed
}

// Close leaves the session and stops every background task.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.manager.CloseAll()
	_ = e.relay.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = e.server.Shutdown(ctx)

	return e.group.Wait()
}

func (e *Endpoint) note(m replica.Message) {
	m = replica.Deref(m)

	e.mu.Lock()
	switch v := m.(type) {
	case game.RoleAssigned:
		v.Tasks = slices.Clone(v.Tasks)
		e.private = &v
	case game.TaskCompleted:
		if e.private != nil {
			for i := range e.private.Tasks {
				if e.private.Tasks[i].ID == v.TaskID {
					e.private.Tasks[i].Done = true
				}
			}
		}
	case game.RoundStarted:
		if e.private != nil {
			for i := range e.private.Tasks {
				e.private.Tasks[i].Done = false
			}
		}
	case game.JoinRejected:
		e.rejected = true
	case game.LobbyReset:
		e.private = nil
	}
	e.mu.Unlock()

	select {
	case e.notes <- m:
	default:
		e.logf("SESSION: Dropped %s notification", m.MessageType())
	}
}

func (e *Endpoint) pumpRelay(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-e.relay.Events():
			if !ok {
				e.logf("SESSION: Relay connection lost")
				return
			}
			e.handleRelay(msg)
		}
	}
}

func (e *Endpoint) handleRelay(msg relay.Message) {
	switch msg.Type {
	case relay.TypeNewPeer:
		e.mu.Lock()
		e.names[msg.PeerID] = msg.Username
		e.mu.Unlock()

		if _, err := e.manager.OpenAsInitiator(msg.PeerID); err != nil {
			e.logf("SESSION: Offer to %s failed: %v", msg.PeerID, err)
		}
	case relay.TypeSignal:
		if _, err := e.manager.AcceptIncoming(msg.From, msg.Payload); err != nil {
			e.logf("SESSION: %v", err)
		}
	case relay.TypePeerLeft:
		e.logf("SESSION: %s left the relay", msg.PeerID)
	case relay.TypeSessionEnded:
		e.logf("SESSION: Relay ended session %s", msg.Code)
	}
}

func (e *Endpoint) channelOpened(ch *channel.Channel) {
	ch.OnMessage(func(peer string, data []byte) {
		if err := e.replica.Deliver(peer, data); err != nil {
			e.logf("SESSION: Message from %s: %v", peer, err)
		}
	})
	ch.OnClose(func(peer string, err error) {
		e.channelClosed(ch, err)
	})

	if e.IsHost() {
		e.admit(ch.Peer())
	}
}

// admit adds a newly connected peer to the game, or turns it away.
func (e *Endpoint) admit(peer string) {
	e.mu.Lock()
	name := e.names[peer]
	e.mu.Unlock()

	g := e.currentGame()

	e.loop.Post(func() {
		if err := g.Join(peer, name); err != nil {
			e.logf("SESSION: Rejected %s: %v", peer, err)
			if err := e.replica.SendToPlayer(peer, game.JoinRejected{Reason: err.Error()}); err != nil {
				e.logf("SESSION: Rejection to %s: %v", peer, err)
			}
			time.AfterFunc(rejectGrace, func() { e.manager.Close(peer) })
			return
		}
		e.broadcastSoon()
	})
}

func (e *Endpoint) channelClosed(ch *channel.Channel, err error) {
	if e.isClosed() {
		return
	}

	peer := ch.Peer()
	if cur, ok := e.manager.Channel(peer); ok && cur != ch {
		return
	}

	e.logf("SESSION: Channel to %s closed: %v", peer, err)

	if e.IsHost() {
		g := e.currentGame()
		e.loop.Post(func() {
			if err := g.Leave(peer); err == nil {
				e.broadcastSoon()
			}
		})
		return
	}

	if peer != e.replica.HostPeer() {
		return
	}

	e.mu.Lock()
	rejected := e.rejected
	e.mu.Unlock()

	if !rejected {
		go e.failover(peer)
	}
}

// received handles decoded messages from the replicator: actions on the
// host, notifications on members.
func (e *Endpoint) received(from string, m replica.Message) {
	if !e.IsHost() {
		e.note(m)
		return
	}

	g := e.currentGame()
	e.loop.Post(func() {
		if err := g.Apply(from, m); err != nil {
			reject := game.ActionRejected{Action: m.MessageType(), Reason: err.Error()}
			if err := e.replica.SendToPlayer(from, reject); err != nil {
				e.logf("SESSION: Rejection to %s: %v", from, err)
			}
			return
		}
		e.broadcastSoon()
	})
}

// hostNotifier fans game output out to members and to the host's own
// notification stream.
type hostNotifier struct {
	e *Endpoint
}

func (n hostNotifier) Broadcast(m replica.Message) {
	if err := n.e.replica.Broadcast(m); err != nil {
		n.e.logf("SESSION: Broadcast %s: %v", m.MessageType(), err)
	}
	n.e.note(m)

	if ended, ok := m.(game.GameEnded); ok {
		n.e.record(ended)
	}
}

func (n hostNotifier) SendTo(peer string, m replica.Message) {
	if peer == n.e.self {
		n.e.note(m)
		return
	}
	if err := n.e.replica.SendToPlayer(peer, m); err != nil {
		n.e.logf("SESSION: Send %s to %s: %v", m.MessageType(), peer, err)
	}
}

// record stores a finished game. It runs on the loop, possibly before a
// restored game has been handed to lead, so it reads only the message.
func (e *Endpoint) record(ended game.GameEnded) {
	if e.cfg.History == nil {
		return
	}

	result := history.Result{
		Code:    e.Code(),
		Winner:  ended.Winner,
		Rounds:  ended.Round,
		Players: ended.Players,
		Reveal:  ended.Reveal,
		EndedAt: time.Now(),
	}

	go func() {
		if err := e.cfg.History.Record(e.ctx, result); err != nil {
			e.logf("SESSION: Recording game failed: %v", err)
		}
	}()
}
