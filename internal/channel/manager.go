/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package channel opens and tracks one direct duplex channel per remote
// peer. Connection metadata is exchanged through a Signaler (the relay);
// the channel itself is a websocket dialed straight to the other endpoint.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/plaguecourt/internal/identity"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// PeerHeader carries the dialing endpoint's peer ID on a link request.
const PeerHeader = "X-Peer-Id"

// DefaultTimeout bounds a negotiation.
const DefaultTimeout = 20 * time.Second

// Metadata kinds.
const (
	KindOffer     = "offer"
	KindCandidate = "candidate"
)

// Metadata is one negotiation fragment. The relay forwards it untouched.
type Metadata struct {
	Kind  string `json:"kind"`
	Token string `json:"token"`
	Addr  string `json:"addr,omitempty"`
}

// Signaler forwards negotiation metadata to a remote peer.
type Signaler interface {
	Signal(to string, payload json.RawMessage) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Config struct {
	// Self is the local peer ID, sent when dialing a link.
	Self     string
	Signaler Signaler
	// Advertise lists base URLs (ws://host:port[/prefix]) where this endpoint's
	// link handler is reachable. They are offered as candidates in order.
	Advertise []string
	Timeout   time.Duration
	Dialer    *websocket.Dialer

	// OnOpen runs before the first message is read, so handlers registered
	// there see every message.
	OnOpen func(ch *Channel)
	// OnFailure reports negotiations that did not complete.
	OnFailure func(peer string, err error)
	Logf      func(format string, args ...any)
}

// Manager owns the local endpoint's channels.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	channels map[string]*Channel
	tokens   map[string]*Channel
}

func NewManager(cfg Config) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	return &Manager{
		cfg:      cfg,
		channels: make(map[string]*Channel),
		tokens:   make(map[string]*Channel),
	}
}

func (m *Manager) logf(format string, args ...any) {
	if m.cfg.Logf != nil {
		m.cfg.Logf(format, args...)
	}
}

// Register mounts the link handler on mux under prefix.
func (m *Manager) Register(prefix string, mux *httprouter.Router) {
	mux.GET(prefix+"/peer/:token", m.serveLink)
}

// SetAdvertise replaces the candidate base URLs used by later negotiations.
func (m *Manager) SetAdvertise(addrs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg.Advertise = append([]string(nil), addrs...)
}

// OpenAsInitiator starts a negotiation with peer. Any previous channel to
// peer is closed first; closed channels are never reused.
func (m *Manager) OpenAsInitiator(peer string) (*Channel, error) {
	ch := newChannel(peer, identity.NewPeerID())

	m.mu.Lock()
	old := m.channels[peer]
	m.channels[peer] = ch
	m.tokens[ch.token] = ch
	advertise := append([]string(nil), m.cfg.Advertise...)
	m.mu.Unlock()

	if old != nil {
		old.close(nil)
	}

	m.armTimeout(ch)

	m.logf("CHANNEL: Negotiating with %s as initiator", peer)

	if err := m.signal(peer, Metadata{Kind: KindOffer, Token: ch.token}); err != nil {
		m.fail(ch, err)
		return ch, err
	}

	go func() {
		for _, addr := range advertise {
			if ch.State() != Negotiating {
				return
			}
			if err := m.signal(peer, Metadata{Kind: KindCandidate, Token: ch.token, Addr: addr}); err != nil {
				m.fail(ch, err)
				return
			}
		}
	}()

	return ch, nil
}

// AcceptIncoming consumes one metadata fragment forwarded from peer. An
// offer creates a new negotiating channel; candidates are dialed until one
// connects. Fragments for stale or already open channels are ignored.
func (m *Manager) AcceptIncoming(peer string, payload json.RawMessage) (*Channel, error) {
	var md Metadata
	if err := json.Unmarshal(payload, &md); err != nil {
		return nil, fmt.Errorf("decode metadata from %s: %w", peer, err)
	}

	switch md.Kind {
	case KindOffer:
		m.mu.Lock()
		old := m.channels[peer]
		if old != nil && old.token == md.Token {
			m.mu.Unlock()
			return old, nil
		}
		ch := newChannel(peer, md.Token)
		m.channels[peer] = ch
		m.mu.Unlock()

		if old != nil {
			old.close(nil)
		}

		m.armTimeout(ch)
		m.logf("CHANNEL: Accepted offer from %s", peer)

		return ch, nil

	case KindCandidate:
		m.mu.Lock()
		ch := m.channels[peer]
		m.mu.Unlock()

		if ch == nil || ch.token != md.Token || ch.State() != Negotiating {
			return ch, nil
		}

		go m.dial(ch, md.Addr)

		return ch, nil

	default:
		return nil, fmt.Errorf("unknown metadata kind %q from %s", md.Kind, peer)
	}
}

func (m *Manager) signal(peer string, md Metadata) error {
	payload, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return m.cfg.Signaler.Signal(peer, payload)
}

func (m *Manager) armTimeout(ch *Channel) {
	t := time.AfterFunc(m.cfg.Timeout, func() {
		if ch.State() == Negotiating {
			m.fail(ch, ErrNegotiationTimeout)
		}
	})

	ch.mu.Lock()
	ch.timer = t
	ch.mu.Unlock()
}

func (m *Manager) fail(ch *Channel, err error) {
	if !ch.close(err) {
		return
	}
	m.forget(ch)

	m.logf("CHANNEL: Negotiation with %s failed: %v", ch.peer, err)

	if m.cfg.OnFailure != nil {
		m.cfg.OnFailure(ch.peer, err)
	}
}

func (m *Manager) forget(ch *Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.channels[ch.peer] == ch {
		delete(m.channels, ch.peer)
	}
	delete(m.tokens, ch.token)
}

func (m *Manager) dial(ch *Channel, addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()

	header := http.Header{}
	header.Set(PeerHeader, m.cfg.Self)

	url := strings.TrimSuffix(addr, "/") + "/peer/" + ch.token

	ws, _, err := m.cfg.Dialer.DialContext(ctx, url, header)
	if err != nil {
		m.logf("CHANNEL: Candidate %s for %s failed: %v", addr, ch.peer, err)
		return
	}

	if !m.open(ch, ws) {
		_ = ws.Close()
	}
}

func (m *Manager) serveLink(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	token := ps.ByName("token")

	m.mu.Lock()
	ch := m.tokens[token]
	m.mu.Unlock()

	if ch == nil || ch.State() != Negotiating {
		http.Error(w, "unknown link", http.StatusNotFound)
		return
	}
	if r.Header.Get(PeerHeader) != ch.peer {
		http.Error(w, "peer mismatch", http.StatusForbidden)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logf("CHANNEL: upgrade error: %v", err)
		return
	}

	if !m.open(ch, ws) {
		_ = ws.Close()
	}
}

func (m *Manager) open(ch *Channel, ws *websocket.Conn) bool {
	if !ch.attach(ws) {
		return false
	}

	m.mu.Lock()
	delete(m.tokens, ch.token)
	m.mu.Unlock()

	m.logf("CHANNEL: Channel to %s open", ch.peer)

	if m.cfg.OnOpen != nil {
		m.cfg.OnOpen(ch)
	}

	go ch.writePump()
	go func() {
		ch.readPump()
		m.forget(ch)
	}()

	return true
}

// Channel returns the current channel for peer, if any.
func (m *Manager) Channel(peer string) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[peer]
	return ch, ok
}

// State reports the state of the current channel for peer.
func (m *Manager) State(peer string) (State, bool) {
	ch, ok := m.Channel(peer)
	if !ok {
		return Closed, false
	}
	return ch.State(), true
}

// Send queues data on peer's channel. It never blocks; when the channel's
// buffer is full the message is dropped.
func (m *Manager) Send(peer string, data []byte) error {
	ch, ok := m.Channel(peer)
	if !ok {
		return ErrChannelNotOpen
	}

	queued, err := ch.enqueue(data)
	if err != nil {
		return err
	}
	if !queued {
		m.logf("CHANNEL: Dropped message to %s, buffer full", peer)
	}
	return nil
}

func (m *Manager) OnMessage(peer string, h MessageHandler) error {
	ch, ok := m.Channel(peer)
	if !ok {
		return ErrUnknownPeer
	}
	ch.OnMessage(h)
	return nil
}

func (m *Manager) OnClose(peer string, h CloseHandler) error {
	ch, ok := m.Channel(peer)
	if !ok {
		return ErrUnknownPeer
	}
	ch.OnClose(h)
	return nil
}

// Peers returns the peers with open channels, sorted.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	chans := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.mu.Unlock()

	peers := make([]string, 0, len(chans))
	for _, ch := range chans {
		if ch.State() == Open {
			peers = append(peers, ch.peer)
		}
	}
	sort.Strings(peers)
	return peers
}

// Close tears down peer's channel.
func (m *Manager) Close(peer string) {
	ch, ok := m.Channel(peer)
	if !ok {
		return
	}
	m.forget(ch)
	ch.close(nil)
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	chans := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.channels = make(map[string]*Channel)
	m.tokens = make(map[string]*Channel)
	m.mu.Unlock()

	for _, ch := range chans {
		ch.close(nil)
	}
}
