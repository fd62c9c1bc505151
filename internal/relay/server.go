/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package relay implements the rendezvous service that lets endpoints find a
// session by its code and exchange the metadata needed to open direct
// channels. The relay never inspects signal payloads.
package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/awesome-cap/hashmap"
	"github.com/gorilla/websocket"
)

const sendBuffer = 32

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Session is the relay-side record of one game session.
type Session struct {
	Code       string
	HostPeerID string
	CreatedAt  time.Time

	members    map[string]string // peerID -> username
	lastActive time.Time
}

// SessionInfo is the public view of a session returned by Lookup.
type SessionInfo struct {
	Code       string    `json:"code"`
	HostPeerID string    `json:"hostPeerId"`
	Members    int       `json:"members"`
	CreatedAt  time.Time `json:"createdAt"`
}

type conn struct {
	ws   *websocket.Conn
	send chan Message
	done chan struct{}
	once sync.Once

	// guarded by Server.mu
	code   string
	peerID string
	host   bool
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// connIndex maps "code/peerID" to the connection registered under it.
type connIndex struct {
	set func(key string, c *conn)
	get func(key string) (*conn, bool)
	del func(key string)
}

func newConnIndex() connIndex {
	m := hashmap.New()
	return connIndex{
		set: func(key string, c *conn) { m.Set(key, c) },
		get: func(key string) (*conn, bool) {
			v, ok := m.Get(key)
			if !ok {
				return nil, false
			}
			c, ok := v.(*conn)
			return c, ok
		},
		del: func(key string) { m.Del(key) },
	}
}

func indexKey(code, peerID string) string {
	return code + "/" + peerID
}

// Config controls a relay Server.
type Config struct {
	// IdleTimeout destroys sessions without relay traffic for this long. Zero disables reaping.
	IdleTimeout time.Duration
	Logf        func(format string, args ...any)
}

// Server is the signaling relay. It is an http.Handler that upgrades every
// request to a websocket.
type Server struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
	conns    connIndex
}

func NewServer(cfg Config) *Server {
	return &Server{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		conns:    newConnIndex(),
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logf != nil {
		s.cfg.Logf(format, args...)
	}
}

// Exists reports whether code names an active session.
func (s *Server) Exists(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[code]
	return ok
}

// Lookup returns public information about an active session.
func (s *Server) Lookup(code string) (SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[code]
	if !ok {
		return SessionInfo{}, false
	}
	return SessionInfo{
		Code:       sess.Code,
		HostPeerID: sess.HostPeerID,
		Members:    len(sess.members),
		CreatedAt:  sess.CreatedAt,
	}, true
}

// Count returns the number of active sessions.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("RELAY: upgrade error: %v", err)
		return
	}

	c := &conn{
		ws:   ws,
		send: make(chan Message, sendBuffer),
		done: make(chan struct{}),
	}

	go c.writePump()
	s.readPump(c)
}

func (s *Server) readPump(c *conn) {
	defer func() {
		s.drop(c)
		c.close()
	}()

	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case TypeRegisterHost:
			s.registerHost(c, msg)
		case TypeRegisterPeer:
			s.registerPeer(c, msg)
		case TypeSignal:
			s.relaySignal(c, msg)
		default:
			// ignore unknown types
		}
	}
}

func (c *conn) writePump() {
	defer c.close()

	for {
		select {
		case msg := <-c.send:
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// deliver queues msg without blocking. A connection that cannot keep up is closed.
func deliver(c *conn, msg Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.close()
	}
}

func (s *Server) registerHost(c *conn, msg Message) {
	if msg.Code == "" || msg.PeerID == "" {
		deliver(c, errorMessage(ReasonBadRequest))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.code != "" {
		deliver(c, errorMessage(ReasonAlreadyRegistered))
		return
	}

	if _, exists := s.sessions[msg.Code]; exists {
		deliver(c, errorMessage(ReasonCodeCollision))
		return
	}

	now := time.Now()
	s.sessions[msg.Code] = &Session{
		Code:       msg.Code,
		HostPeerID: msg.PeerID,
		CreatedAt:  now,
		members:    make(map[string]string),
		lastActive: now,
	}
	c.code, c.peerID, c.host = msg.Code, msg.PeerID, true
	s.conns.set(indexKey(msg.Code, msg.PeerID), c)

	s.logf("RELAY: Host %s registered session %s", msg.PeerID, msg.Code)

	deliver(c, Message{
		Type:       TypeRegistered,
		Code:       msg.Code,
		PeerID:     msg.PeerID,
		HostPeerID: msg.PeerID,
	})
}

func (s *Server) registerPeer(c *conn, msg Message) {
	if msg.Code == "" || msg.PeerID == "" {
		deliver(c, errorMessage(ReasonBadRequest))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.code != "" {
		deliver(c, errorMessage(ReasonAlreadyRegistered))
		return
	}

	sess, ok := s.sessions[msg.Code]
	if !ok {
		deliver(c, errorMessage(ReasonSessionNotFound))
		return
	}

	if _, dup := sess.members[msg.PeerID]; dup || sess.HostPeerID == msg.PeerID {
		deliver(c, errorMessage(ReasonAlreadyRegistered))
		return
	}

	sess.members[msg.PeerID] = msg.Username
	sess.lastActive = time.Now()
	c.code, c.peerID, c.host = msg.Code, msg.PeerID, false
	s.conns.set(indexKey(msg.Code, msg.PeerID), c)

	s.logf("RELAY: Peer %s (%q) joined session %s", msg.PeerID, msg.Username, msg.Code)

	deliver(c, Message{
		Type:       TypeRegistered,
		Code:       msg.Code,
		PeerID:     msg.PeerID,
		HostPeerID: sess.HostPeerID,
	})

	if host, ok := s.conns.get(indexKey(msg.Code, sess.HostPeerID)); ok {
		deliver(host, Message{
			Type:     TypeNewPeer,
			PeerID:   msg.PeerID,
			Username: msg.Username,
		})
	}
}

func (s *Server) relaySignal(c *conn, msg Message) {
	s.mu.Lock()
	code, from := c.code, c.peerID
	if sess, ok := s.sessions[code]; ok {
		sess.lastActive = time.Now()
	}
	s.mu.Unlock()

	if code == "" || msg.To == "" {
		return
	}

	target, ok := s.conns.get(indexKey(code, msg.To))
	if !ok {
		return
	}

	deliver(target, Message{
		Type:    TypeSignal,
		From:    from,
		To:      msg.To,
		Payload: msg.Payload,
	})
}

// drop removes a closed connection's registration. A host leaving ends its session.
func (s *Server) drop(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.code == "" {
		return
	}

	code, peerID, host := c.code, c.peerID, c.host
	c.code, c.peerID, c.host = "", "", false

	sess, ok := s.sessions[code]
	if !ok {
		return
	}

	if host && sess.HostPeerID == peerID {
		s.endLocked(sess)
		s.logf("RELAY: Host %s left, ended session %s", peerID, code)
		return
	}

	delete(sess.members, peerID)
	s.conns.del(indexKey(code, peerID))

	s.logf("RELAY: Peer %s left session %s", peerID, code)

	if hostConn, ok := s.conns.get(indexKey(code, sess.HostPeerID)); ok {
		deliver(hostConn, Message{Type: TypePeerLeft, PeerID: peerID})
	}
}

// endLocked destroys sess and tells every remaining connection. Member
// connections stay open so they can register with a successor.
func (s *Server) endLocked(sess *Session) {
	delete(s.sessions, sess.Code)

	ids := make([]string, 0, len(sess.members)+1)
	ids = append(ids, sess.HostPeerID)
	for id := range sess.members {
		ids = append(ids, id)
	}

	for _, id := range ids {
		key := indexKey(sess.Code, id)
		c, ok := s.conns.get(key)
		s.conns.del(key)
		if !ok {
			continue
		}
		if c.code == sess.Code {
			c.code, c.peerID, c.host = "", "", false
		}
		deliver(c, Message{Type: TypeSessionEnded, Code: sess.Code})
	}
}

// Reap destroys idle sessions until ctx is done.
func (s *Server) Reap(ctx context.Context) {
	if s.cfg.IdleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(s.cfg.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapIdle(time.Now().Add(-s.cfg.IdleTimeout))
		}
	}
}

func (s *Server) reapIdle(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reaped := 0
	for _, sess := range s.sessions {
		if sess.lastActive.Before(cutoff) {
			s.endLocked(sess)
			s.logf("RELAY: Reaped idle session %s", sess.Code)
			reaped++
		}
	}
	return reaped
}
