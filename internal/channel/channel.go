/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is the lifecycle of a Channel. It only moves forward.
type State int

const (
	Negotiating State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Negotiating:
		return "negotiating"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrChannelNotOpen     = errors.New("channel not open")
	ErrNegotiationTimeout = errors.New("negotiation timeout")
	ErrChannelClosed      = errors.New("channel closed")
	ErrUnknownPeer        = errors.New("unknown peer")
)

// MessageHandler receives every message read from a channel, in order.
type MessageHandler func(peer string, data []byte)

// CloseHandler fires exactly once per channel. err is nil after a local Close.
type CloseHandler func(peer string, err error)

const sendBuffer = 64

// Channel is one duplex link to a remote peer.
type Channel struct {
	peer  string
	token string

	mu         sync.Mutex
	state      State
	ws         *websocket.Conn
	onMessage  MessageHandler
	onClose    CloseHandler
	closeErr   error
	closeFired bool
	timer      *time.Timer

	send chan []byte
	done chan struct{}
}

func newChannel(peer, token string) *Channel {
	return &Channel{
		peer:  peer,
		token: token,
		state: Negotiating,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
	}
}

func (c *Channel) Peer() string {
	return c.peer
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Done is closed when the channel closes.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// OnMessage sets the handler for inbound messages.
func (c *Channel) OnMessage(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onMessage = h
}

// OnClose sets the close handler. If the channel already closed and no
// handler has fired yet, h runs immediately.
func (c *Channel) OnClose(h CloseHandler) {
	c.mu.Lock()
	if c.state != Closed || c.closeFired {
		c.onClose = h
		c.mu.Unlock()
		return
	}
	c.closeFired = true
	err := c.closeErr
	c.mu.Unlock()

	if h != nil {
		h(c.peer, err)
	}
}

// attach moves a negotiating channel to open. It returns false if the
// channel already opened or closed.
func (c *Channel) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Negotiating {
		return false
	}

	c.state = Open
	c.ws = ws
	if c.timer != nil {
		c.timer.Stop()
	}
	return true
}

func (c *Channel) enqueue(data []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Open {
		return false, ErrChannelNotOpen
	}

	select {
	case c.send <- data:
		return true, nil
	default:
		return false, nil
	}
}

// close moves the channel to closed and fires the close handler once.
func (c *Channel) close(err error) bool {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return false
	}

	c.state = Closed
	c.closeErr = err
	if c.timer != nil {
		c.timer.Stop()
	}
	close(c.done)
	if c.ws != nil {
		_ = c.ws.Close()
	}

	h := c.onClose
	if h != nil {
		c.closeFired = true
	}
	c.mu.Unlock()

	if h != nil {
		h(c.peer, err)
	}
	return true
}

func (c *Channel) readPump() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.close(ErrChannelClosed)
			return
		}

		c.mu.Lock()
		h := c.onMessage
		c.mu.Unlock()

		if h != nil {
			h(c.peer, data)
		}
	}
}

func (c *Channel) writePump() {
	for {
		select {
		case data := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close(ErrChannelClosed)
				return
			}
		case <-c.done:
			return
		}
	}
}
