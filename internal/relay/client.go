/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

const eventBuffer = 64

// Client is an endpoint's connection to the relay.
type Client struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	reqMu   sync.Mutex

	replies chan Message
	events  chan Message
	done    chan struct{}
	once    sync.Once
}

// Dial connects to the relay websocket at url.
func Dial(ctx context.Context, url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &Client{
		ws:      ws,
		replies: make(chan Message, 1),
		events:  make(chan Message, eventBuffer),
		done:    make(chan struct{}),
	}

	go c.readPump()

	return c, nil
}

// Events delivers pushed messages: signal, new-peer, peer-left and session-ended.
// It is closed when the relay connection drops.
func (c *Client) Events() <-chan Message {
	return c.events
}

// Done is closed once the relay connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return c.ws.Close()
}

func (c *Client) readPump() {
	defer func() {
		_ = c.Close()
		close(c.events)
	}()

	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case TypeRegistered, TypeError:
			select {
			case c.replies <- msg:
			default:
				// unsolicited reply
			}
		default:
			select {
			case c.events <- msg:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Client) write(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	return c.ws.WriteJSON(msg)
}

// request sends msg and waits for the relay's registered or error reply.
func (c *Client) request(ctx context.Context, msg Message) (Message, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	select {
	case <-c.replies:
	default:
	}

	if err := c.write(msg); err != nil {
		return Message{}, err
	}

	select {
	case reply := <-c.replies:
		if reply.Type == TypeError {
			return reply, reasonError(reply.Reason)
		}
		return reply, nil
	case <-c.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// RegisterHost creates a session under code with this endpoint as host-of-record.
func (c *Client) RegisterHost(ctx context.Context, code, peerID string) error {
	_, err := c.request(ctx, Message{
		Type:   TypeRegisterHost,
		Code:   code,
		PeerID: peerID,
	})
	return err
}

// RegisterMember joins the session named by code and returns its host's peer ID.
func (c *Client) RegisterMember(ctx context.Context, code, peerID, username string) (string, error) {
	reply, err := c.request(ctx, Message{
		Type:     TypeRegisterPeer,
		Code:     code,
		PeerID:   peerID,
		Username: username,
	})
	if err != nil {
		return "", err
	}
	return reply.HostPeerID, nil
}

// Signal forwards payload to peer to. Delivery is not confirmed.
func (c *Client) Signal(to string, payload json.RawMessage) error {
	return c.write(Message{
		Type:    TypeSignal,
		To:      to,
		Payload: payload,
	})
}
