/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package replica keeps every member's copy of the host's document current
// by periodic full-snapshot broadcast, and routes point-to-point messages
// between the host and its members.
package replica

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// TypeStateUpdate is the discriminant of document broadcasts.
const TypeStateUpdate = "state-update"

// DefaultPeriod is the broadcast cadence.
const DefaultPeriod = time.Second

var (
	ErrNoHost           = errors.New("no host channel")
	ErrNotHost          = errors.New("not the host")
	ErrUnexpectedSender = errors.New("message not from host")
)

// StateUpdate carries a full document snapshot.
type StateUpdate[D any] struct {
	Document D `json:"document"`
}

func (StateUpdate[D]) MessageType() string { return TypeStateUpdate }

// Transport is the subset of the channel manager the replicator needs.
type Transport interface {
	Send(peer string, data []byte) error
	Peers() []string
}

type Config[D any] struct {
	Transport Transport
	Codec     *Codec
	Period    time.Duration

	// OnUpdate runs on members after the replica has been replaced.
	OnUpdate func(doc D)
	// OnMessage receives every decoded non-snapshot message: host
	// notifications on members, player actions on the host.
	OnMessage func(from string, m Message)
	Logf      func(format string, args ...any)
}

// Replicator is generic over the replicated document type.
type Replicator[D any] struct {
	cfg Config[D]

	mu         sync.Mutex
	host       bool
	hostPeer   string
	snapshot   func() D
	replica    D
	hasReplica bool
}

func New[D any](cfg Config[D]) *Replicator[D] {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Codec == nil {
		cfg.Codec = NewCodec()
	}

	return &Replicator[D]{cfg: cfg}
}

func (r *Replicator[D]) logf(format string, args ...any) {
	if r.cfg.Logf != nil {
		r.cfg.Logf(format, args...)
	}
}

// Follow puts the replicator in member role, accepting documents from host.
func (r *Replicator[D]) Follow(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.host = false
	r.hostPeer = host
	r.snapshot = nil
}

// Lead puts the replicator in host role; snapshot supplies the canonical document.
func (r *Replicator[D]) Lead(snapshot func() D) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.host = true
	r.hostPeer = ""
	r.snapshot = snapshot
}

func (r *Replicator[D]) IsHost() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.host
}

// HostPeer is the peer a member follows.
func (r *Replicator[D]) HostPeer() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.hostPeer
}

// Replica returns the last document received from the host.
func (r *Replicator[D]) Replica() (D, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.replica, r.hasReplica
}

// Run broadcasts the document every period while in host role.
func (r *Replicator[D]) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if r.IsHost() {
				if err := r.BroadcastNow(); err != nil {
					r.logf("REPLICA: Broadcast failed: %v", err)
				}
			}
		}
	}
}

// BroadcastNow sends the current document to every open channel.
func (r *Replicator[D]) BroadcastNow() error {
	r.mu.Lock()
	snapshot := r.snapshot
	r.mu.Unlock()

	if snapshot == nil {
		return ErrNotHost
	}

	return r.Broadcast(StateUpdate[D]{Document: snapshot()})
}

// Broadcast sends m to every open channel. Closed channels are skipped.
func (r *Replicator[D]) Broadcast(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	for _, peer := range r.cfg.Transport.Peers() {
		if err := r.cfg.Transport.Send(peer, data); err != nil {
			r.logf("REPLICA: Skipped %s for %s: %v", m.MessageType(), peer, err)
		}
	}
	return nil
}

// SendToPlayer addresses a single channel.
func (r *Replicator[D]) SendToPlayer(peer string, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return r.cfg.Transport.Send(peer, data)
}

// SendAction sends m to the host. Members never message each other.
func (r *Replicator[D]) SendAction(m Message) error {
	r.mu.Lock()
	host, hostPeer := r.host, r.hostPeer
	r.mu.Unlock()

	if host {
		return ErrNotHost
	}
	if hostPeer == "" {
		return ErrNoHost
	}

	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err := r.cfg.Transport.Send(hostPeer, data); err != nil {
		return fmt.Errorf("%w: %w", ErrNoHost, err)
	}
	return nil
}

// Deliver handles one inbound message from peer. On members, snapshots
// replace the replica wholesale and only the followed host is heard.
func (r *Replicator[D]) Deliver(from string, data []byte) error {
	typ, err := TypeOf(data)
	if err != nil {
		return fmt.Errorf("message from %s: %w", from, err)
	}

	r.mu.Lock()
	host, hostPeer := r.host, r.hostPeer
	r.mu.Unlock()

	if !host && from != hostPeer {
		return ErrUnexpectedSender
	}

	if typ == TypeStateUpdate {
		if host {
			return nil
		}

		var update StateUpdate[D]
		if err := json.Unmarshal(data, &update); err != nil {
			return fmt.Errorf("decode %s: %w", TypeStateUpdate, err)
		}

		r.mu.Lock()
		r.replica = update.Document
		r.hasReplica = true
		r.mu.Unlock()

		if r.cfg.OnUpdate != nil {
			r.cfg.OnUpdate(update.Document)
		}
		return nil
	}

	m, err := r.cfg.Codec.Decode(data)
	if err != nil {
		return err
	}

	if r.cfg.OnMessage != nil {
		r.cfg.OnMessage(from, m)
	}
	return nil
}
