/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package relay_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/plaguecourt/internal/relay"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) (*relay.Server, string) {
	t.Helper()

	srv := relay.NewServer(relay.Config{})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *relay.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := relay.Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func nextEvent(t *testing.T, c *relay.Client) relay.Message {
	t.Helper()

	select {
	case msg, ok := <-c.Events():
		require.True(t, ok, "relay connection closed")
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for relay event")
		return relay.Message{}
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRegisterMemberNotifiesHost(t *testing.T) {
	srv, url := startRelay(t)
	ctx := testContext(t)

	host := dial(t, url)
	require.NoError(t, host.RegisterHost(ctx, "ABCDE", "host"))
	require.True(t, srv.Exists("ABCDE"))

	member := dial(t, url)
	hostID, err := member.RegisterMember(ctx, "ABCDE", "alice", "Alice")
	require.NoError(t, err)
	require.Equal(t, "host", hostID)

	msg := nextEvent(t, host)
	require.Equal(t, relay.TypeNewPeer, msg.Type)
	require.Equal(t, "alice", msg.PeerID)
	require.Equal(t, "Alice", msg.Username)

	info, ok := srv.Lookup("ABCDE")
	require.True(t, ok)
	require.Equal(t, 1, info.Members)
	require.Equal(t, "host", info.HostPeerID)
}

func TestRegisterHostCodeCollision(t *testing.T) {
	_, url := startRelay(t)
	ctx := testContext(t)

	first := dial(t, url)
	require.NoError(t, first.RegisterHost(ctx, "ABCDE", "one"))

	second := dial(t, url)
	err := second.RegisterHost(ctx, "ABCDE", "two")
	require.ErrorIs(t, err, relay.ErrCodeCollision)

	require.NoError(t, second.RegisterHost(ctx, "FGHJK", "two"))
}

func TestRegisterMemberUnknownCode(t *testing.T) {
	srv, url := startRelay(t)
	ctx := testContext(t)

	member := dial(t, url)
	_, err := member.RegisterMember(ctx, "ZZZZZ", "alice", "Alice")
	require.ErrorIs(t, err, relay.ErrSessionNotFound)
	require.Equal(t, "session not found", err.Error())
	require.False(t, srv.Exists("ZZZZZ"))
	require.Zero(t, srv.Count())
}

func TestRegisterMemberDuplicatePeer(t *testing.T) {
	_, url := startRelay(t)
	ctx := testContext(t)

	host := dial(t, url)
	require.NoError(t, host.RegisterHost(ctx, "ABCDE", "host"))

	a := dial(t, url)
	_, err := a.RegisterMember(ctx, "ABCDE", "alice", "Alice")
	require.NoError(t, err)

	b := dial(t, url)
	_, err = b.RegisterMember(ctx, "ABCDE", "alice", "Impostor")
	require.ErrorIs(t, err, relay.ErrAlreadyRegistered)
}

func TestSignalForwardedOpaquely(t *testing.T) {
	_, url := startRelay(t)
	ctx := testContext(t)

	host := dial(t, url)
	require.NoError(t, host.RegisterHost(ctx, "ABCDE", "host"))

	member := dial(t, url)
	_, err := member.RegisterMember(ctx, "ABCDE", "alice", "Alice")
	require.NoError(t, err)
	require.Equal(t, relay.TypeNewPeer, nextEvent(t, host).Type)

	require.NoError(t, host.Signal("nobody", json.RawMessage(`{"dropped":true}`)))

	payload := json.RawMessage(`{"kind":"offer","token":"t1","extra":[1,2,3]}`)
	require.NoError(t, host.Signal("alice", payload))

	msg := nextEvent(t, member)
	require.Equal(t, relay.TypeSignal, msg.Type)
	require.Equal(t, "host", msg.From)
	require.Equal(t, "alice", msg.To)
	require.JSONEq(t, string(payload), string(msg.Payload))
}

func TestHostDisconnectEndsSession(t *testing.T) {
	srv, url := startRelay(t)
	ctx := testContext(t)

	host := dial(t, url)
	require.NoError(t, host.RegisterHost(ctx, "ABCDE", "host"))

	member := dial(t, url)
	_, err := member.RegisterMember(ctx, "ABCDE", "alice", "Alice")
	require.NoError(t, err)

	require.NoError(t, host.Close())

	msg := nextEvent(t, member)
	require.Equal(t, relay.TypeSessionEnded, msg.Type)
	require.Equal(t, "ABCDE", msg.Code)
	require.Eventually(t, func() bool { return !srv.Exists("ABCDE") }, 5*time.Second, 10*time.Millisecond)

	// The same connection may take over the code as the new host.
	require.NoError(t, member.RegisterHost(ctx, "ABCDE", "alice"))
}

func TestMemberDisconnectNotifiesHost(t *testing.T) {
	srv, url := startRelay(t)
	ctx := testContext(t)

	host := dial(t, url)
	require.NoError(t, host.RegisterHost(ctx, "ABCDE", "host"))

	member := dial(t, url)
	_, err := member.RegisterMember(ctx, "ABCDE", "alice", "Alice")
	require.NoError(t, err)
	require.Equal(t, relay.TypeNewPeer, nextEvent(t, host).Type)

	require.NoError(t, member.Close())

	msg := nextEvent(t, host)
	require.Equal(t, relay.TypePeerLeft, msg.Type)
	require.Equal(t, "alice", msg.PeerID)

	info, ok := srv.Lookup("ABCDE")
	require.True(t, ok)
	require.Zero(t, info.Members)
}
