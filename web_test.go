/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/plaguecourt/internal/relay"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg *Config) (*relay.Server, *httptest.Server) {
	t.Helper()

	relaySrv := relay.NewServer(relay.Config{})
	errs := make(chan error, 64)

	ts := httptest.NewServer(newRouter(cfg, relaySrv, errs))
	t.Cleanup(ts.Close)

	return relaySrv, ts
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, body
}

func TestStaticRoutes(t *testing.T) {
	_, ts := newTestServer(t, &Config{})

	resp, body := get(t, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Ok\n", string(body))

	resp, body = get(t, ts.URL+"/version")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "plaguecourt v"+releaseVersion+"\n", string(body))
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, body = get(t, ts.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "0 active session(s)")

	resp, _ = get(t, ts.URL+"/debug/pprof/heap")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPrefixAndProfile(t *testing.T) {
	_, ts := newTestServer(t, &Config{prefix: "/game", profile: true})

	resp, _ := get(t, ts.URL+"/game/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/game/debug/pprof/cmdline")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/healthz")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionRoutes(t *testing.T) {
	relaySrv, ts := newTestServer(t, &Config{})

	resp, _ := get(t, ts.URL+"/session/0000")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/session/ABCDE")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := relay.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/relay")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.RegisterHost(ctx, "ABCDE", "host-peer"))
	require.True(t, relaySrv.Exists("ABCDE"))

	resp, body := get(t, ts.URL+"/session/abcde")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var info relay.SessionInfo
	require.NoError(t, json.Unmarshal(body, &info))
	require.Equal(t, "ABCDE", info.Code)
	require.Equal(t, "host-peer", info.HostPeerID)
	require.Zero(t, info.Members)

	resp, body = get(t, ts.URL+"/session/ABCDE/qr")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.True(t, bytes.HasPrefix(body, []byte("\x89PNG")))

	_, body = get(t, ts.URL+"/")
	require.Contains(t, string(body), "1 active session(s)")
}

func TestRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5000"
	require.Equal(t, "10.0.0.1:5000", realIP(r))

	r.Header.Set("X-Real-IP", "192.0.2.7")
	require.Equal(t, "192.0.2.7:5000", realIP(r))

	r.Header.Set("CF-Connecting-IP", "2001:db8::1")
	require.Equal(t, "[2001:db8::1]:5000", realIP(r))
}

func TestHumanReadableSize(t *testing.T) {
	require.Equal(t, "999 B", humanReadableSize(999))
	require.Equal(t, "1.5 kB", humanReadableSize(1500))
	require.Equal(t, "2.0 MB", humanReadableSize(2_000_000))
}
