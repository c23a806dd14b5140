// internal/network/proxy_test.go
package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/ghostwire/internal/clock"
	"github.com/xkilldash9x/ghostwire/internal/config"
	"github.com/xkilldash9x/ghostwire/internal/governor"
)

// -- Test Helpers --

type fakeRotation struct {
	mu        sync.Mutex
	proxies   []*url.URL
	agents    []string
	next      int
	nextUA    int
	markedBad []string
}

func (f *fakeRotation) NextProxy() (*url.URL, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.proxies) == 0 {
		return nil, false
	}
	u := f.proxies[f.next%len(f.proxies)]
	f.next++
	return u, true
}

func (f *fakeRotation) NextUserAgent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.agents) == 0 {
		return ""
	}
	ua := f.agents[f.nextUA%len(f.agents)]
	f.nextUA++
	return ua
}

func (f *fakeRotation) MarkBad(u *url.URL) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedBad = append(f.markedBad, u.String())
}

func (f *fakeRotation) bad() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.markedBad...)
}

// namedUpstream acts as an HTTP forward proxy that answers every request
// itself with its name.
func namedUpstream(t *testing.T, name string) *url.URL {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s %s", name, r.Header.Get("User-Agent"))
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return u
}

func deadUpstream(t *testing.T) *url.URL {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return &url.URL{Scheme: "http", Host: addr}
}

func startProxy(t *testing.T, cfg config.RotationConfig, rotation Rotation) *http.Client {
	t.Helper()
	rp := NewRotatingProxy(cfg, rotation, zaptest.NewLogger(t))
	srv := httptest.NewServer(rp)
	t.Cleanup(srv.Close)

	proxyURL, err := url.Parse(srv.URL)
	require.NoError(t, err)
	tr := &http.Transport{
		Proxy:           http.ProxyURL(proxyURL),
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	t.Cleanup(tr.CloseIdleConnections)
	return &http.Client{Transport: tr, Timeout: 10 * time.Second}
}

func get(t *testing.T, client *http.Client, target string) (int, string) {
	t.Helper()
	resp, err := client.Get(target)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

// -- Test Cases --

func TestRotatingProxy_Direct(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "direct")
	}))
	defer target.Close()

	client := startProxy(t, config.RotationConfig{}, &fakeRotation{})
	status, body := get(t, client, target.URL)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "direct", body)
}

func TestRotatingProxy_RoundRobinUpstreams(t *testing.T) {
	rotation := &fakeRotation{proxies: []*url.URL{namedUpstream(t, "a"), namedUpstream(t, "b")}}
	client := startProxy(t, config.RotationConfig{}, rotation)

	var seen []string
	for i := 0; i < 4; i++ {
		status, body := get(t, client, "http://example.test/page")
		require.Equal(t, http.StatusOK, status)
		seen = append(seen, body[:1])
	}
	assert.Equal(t, []string{"a", "b", "a", "b"}, seen)
}

func TestRotatingProxy_RewritesUserAgent(t *testing.T) {
	rotation := &fakeRotation{
		proxies: []*url.URL{namedUpstream(t, "a")},
		agents:  []string{"agent-1", "agent-2"},
	}

	t.Run("Enabled", func(t *testing.T) {
		client := startProxy(t, config.RotationConfig{RewriteUserAgent: true}, rotation)
		_, first := get(t, client, "http://example.test/")
		_, second := get(t, client, "http://example.test/")
		assert.Equal(t, "a agent-1", first)
		assert.Equal(t, "a agent-2", second)
	})

	t.Run("Disabled", func(t *testing.T) {
		client := startProxy(t, config.RotationConfig{}, rotation)
		_, body := get(t, client, "http://example.test/")
		assert.NotContains(t, body, "agent-")
	})
}

func TestRotatingProxy_FailedUpstreamIsMarkedBad(t *testing.T) {
	dead := deadUpstream(t)
	rotation := &fakeRotation{proxies: []*url.URL{dead, namedUpstream(t, "ok")}}
	client := startProxy(t, config.RotationConfig{}, rotation)

	status, _ := get(t, client, "http://example.test/")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, []string{dead.String()}, rotation.bad())

	status, body := get(t, client, "http://example.test/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "ok")
}

func TestRotatingProxy_WithGovernorRotator(t *testing.T) {
	dead := deadUpstream(t)
	healthy := namedUpstream(t, "healthy")
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	rotator, err := governor.NewRotator(config.RotationConfig{
		Proxies:       []string{dead.String(), healthy.String()},
		ProxyCooldown: time.Minute,
	}, fake, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	client := startProxy(t, config.RotationConfig{}, rotator)

	status, _ := get(t, client, "http://example.test/")
	require.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, 1, rotator.Healthy())

	for i := 0; i < 3; i++ {
		status, body := get(t, client, "http://example.test/")
		assert.Equal(t, http.StatusOK, status)
		assert.Contains(t, body, "healthy", "the failed upstream must be skipped while cooling down")
	}

	fake.Advance(time.Minute)
	assert.Equal(t, 2, rotator.Healthy())
}

func TestRotatingProxy_ConnectTunnel(t *testing.T) {
	target := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "secure")
	}))
	defer target.Close()

	t.Run("Direct", func(t *testing.T) {
		client := startProxy(t, config.RotationConfig{}, &fakeRotation{})
		status, body := get(t, client, target.URL)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "secure", body)
	})

	t.Run("ThroughUpstream", func(t *testing.T) {
		var tunnels atomic.Int32
		upstream := goproxy.NewProxyHttpServer()
		upstream.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
			tunnels.Add(1)
			return goproxy.OkConnect, host
		}))
		upstreamSrv := httptest.NewServer(upstream)
		defer upstreamSrv.Close()
		upstreamURL, err := url.Parse(upstreamSrv.URL)
		require.NoError(t, err)

		client := startProxy(t, config.RotationConfig{}, &fakeRotation{proxies: []*url.URL{upstreamURL}})
		status, body := get(t, client, target.URL)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "secure", body)
		assert.Equal(t, int32(1), tunnels.Load())
	})
}

func TestRotatingProxy_Lifecycle(t *testing.T) {
	rp := NewRotatingProxy(config.RotationConfig{}, &fakeRotation{}, zaptest.NewLogger(t))

	assert.Empty(t, rp.Addr())
	assert.Error(t, rp.Serve(context.Background()), "serving before Listen must fail")

	require.NoError(t, rp.Listen("127.0.0.1:0"))
	assert.Error(t, rp.Listen("127.0.0.1:0"), "listening twice must fail")
	addr := rp.Addr()
	assert.Regexp(t, `^http://127\.0\.0\.1:\d+$`, addr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rp.Serve(ctx) }()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "served")
	}))
	defer target.Close()

	proxyURL, err := url.Parse(addr)
	require.NoError(t, err)
	tr := &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	defer tr.CloseIdleConnections()
	client := &http.Client{Transport: tr, Timeout: 10 * time.Second}

	require.Eventually(t, func() bool {
		resp, err := client.Get(target.URL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	tr.CloseIdleConnections()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("proxy did not shut down")
	}
	assert.GreaterOrEqual(t, rp.Stats().Requests, int64(1))
	assert.Empty(t, rp.Addr())
}
