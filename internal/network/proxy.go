// internal/network/proxy.go
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/xkilldash9x/ghostwire/internal/config"
	"github.com/xkilldash9x/ghostwire/internal/governor"
)

// Rotation is the part of the governor's rotator the proxy needs.
type Rotation interface {
	NextProxy() (*url.URL, bool)
	NextUserAgent() string
	MarkBad(proxy *url.URL)
}

var _ Rotation = (*governor.Rotator)(nil)

type upstreamKey struct{}

// Stats counts proxied requests.
type Stats struct {
	Requests int64
	Failures int64
}

// RotatingProxy is a local forward proxy the browser points at. Each request
// leaves through the next upstream from the rotation pool; an upstream that
// fails to connect is put on cooldown. Without upstreams it forwards directly.
type RotatingProxy struct {
	proxy     *goproxy.ProxyHttpServer
	transport *http.Transport
	rotation  Rotation
	dialer    *net.Dialer
	rewriteUA bool
	logger    *zap.Logger

	requests atomic.Int64
	failures atomic.Int64

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

// ProxyOption customises a RotatingProxy.
type ProxyOption func(*TransportConfig)

// WithTransportConfig replaces the upstream transport settings.
func WithTransportConfig(tc TransportConfig) ProxyOption {
	return func(c *TransportConfig) { *c = tc }
}

// NewRotatingProxy builds the proxy. It does not listen until Listen.
func NewRotatingProxy(cfg config.RotationConfig, rotation Rotation, logger *zap.Logger, opts ...ProxyOption) *RotatingProxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	tc := DefaultTransportConfig()
	for _, opt := range opts {
		opt(&tc)
	}
	rp := &RotatingProxy{
		proxy:     goproxy.NewProxyHttpServer(),
		rotation:  rotation,
		dialer:    tc.dialer(),
		rewriteUA: cfg.RewriteUserAgent,
		logger:    logger.Named("rotating_proxy"),
	}

	rp.transport = NewTransport(tc, upstreamFromContext, rp.logger)
	rp.proxy.Tr = rp.transport
	rp.proxy.ConnectDialWithReq = rp.dialConnect

	rp.proxy.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		return goproxy.OkConnect, host
	}))
	rp.proxy.OnRequest().DoFunc(rp.handleRequest)
	rp.proxy.OnResponse().DoFunc(rp.handleResponse)
	return rp
}

func upstreamFromContext(req *http.Request) (*url.URL, error) {
	u, _ := req.Context().Value(upstreamKey{}).(*url.URL)
	return u, nil
}

// handleRequest binds the request to an upstream and optionally rewrites its
// User-Agent.
func (rp *RotatingProxy) handleRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	rp.requests.Add(1)

	if rp.rewriteUA {
		if ua := rp.rotation.NextUserAgent(); ua != "" {
			r.Header.Set("User-Agent", ua)
		}
	}

	upstream, ok := rp.rotation.NextProxy()
	if !ok {
		return r, nil
	}
	ctx.UserData = upstream
	return r.WithContext(context.WithValue(r.Context(), upstreamKey{}, upstream)), nil
}

// handleResponse turns an upstream failure into a gateway error and cools the
// upstream down.
func (rp *RotatingProxy) handleResponse(r *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if r != nil {
		return r
	}
	rp.failures.Add(1)

	upstream, _ := ctx.UserData.(*url.URL)
	if upstream != nil {
		rp.rotation.MarkBad(upstream)
	}

	msg := "unknown error"
	if ctx.Error != nil {
		msg = ctx.Error.Error()
	}
	rp.logger.Warn("Upstream request failed.",
		zap.String("url", requestURL(ctx)),
		zap.String("upstream", redacted(upstream)),
		zap.String("error", msg))

	status := http.StatusBadGateway
	var netErr net.Error
	if errors.As(ctx.Error, &netErr) && netErr.Timeout() {
		status = http.StatusGatewayTimeout
	}
	return goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, status, "proxy error: upstream request failed: "+msg)
}

// dialConnect opens CONNECT tunnels, chaining through an upstream when one is
// configured.
func (rp *RotatingProxy) dialConnect(req *http.Request, network, addr string) (net.Conn, error) {
	rp.requests.Add(1)

	upstream, ok := rp.rotation.NextProxy()
	if !ok {
		return rp.dialer.DialContext(req.Context(), network, addr)
	}

	dial := rp.proxy.NewConnectDialToProxy(upstream.String())
	if dial == nil {
		return nil, fmt.Errorf("unsupported upstream proxy scheme %q", upstream.Scheme)
	}
	conn, err := dial(network, addr)
	if err != nil {
		rp.failures.Add(1)
		rp.rotation.MarkBad(upstream)
		rp.logger.Warn("Upstream tunnel failed.",
			zap.String("addr", addr),
			zap.String("upstream", upstream.Redacted()),
			zap.Error(err))
		return nil, err
	}
	return conn, nil
}

// ServeHTTP lets the proxy be mounted on any server.
func (rp *RotatingProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rp.proxy.ServeHTTP(w, r)
}

// Listen binds addr. Use "127.0.0.1:0" for an ephemeral port.
func (rp *RotatingProxy) Listen(addr string) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.listener != nil {
		return errors.New("proxy is already listening")
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}
	rp.listener = l
	return nil
}

// Addr returns the bound address as a proxy URL, or "" before Listen.
func (rp *RotatingProxy) Addr() string {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.listener == nil {
		return ""
	}
	return "http://" + rp.listener.Addr().String()
}

// Serve handles connections until ctx is cancelled, then shuts down
// gracefully. Listen must have been called.
func (rp *RotatingProxy) Serve(ctx context.Context) error {
	rp.mu.Lock()
	if rp.listener == nil {
		rp.mu.Unlock()
		return errors.New("proxy is not listening")
	}
	if rp.server != nil {
		rp.mu.Unlock()
		return errors.New("proxy is already serving")
	}
	server := &http.Server{
		Handler:           rp.proxy,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          zap.NewStdLog(rp.logger.Named("http_server")),
	}
	rp.server = server
	l := rp.listener
	rp.mu.Unlock()

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		shutdownErr <- server.Shutdown(shutdownCtx)
	}()

	rp.logger.Info("Rotating proxy listening.", zap.String("address", l.Addr().String()))
	err := server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		err = <-shutdownErr
	}
	rp.transport.CloseIdleConnections()

	rp.mu.Lock()
	rp.server = nil
	rp.listener = nil
	rp.mu.Unlock()

	if err != nil {
		rp.logger.Error("Rotating proxy stopped with an error.", zap.Error(err))
		return fmt.Errorf("rotating proxy failed: %w", err)
	}
	rp.logger.Info("Rotating proxy stopped.", zap.Int64("requests", rp.requests.Load()), zap.Int64("failures", rp.failures.Load()))
	return nil
}

// Stats returns request counters.
func (rp *RotatingProxy) Stats() Stats {
	return Stats{Requests: rp.requests.Load(), Failures: rp.failures.Load()}
}

func requestURL(ctx *goproxy.ProxyCtx) string {
	if ctx != nil && ctx.Req != nil && ctx.Req.URL != nil {
		return ctx.Req.URL.String()
	}
	return "unknown"
}

func redacted(u *url.URL) string {
	if u == nil {
		return "direct"
	}
	return u.Redacted()
}
