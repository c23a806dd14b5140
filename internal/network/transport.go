// File: internal/network/transport.go
package network

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// Default upstream transport settings.
const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultKeepAlive             = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
	DefaultIdleConnTimeout       = 90 * time.Second

	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
)

// TransportConfig tunes the connections the proxy makes on the browser's
// behalf.
type TransportConfig struct {
	IgnoreTLSErrors bool

	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	IdleConnTimeout       time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	// MaxConnsPerHost of 0 means no limit.
	MaxConnsPerHost int

	ForceHTTP2 bool
}

// DefaultTransportConfig returns the settings used unless overridden.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		DialTimeout:           DefaultDialTimeout,
		KeepAlive:             DefaultKeepAlive,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceHTTP2:            true,
	}
}

func (c TransportConfig) dialer() *net.Dialer {
	return &net.Dialer{Timeout: c.DialTimeout, KeepAlive: c.KeepAlive}
}

// NewTransport builds the upstream transport. proxy picks the upstream per
// request and may be nil for direct connections. Bodies are passed through
// with their original encoding.
func NewTransport(cfg TransportConfig, proxy func(*http.Request) (*url.URL, error), logger *zap.Logger) *http.Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(256),
		InsecureSkipVerify: cfg.IgnoreTLSErrors,
	}

	t := &http.Transport{
		Proxy:                 proxy,
		DialContext:           cfg.dialer().DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
	}

	if cfg.ForceHTTP2 {
		if err := http2.ConfigureTransport(t); err != nil {
			logger.Warn("Failed to configure HTTP/2, falling back to HTTP/1.1.", zap.Error(err))
		}
	} else {
		tlsConfig.NextProtos = []string{"http/1.1"}
	}
	return t
}
