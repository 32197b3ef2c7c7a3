// Package httpclient configures the HTTP client used to reach the tile server.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

type Options struct {
	// Timeout bounds a whole request. Zero leaves it to the caller's context.
	Timeout time.Duration
	// MaxConnsPerHost caps parallel connections; tile loads for one round
	// all go to the same host.
	MaxConnsPerHost int
}

// NewOutbound creates the outbound client for tileset and content requests.
// Compression is negotiated by the transport itself, so the stdlib gzip
// handling is switched off.
func NewOutbound(opts Options) *http.Client {
	perHost := opts.MaxConnsPerHost
	if perHost <= 0 {
		perHost = 32
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   perHost,
		MaxConnsPerHost:       perHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}
}
