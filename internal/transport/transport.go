// Package transport builds the upstream http.RoundTripper the Proxy Engine
// hands to martian: a Chrome-fingerprinted TLS dialer (grounded on the
// teacher's transport.go), a waypoint-aware DialContext override, and a
// small RoundTripper wrapper that serves the CA certificate at a well-known
// URL so operators can fetch it through the proxy itself.
package transport

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	tls "github.com/refraction-networking/utls"
)

// upstreamTimeout bounds dialing an upstream and waiting for its response
// headers.
const upstreamTimeout = 15 * time.Second

// CertServeURLs are the exact URLs (with and without trailing slash) that
// this transport intercepts to serve the CA certificate, mirroring the
// teacher's "http://marasi.cert/" convention renamed to this project.
var CertServeURLs = []string{"http://sentinel.cert/", "http://sentinel.cert"}

// waypointContextKey carries a dial-time "host:port" override that
// DialContext and DialTLSContext use in place of the request's own address.
// Only ContextWithOverrideHost sets it; internal/proxyengine applies
// waypoints by rewriting the request's host in waypointModifier instead.
type waypointContextKey struct{}

// ContextWithOverrideHost attaches a dial-time destination override.
func ContextWithOverrideHost(ctx context.Context, hostPort string) context.Context {
	return context.WithValue(ctx, waypointContextKey{}, hostPort)
}

func overrideHostFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(waypointContextKey{}).(string)
	return v, ok
}

// roundTripper serves the CA certificate for CertServeURLs and otherwise
// delegates to the base transport.
type roundTripper struct {
	mu   sync.RWMutex
	cert *x509.Certificate
	base http.RoundTripper
}

// New builds the upstream RoundTripper: Chrome-fingerprinted TLS dialing
// via utls with ALPN forced to http/1.1 (so fingerprint-sensitive upstreams
// see a consistent browser-like handshake regardless of driver tooling),
// and waypoint-aware plain-TCP dialing for HTTP targets.
func New(cert *x509.Certificate) http.RoundTripper {
	base := &http.Transport{ResponseHeaderTimeout: upstreamTimeout}
	dialer := &net.Dialer{Timeout: upstreamTimeout}

	base.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if override, ok := overrideHostFromContext(ctx); ok && override != "" {
			addr = override
		}
		return dialer.DialContext(ctx, network, addr)
	}

	base.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if override, ok := overrideHostFromContext(ctx); ok && override != "" {
			addr = override
		}

		tcpConn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		sniHost, _, err := net.SplitHostPort(addr)
		if err != nil {
			sniHost = addr
		}

		uConn := tls.UClient(tcpConn, &tls.Config{ServerName: sniHost}, tls.HelloChrome_Auto)
		if err := uConn.BuildHandshakeState(); err != nil {
			tcpConn.Close()
			return nil, fmt.Errorf("building utls handshake state: %w", err)
		}

		found := false
		for _, ext := range uConn.Extensions {
			if alpn, ok := ext.(*tls.ALPNExtension); ok {
				alpn.AlpnProtocols = []string{"http/1.1"}
				found = true
				break
			}
		}
		if !found {
			tcpConn.Close()
			return nil, errors.New("transport: could not locate ALPN extension on client hello")
		}

		if err := uConn.HandshakeContext(ctx); err != nil {
			tcpConn.Close()
			return nil, fmt.Errorf("performing utls handshake: %w", err)
		}
		return uConn, nil
	}

	return &roundTripper{cert: cert, base: base}
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if slices.Contains(CertServeURLs, req.URL.String()) {
		rt.mu.RLock()
		cert := rt.cert
		rt.mu.RUnlock()

		body := cert.Raw
		resp := &http.Response{
			Status:        "200 OK",
			StatusCode:    http.StatusOK,
			Proto:         "HTTP/1.1",
			ProtoMajor:    1,
			ProtoMinor:    1,
			Request:       req,
			Header:        make(http.Header),
			Body:          io.NopCloser(bytes.NewReader(body)),
			ContentLength: int64(len(body)),
		}
		resp.Header.Set("Content-Type", "application/x-x509-ca-cert")
		resp.Header.Set("Content-Disposition", `attachment; filename="sentinel-ca.der"`)
		return resp, nil
	}

	return rt.base.RoundTrip(req)
}
