// Package proxyengine is the forward HTTP(S) proxy at the center of this
// system: for every transaction it decides whether to pass the request
// through, mark it for response injection, or hand it to an operator via
// the intercept broker, then rewrites or forwards accordingly. Grounded on
// the teacher's proxy.go (Proxy struct, New/Serve/Close, customRoundTripper)
// and modifiers.go/options.go for the modifier pipeline shape.
package proxyengine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/martian"

	"github.com/marasi-sentinel/sentinel/internal/broker"
	"github.com/marasi-sentinel/sentinel/internal/callbackstore"
	"github.com/marasi-sentinel/sentinel/internal/certauthority"
	"github.com/marasi-sentinel/sentinel/internal/metrics"
	"github.com/marasi-sentinel/sentinel/internal/protomux"
	"github.com/marasi-sentinel/sentinel/internal/requestlog"
	"github.com/marasi-sentinel/sentinel/internal/toggle"
	"github.com/marasi-sentinel/sentinel/internal/transport"
)

// Engine is the central coordinator: the martian proxy plus every
// collaborator a modifier needs (broker, callback store, toggle, metrics).
type Engine struct {
	martianProxy *martian.Proxy

	Addr string
	Port string

	Broker    *broker.Broker
	Callbacks *callbackstore.Store
	Toggle    toggle.Source
	Metrics   *metrics.Metrics
	Authority *certauthority.Authority

	CallbackBase string

	mu          sync.RWMutex
	bypassHosts map[string]struct{}
	waypoints   map[string]string

	auditInsert func(rec AuditRequestRecord)
	auditUpdate func(rec AuditResponseRecord)
	requestLog  *requestlog.Logger

	logger *slog.Logger
}

// Config carries the values New needs beyond what its collaborators own.
type Config struct {
	DashboardURL string
	CallbackBase string
}

// New builds an Engine wired to its collaborators. The host:port of
// cfg.DashboardURL and cfg.CallbackBase, plus their localhost/127.0.0.1
// alias, become bypass hosts so the proxy never intercepts or injects its
// own control-plane traffic.
func New(
	cfg Config,
	b *broker.Broker,
	callbacks *callbackstore.Store,
	tg toggle.Source,
	m *metrics.Metrics,
	authority *certauthority.Authority,
	logger *slog.Logger,
) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		martianProxy: martian.NewProxy(),
		Broker:       b,
		Callbacks:    callbacks,
		Toggle:       tg,
		Metrics:      m,
		Authority:    authority,
		CallbackBase: cfg.CallbackBase,
		bypassHosts:  make(map[string]struct{}),
		waypoints:    make(map[string]string),
		logger:       logger,
	}

	for _, raw := range []string{cfg.DashboardURL, cfg.CallbackBase} {
		if host, ok := hostPortFromURL(raw); ok {
			e.addBypassHost(host)
			e.addBypassHost(loopbackAlias(host))
		}
	}

	e.martianProxy.SetMITM(authority.MITM)
	e.installDefaultPipeline()

	return e, nil
}

func hostPortFromURL(raw string) (string, bool) {
	raw = strings.TrimPrefix(raw, "http://")
	raw = strings.TrimPrefix(raw, "https://")
	if idx := strings.IndexByte(raw, '/'); idx >= 0 {
		raw = raw[:idx]
	}
	if raw == "" {
		return "", false
	}
	return raw, true
}

// loopbackAlias returns the localhost/127.0.0.1 counterpart of hostPort so
// both spellings are treated as the same bypass target, per spec §4.1 rule 1.
func loopbackAlias(hostPort string) string {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return hostPort
	}
	switch host {
	case "localhost":
		return net.JoinHostPort("127.0.0.1", port)
	case "127.0.0.1":
		return net.JoinHostPort("localhost", port)
	default:
		return hostPort
	}
}

func (e *Engine) addBypassHost(hostPort string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bypassHosts[hostPort] = struct{}{}
}

func (e *Engine) isBypassHost(hostPort string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.bypassHosts[hostPort]
	return ok
}

// SetWaypoints replaces the override table consulted by waypointModifier.
func (e *Engine) SetWaypoints(waypoints map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waypoints = waypoints
}

func (e *Engine) waypointFor(hostPort string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	override, ok := e.waypoints[hostPort]
	return override, ok
}

// SetAuditHooks lets the caller (cmd/sentinel) wire the auditstore without
// this package importing database concerns directly.
func (e *Engine) SetAuditHooks(onInsert func(AuditRequestRecord), onUpdate func(AuditResponseRecord)) {
	e.auditInsert = onInsert
	e.auditUpdate = onUpdate
}

// SetRequestLog wires the plain-text requests.log appender (spec §6). Nil is
// valid and simply disables the line log.
func (e *Engine) SetRequestLog(l *requestlog.Logger) {
	e.requestLog = l
}

// Listen opens the TLS-sniffing listener used to serve both plain and MITM'd HTTPS traffic.
func (e *Engine) Listen(addr string) (net.Listener, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("splitting listen address %q: %w", addr, err)
	}
	rawListener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	e.Addr, e.Port = host, port
	return protomux.New(rawListener, e.Authority.TLS, e.logger), nil
}

// Serve blocks, accepting and proxying connections from listener.
func (e *Engine) Serve(ctx context.Context, listener net.Listener) error {
	e.martianProxy.SetRoundTripper(transport.New(e.Authority.Cert))
	go func() {
		<-ctx.Done()
		e.martianProxy.Close()
	}()
	return e.martianProxy.Serve(listener)
}

// Close tears down the martian proxy immediately.
func (e *Engine) Close() {
	e.martianProxy.Close()
}

// getHostPort returns a normalized host:port for req, defaulting the port
// from scheme/TLS when the Host header omits it.
func getHostPort(req *http.Request) string {
	hostPort := req.URL.Host
	if hostPort == "" {
		hostPort = req.Host
	}
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		host = hostPort
		if req.URL.Scheme == "https" || req.TLS != nil {
			port = "443"
		} else {
			port = "80"
		}
	}
	return net.JoinHostPort(host, port)
}
