// Package protomux provides a single listener that serves both plain HTTP
// proxy connections and TLS-wrapped (CONNECT-tunneled) connections, peeking
// the first bytes of each accepted connection to decide which. Adapted from
// the teacher's listener/listener.go MarasiListener/ProtocolMuxListener,
// generalized into one resilient listener instead of two composed types.
package protomux

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

// connWrapper re-exposes a net.Conn whose initial bytes have already been
// peeked into a buffered reader, so those bytes aren't lost to the eventual
// consumer (martian, or tls.Server).
type connWrapper struct {
	net.Conn
	io.Reader
}

func (c *connWrapper) Read(b []byte) (int, error) {
	return c.Reader.Read(b)
}

// Listener wraps a net.Listener: it peeks each accepted connection for a TLS
// client-hello, wraps it in tls.Server when found and passes it through
// unmodified otherwise, and treats anything but net.ErrClosed from the
// underlying Accept as recoverable so one bad connection never kills the
// server loop.
type Listener struct {
	net.Listener
	tlsConfig *tls.Config
	logger    *slog.Logger
}

// New wraps listener with protocol sniffing using tlsConfig for the TLS
// branch. If logger is nil, slog.Default() is used.
func New(listener net.Listener, tlsConfig *tls.Config, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{Listener: listener, tlsConfig: tlsConfig, logger: logger}
}

// Accept waits for and returns the next connection, sniffing its protocol
// and recovering from transient accept errors.
func (l *Listener) Accept() (net.Conn, error) {
	for {
		conn, err := l.acceptOne()
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, err
		}
		l.logger.Warn("recoverable listener error, connection rejected", "error", err)
	}
}

func (l *Listener) acceptOne() (net.Conn, error) {
	raw, err := l.Listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("accepting connection: %w", err)
	}

	buffered := bufio.NewReader(raw)

	if err := raw.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		raw.Close()
		return nil, fmt.Errorf("setting read deadline for peek: %w", err)
	}

	peeked, err := buffered.Peek(5)
	if err != nil && err != bufio.ErrBufferFull && err != io.EOF {
		raw.Close()
		return nil, fmt.Errorf("peeking initial bytes: %w", err)
	}

	if err := raw.SetReadDeadline(time.Time{}); err != nil {
		raw.Close()
		return nil, fmt.Errorf("clearing read deadline after peek: %w", err)
	}

	isTLS := len(peeked) >= 2 && peeked[0] == 0x16 && peeked[1] == 0x03
	if !isTLS {
		return &connWrapper{Conn: raw, Reader: buffered}, nil
	}

	tlsConn := tls.Server(&connWrapper{Conn: raw, Reader: buffered}, l.tlsConfig)

	if err := raw.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("setting read deadline for handshake: %w", err)
	}
	if err := tlsConn.Handshake(); err != nil {
		raw.SetReadDeadline(time.Time{})
		tlsConn.Close()
		return nil, fmt.Errorf("performing tls handshake: %w", err)
	}
	if err := raw.SetReadDeadline(time.Time{}); err != nil {
		tlsConn.Close()
		return nil, fmt.Errorf("clearing read deadline after handshake: %w", err)
	}

	return tlsConn, nil
}
