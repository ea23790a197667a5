// Package requestlog appends the plain-text, one-line-per-request/response
// trail spec §6 names as requests.log. Unlike auditstore's structured rows
// this is a flat, append-only file meant for tailing, grounded on the
// original proxy's own logging calls: one line per completed request in the
// shape "{method} {url} -> intercept={bool} inject={bool}".
package requestlog

import (
	"fmt"
	"os"
	"sync"
)

// Logger appends lines to a single open file under a mutex, the same
// single-writer discipline statemirror.Mirror and callbackstore.Store use
// for their own on-disk state.
type Logger struct {
	mu sync.Mutex
	f  *os.File
}

// Open opens (creating if needed) the log file at path for appending.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening request log %s: %w", path, err)
	}
	return &Logger{f: f}, nil
}

// Log appends one line recording a completed request/response: its method,
// url, whether it was paused at the intercept gate, and whether its
// response was injected.
func (l *Logger) Log(method, url string, intercepted, injected bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.f, "%s %s -> intercept=%t inject=%t\n", method, url, intercepted, injected)
	return err
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
