package toggle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// CachedProbe reads `/ui/intercept/status` over HTTP, the way the Proxy
// Engine does in the original implementation's split-process architecture:
// cached for 1s to avoid hammering the control plane, with a 1.5s request
// deadline. Supplemented from original_source/core/proxy.py's
// `_intercept_enabled_globally`: on a failed refresh the last good value is
// served rather than any fixed default, so a transient control-plane outage
// never flips interception off mid-run.
type CachedProbe struct {
	statusURL string
	client    *http.Client

	mu       sync.Mutex
	lastSeen time.Time
	lastVal  bool
	hasValue bool
}

// NewCachedProbe builds a probe against the given `/ui/intercept/status` URL.
func NewCachedProbe(statusURL string) *CachedProbe {
	return &CachedProbe{
		statusURL: statusURL,
		client:    &http.Client{Timeout: 1500 * time.Millisecond},
	}
}

type statusResponse struct {
	Enabled bool `json:"enabled"`
}

// Get satisfies the same single-method shape *Toggle exposes, so a Proxy
// Engine wired against a remote control plane (PE and the control API in
// separate processes) can use a CachedProbe wherever an in-process *Toggle
// would otherwise be used.
func (p *CachedProbe) Get() bool {
	return p.Enabled(context.Background())
}

// Enabled returns whether interception is currently requested, refreshing
// from the control plane at most once per second.
func (p *CachedProbe) Enabled(ctx context.Context) bool {
	p.mu.Lock()
	if p.hasValue && time.Since(p.lastSeen) < time.Second {
		val := p.lastVal
		p.mu.Unlock()
		return val
	}
	p.mu.Unlock()

	fresh, err := p.fetch(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		// Stale-on-error: keep serving the last known-good value.
		return p.lastVal
	}
	p.lastVal = fresh
	p.lastSeen = time.Now()
	p.hasValue = true
	return fresh
}

func (p *CachedProbe) fetch(ctx context.Context) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.statusURL, nil)
	if err != nil {
		return false, fmt.Errorf("building status probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probing intercept status: %w", err)
	}
	defer resp.Body.Close()

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("decoding intercept status: %w", err)
	}
	return status.Enabled, nil
}
