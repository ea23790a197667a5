// Package statemirror maintains the best-effort, bit-exact on-disk mirrors
// spec §6 names (intercept.json, intercept_state.json) of state whose real,
// authoritative home is the in-memory Broker and Toggle (spec §9's
// message-passing design note, and the Open Question (a) resolution: these
// files are for operator audit/interop, never the live rendezvous path).
// Grounded on callbackstore's writeAtomic discipline (temp file + rename).
package statemirror

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marasi-sentinel/sentinel/internal/broker"
)

// FlowMirror is one intercept.json entry: the Flow snapshot plus its
// terminal outcome.
type FlowMirror struct {
	FlowID   string              `json:"flow_id"`
	Data     broker.FlowData     `json:"data"`
	Decision *broker.Decision    `json:"decision,omitempty"`
	Modified *broker.Modification `json:"modified,omitempty"`
	Created  time.Time           `json:"created"`
	Expired  bool                `json:"expired,omitempty"`
}

// Mirror writes intercept.json and intercept_state.json under dir.
type Mirror struct {
	mu         sync.Mutex
	flowsPath  string
	statePath  string
	flows      map[string]FlowMirror
}

// New constructs a Mirror rooted at dir, loading any existing intercept.json
// so restarts don't silently drop prior audit entries.
func New(dir string) (*Mirror, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
	}
	m := &Mirror{
		flowsPath: filepath.Join(dir, "intercept.json"),
		statePath: filepath.Join(dir, "intercept_state.json"),
		flows:     make(map[string]FlowMirror),
	}

	data, err := os.ReadFile(m.flowsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", m.flowsPath, err)
		}
	} else if len(data) > 0 {
		if err := json.Unmarshal(data, &m.flows); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", m.flowsPath, err)
		}
	}
	return m, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing temp file %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// RecordDecided mirrors a DECIDED flow into intercept.json, best-effort.
func (m *Mirror) RecordDecided(flow broker.Flow, decision broker.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows[flow.FlowID] = FlowMirror{
		FlowID:   flow.FlowID,
		Data:     flow.Data,
		Decision: &decision,
		Modified: decision.Modified,
		Created:  flow.CreatedAt,
	}
	return m.persistFlowsLocked()
}

// RecordExpired mirrors an EXPIRED flow into intercept.json, best-effort.
func (m *Mirror) RecordExpired(flow broker.Flow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows[flow.FlowID] = FlowMirror{
		FlowID:  flow.FlowID,
		Data:    flow.Data,
		Created: flow.CreatedAt,
		Expired: true,
	}
	return m.persistFlowsLocked()
}

func (m *Mirror) persistFlowsLocked() error {
	data, err := json.MarshalIndent(m.flows, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling intercept mirror: %w", err)
	}
	return writeAtomic(m.flowsPath, data)
}

type interceptState struct {
	Enabled bool `json:"enabled"`
}

// WriteToggleState synchronously writes intercept_state.json, called on
// every toggle change (spec §6: "written synchronously on every toggle
// change; it is small and infrequent").
func (m *Mirror) WriteToggleState(enabled bool) error {
	data, err := json.Marshal(interceptState{Enabled: enabled})
	if err != nil {
		return fmt.Errorf("marshalling intercept state: %w", err)
	}
	return writeAtomic(m.statePath, data)
}
