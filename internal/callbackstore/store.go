// Package callbackstore implements the Callback Store (CS): an append-only
// log of beacon hits keyed by injection id, plus the Injection index, bit-
// exact persisted to callbacks.json and injected.json per spec §6.
//
// Durability follows the teacher's single-writer discipline (WriteToDB /
// WriteLog serialize all mutation through one path) translated to a mutex
// since CS has no worker-pool analog to model it on: every mutating call
// holds the store lock for its whole duration, then atomically renames a
// temp file over the target so concurrent readers never see a torn write.
package callbackstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrAlreadyRegistered is returned by RegisterInjection when the id already
// has an Injection record (spec §4.3: "error if id already present").
var ErrAlreadyRegistered = errors.New("callbackstore: injection id already registered")

// CallbackHit is one recorded hit against the beacon endpoint.
type CallbackHit struct {
	Time         time.Time         `json:"time"`
	RemoteAddr   string            `json:"remote_addr"`
	Method       string            `json:"method"`
	Args         map[string]string `json:"args"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         json.RawMessage   `json:"body,omitempty"`
	InjectionID  string            `json:"injection_id,omitempty"`
}

type callbackEntry struct {
	Time       time.Time         `json:"time"`
	RemoteAddr string            `json:"remote_addr"`
	Args       map[string]string `json:"args"`
}

// Injection is the origin-request fingerprint plus delivery status for one
// injection id.
type Injection struct {
	Time       time.Time       `json:"time"`
	Method     string          `json:"method"`
	URL        string          `json:"url"`
	ClientIP   string          `json:"client_ip"`
	UserAgent  string          `json:"user_agent"`
	Injected   bool            `json:"injected"`
	InjectedAt *time.Time      `json:"injected_at,omitempty"`
	Callbacks  []callbackEntry `json:"callbacks,omitempty"`
}

// Store is the Callback Store. Use New to construct it.
type Store struct {
	mu             sync.Mutex
	callbacksPath  string
	injectedPath   string
	hits           []CallbackHit
	injections     map[string]*Injection
}

// New loads (or initializes) a Store backed by callbacks.json and
// injected.json under dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state dir %s: %w", dir, err)
	}

	s := &Store{
		callbacksPath: filepath.Join(dir, "callbacks.json"),
		injectedPath:  filepath.Join(dir, "injected.json"),
		injections:    make(map[string]*Injection),
	}

	if err := s.loadCallbacks(); err != nil {
		return nil, err
	}
	if err := s.loadInjections(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadCallbacks() error {
	data, err := os.ReadFile(s.callbacksPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", s.callbacksPath, err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.hits)
}

func (s *Store) loadInjections() error {
	data, err := os.ReadFile(s.injectedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", s.injectedPath, err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.injections)
}

// writeAtomic writes data to path via a temp file + rename so readers never
// observe a partially-written file (spec §4.3: "writers append atomically").
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}

func (s *Store) persistCallbacksLocked() error {
	data, err := json.MarshalIndent(s.hits, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling callbacks: %w", err)
	}
	return writeAtomic(s.callbacksPath, data)
}

func (s *Store) persistInjectionsLocked() error {
	data, err := json.MarshalIndent(s.injections, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling injections: %w", err)
	}
	return writeAtomic(s.injectedPath, data)
}

// RegisterInjection inserts a new Injection record, erroring if id is
// already present (spec §4.3).
func (s *Store) RegisterInjection(id string, meta Injection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.injections[id]; ok {
		return ErrAlreadyRegistered
	}
	copied := meta
	s.injections[id] = &copied
	return s.persistInjectionsLocked()
}

// MarkInjected sets injected=true and injected_at=when. No-op if id unknown.
func (s *Store) MarkInjected(id string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inj, ok := s.injections[id]
	if !ok {
		return nil
	}
	inj.Injected = true
	inj.InjectedAt = &when
	return s.persistInjectionsLocked()
}

// RecordHit appends a CallbackHit in arrival order. If hit.InjectionID is
// known, it additionally appends a {time, remote_addr, args} entry to that
// Injection's callback list. A hit referencing an unknown injection id is
// still recorded in CS (spec §3 invariant).
func (s *Store) RecordHit(hit CallbackHit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hit.Time.IsZero() {
		hit.Time = time.Now()
	}
	s.hits = append(s.hits, hit)

	if hit.InjectionID != "" {
		if inj, ok := s.injections[hit.InjectionID]; ok {
			inj.Callbacks = append(inj.Callbacks, callbackEntry{
				Time:       hit.Time,
				RemoteAddr: hit.RemoteAddr,
				Args:       hit.Args,
			})
			if err := s.persistInjectionsLocked(); err != nil {
				return err
			}
		}
	}

	return s.persistCallbacksLocked()
}

// ListHits returns a snapshot of all recorded hits in arrival order.
func (s *Store) ListHits() []CallbackHit {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CallbackHit, len(s.hits))
	copy(out, s.hits)
	return out
}

// ClearHits empties the callback log (but not the injection index).
func (s *Store) ClearHits() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hits = nil
	return s.persistCallbacksLocked()
}

// Injection returns a copy of the Injection record for id, if any.
func (s *Store) Injection(id string) (Injection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inj, ok := s.injections[id]
	if !ok {
		return Injection{}, false
	}
	return *inj, true
}
