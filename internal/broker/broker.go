// Package broker implements the Intercept Broker: an in-memory, process-local
// rendezvous between proxy workers (submitters) and UI operators (consumers).
//
// The rendezvous itself is message-passing, not polling: each pending Flow
// owns a buffered channel that a decide() call sends on exactly once. This is
// the same shape as the teacher's CheckpointRequestModifier /
// Intercepted{Channel} pattern, generalized so the broker — not the proxy
// modifier — owns the channel's lifecycle and the pending-flow table.
package broker

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DecisionKind enumerates the only valid verdicts a Decision may carry.
type DecisionKind string

const (
	Forward DecisionKind = "forward"
	Drop    DecisionKind = "drop"
	Modify  DecisionKind = "modify"
)

var (
	// ErrUnknownFlow is returned when decide/claim targets a flow id that
	// is not currently pending.
	ErrUnknownFlow = errors.New("broker: unknown or already-resolved flow")
	// ErrInvalidDecision is returned when a Decision's kind is not one of
	// forward, drop, modify.
	ErrInvalidDecision = errors.New("broker: decision kind must be forward, drop, or modify")
	// ErrInvalidModification is returned when a modify Decision's Modified
	// fields are malformed — most commonly an unparsable url. Checked
	// synchronously at decide time (spec §9 open question (a)) so a bad
	// modification is rejected with a 400 at decision-submit time, not
	// discovered later and silently dropped deep in the proxy's modifier
	// pipeline.
	ErrInvalidModification = errors.New("broker: modification has an invalid field")
)

// Modification carries the optional field overrides attached to a Decision
// of kind Modify. An empty string or nil map means "leave unchanged". A nil
// Body leaves the body unchanged; a non-nil Body replaces it, so a pointer to
// an empty string empties it. A JSON "body": null decodes to a nil Body, the
// same as an absent body field, so it leaves the body unchanged rather than
// emptying it.
type Modification struct {
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    *string           `json:"body"`
}

// Validate rejects a Modification whose fields could not be safely applied
// to a live *http.Request: an unparsable or non-absolute url, a method that
// isn't a valid HTTP token, or header names/values carrying CR/LF (header
// injection).
func (m Modification) Validate() error {
	if m.URL != "" {
		parsed, err := url.Parse(m.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return ErrInvalidModification
		}
	}
	if m.Method != "" && !isValidMethodToken(m.Method) {
		return ErrInvalidModification
	}
	for k, v := range m.Headers {
		if containsCRLF(k) || containsCRLF(v) {
			return ErrInvalidModification
		}
	}
	return nil
}

func containsCRLF(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}

// isValidMethodToken checks s against RFC 7230's token grammar, the same
// character class net/http itself requires of a request method.
func isValidMethodToken(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case strings.ContainsRune("!#$%&'*+-.^_`|~", r):
		default:
			return false
		}
	}
	return true
}

// Decision is the operator's verdict on a Flow.
type Decision struct {
	Kind     DecisionKind  `json:"decision"`
	Modified *Modification `json:"modified,omitempty"`
}

// Validate checks the invariants in spec §4.2 and §9 open question (a):
// decide fails with InvalidDecision if the kind isn't one of the three
// allowed values, and a modify Decision's Modified fields must themselves
// validate, so a bad modification is rejected at decision-submit time
// rather than discovered later, deep in the proxy's modifier pipeline.
func (d Decision) Validate() error {
	switch d.Kind {
	case Forward, Drop, Modify:
	default:
		return ErrInvalidDecision
	}
	if d.Modified != nil {
		if err := d.Modified.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FlowData is the request-side snapshot captured at the intercept gate.
type FlowData struct {
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	Path        string            `json:"path"`
	HTTPVersion string            `json:"http_version"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	ClientAddr  string            `json:"client_addr"`
}

// Flow is a single paused HTTP request awaiting an operator decision.
type Flow struct {
	FlowID    string    `json:"flow_id"`
	Data      FlowData  `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

type pendingFlow struct {
	flow     Flow
	resultCh chan Decision
	decided  bool
	decision Decision
}

// Broker is the Intercept Broker. The zero value is not usable; use New.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pendingFlow

	onDecided func(Flow, Decision)
	onExpired func(Flow)
}

// New constructs an empty Broker.
func New() *Broker {
	return &Broker{pending: make(map[string]*pendingFlow)}
}

// SetMirrorHooks registers best-effort callbacks fired after a Flow
// transitions to DECIDED or EXPIRED, letting a caller maintain an on-disk
// mirror (spec §6: intercept.json) without the broker itself depending on
// any persistence concern. Hooks run synchronously on the caller's goroutine,
// just after the broker's lock is released, never while it is held.
func (b *Broker) SetMirrorHooks(onDecided func(Flow, Decision), onExpired func(Flow)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDecided = onDecided
	b.onExpired = onExpired
}

// Waiter is returned by Submit and lets the submitter block for a Decision
// with a bounded deadline, satisfying spec §4.1's one-shot, event-driven
// rendezvous (replacing the source's 500ms polling loop per design notes).
type Waiter struct {
	broker *Broker
	flowID string
	ch     chan Decision
}

// Submit registers the Flow as pending. Re-submitting the same flow id
// before a decision is recorded is a no-op: the returned Waiter observes the
// same pending flow's eventual decision (idempotent per spec §4.2).
func (b *Broker) Submit(flow Flow) *Waiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.pending[flow.FlowID]; ok {
		return &Waiter{broker: b, flowID: flow.FlowID, ch: existing.resultCh}
	}

	pf := &pendingFlow{
		flow:     flow,
		resultCh: make(chan Decision, 1),
	}
	b.pending[flow.FlowID] = pf
	return &Waiter{broker: b, flowID: flow.FlowID, ch: pf.resultCh}
}

// Wait blocks until a Decision arrives or ctx is done. On timeout it returns
// a synthesized Forward decision and false, so the caller fails open without
// special-casing the timeout path (spec §4.1: "treat the flow as forward").
func (w *Waiter) Wait(ctx context.Context) (Decision, bool) {
	select {
	case decision := <-w.ch:
		// Taking the decision completes the flow: drop it from the pending
		// table exactly as Claim does, so it is neither delivered again nor
		// left behind.
		w.broker.Claim(w.flowID)
		return decision, true
	case <-ctx.Done():
		w.broker.expire(w.flowID)
		return Decision{Kind: Forward}, false
	}
}

// expire removes a flow that timed out on the submitter side, per spec §4.2
// state machine: PENDING -> EXPIRED via submitter timeout.
func (b *Broker) expire(flowID string) {
	b.mu.Lock()
	pf, ok := b.pending[flowID]
	if !ok || pf.decided {
		b.mu.Unlock()
		return
	}
	delete(b.pending, flowID)
	hook := b.onExpired
	flow := pf.flow
	b.mu.Unlock()

	if hook != nil {
		hook(flow)
	}
}

// ListPending returns all flows currently pending (no decision), newest
// first by CreatedAt, as a consistent snapshot copied under the broker lock
// (writers wait only for that copy and sort).
func (b *Broker) ListPending() []Flow {
	b.mu.Lock()
	defer b.mu.Unlock()

	flows := make([]Flow, 0, len(b.pending))
	for _, pf := range b.pending {
		if !pf.decided {
			flows = append(flows, pf.flow)
		}
	}
	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.After(flows[j].CreatedAt)
	})
	return flows
}

// Decide records a Decision on a pending Flow, transitioning it to
// deliverable. It is linearizable with Claim: a successful Decide is
// observable by any subsequent Claim for the same flow id.
func (b *Broker) Decide(flowID string, decision Decision) error {
	if err := decision.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	pf, ok := b.pending[flowID]
	if !ok || pf.decided {
		b.mu.Unlock()
		return ErrUnknownFlow
	}

	pf.decided = true
	pf.decision = decision
	pf.resultCh <- decision
	hook := b.onDecided
	flow := pf.flow
	b.mu.Unlock()

	if hook != nil {
		hook(flow, decision)
	}
	return nil
}

// Claim is invoked by the submitter (PE) to retrieve a recorded Decision.
// If the Flow has a Decision, it is atomically removed from the pending
// table and returned — exactly-once delivery, satisfying spec §8 invariant 2.
// If no Decision yet, ok is false and the flow stays pending.
func (b *Broker) Claim(flowID string) (Decision, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pf, ok := b.pending[flowID]
	if !ok {
		return Decision{}, false
	}
	if !pf.decided {
		return Decision{}, false
	}
	delete(b.pending, flowID)
	return pf.decision, true
}

// Purge reclaims flows older than age that were never decided, bounding
// broker memory (spec §4.2, optional background reclamation). Reclaimed
// flows fire onExpired just like a submitter-side Wait timeout, so a flow
// nobody ever called Wait on still gets mirrored as EXPIRED.
func (b *Broker) Purge(age time.Duration) int {
	cutoff := time.Now().Add(-age)

	b.mu.Lock()
	var expired []Flow
	for id, pf := range b.pending {
		if !pf.decided && pf.flow.CreatedAt.Before(cutoff) {
			delete(b.pending, id)
			expired = append(expired, pf.flow)
		}
	}
	hook := b.onExpired
	b.mu.Unlock()

	if hook != nil {
		for _, flow := range expired {
			hook(flow)
		}
	}
	return len(expired)
}

// NewFlowID allocates an opaque, unguessable flow identifier (UUIDv7, so IDs
// sort roughly by creation time) per spec §9's opacity requirement.
func NewFlowID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
