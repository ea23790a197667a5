package broker

import (
	"context"
	"testing"
	"time"
)

func newFlow(t *testing.T, id string) Flow {
	t.Helper()
	return Flow{
		FlowID:    id,
		Data:      FlowData{Method: "GET", URL: "http://example.com/"},
		CreatedAt: time.Now(),
	}
}

func TestSubmitListPendingClaim(t *testing.T) {
	b := New()
	flow := newFlow(t, "flow-1")

	waiter := b.Submit(flow)

	pending := b.ListPending()
	if len(pending) != 1 || pending[0].FlowID != "flow-1" {
		t.Fatalf("expected flow-1 pending, got %+v", pending)
	}

	if err := b.Decide("flow-1", Decision{Kind: Forward}); err != nil {
		t.Fatalf("decide: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	decision, ok := waiter.Wait(ctx)
	if !ok || decision.Kind != Forward {
		t.Fatalf("expected forward decision, got %+v ok=%v", decision, ok)
	}

	if len(b.ListPending()) != 0 {
		t.Fatalf("flow should no longer be pending after decide+wait")
	}
}

func TestClaimExactlyOnce(t *testing.T) {
	b := New()
	b.Submit(newFlow(t, "flow-2"))

	if err := b.Decide("flow-2", Decision{Kind: Drop}); err != nil {
		t.Fatalf("decide: %v", err)
	}

	first, ok := b.Claim("flow-2")
	if !ok || first.Kind != Drop {
		t.Fatalf("first claim should return the decision, got %+v ok=%v", first, ok)
	}

	_, ok = b.Claim("flow-2")
	if ok {
		t.Fatalf("second claim for the same flow must return nothing")
	}
}

func TestDecideUnknownFlow(t *testing.T) {
	b := New()
	if err := b.Decide("does-not-exist", Decision{Kind: Forward}); err != ErrUnknownFlow {
		t.Fatalf("expected ErrUnknownFlow, got %v", err)
	}
}

func TestDecideInvalidKind(t *testing.T) {
	b := New()
	b.Submit(newFlow(t, "flow-3"))
	if err := b.Decide("flow-3", Decision{Kind: "bogus"}); err != ErrInvalidDecision {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
}

func TestDecideModifyWithInvalidURLRejected(t *testing.T) {
	b := New()
	b.Submit(newFlow(t, "flow-modify-bad-url"))

	mod := &Modification{URL: "://not-a-url"}
	if err := b.Decide("flow-modify-bad-url", Decision{Kind: Modify, Modified: mod}); err != ErrInvalidModification {
		t.Fatalf("expected ErrInvalidModification, got %v", err)
	}

	// The flow must still be pending: a rejected decision never transitions
	// state, so a later, valid decision can still be submitted.
	if len(b.ListPending()) != 1 {
		t.Fatalf("expected flow to remain pending after rejected decision")
	}
}

func TestDecideModifyWithRelativeURLRejected(t *testing.T) {
	b := New()
	b.Submit(newFlow(t, "flow-modify-relative"))

	mod := &Modification{URL: "/just/a/path"}
	if err := b.Decide("flow-modify-relative", Decision{Kind: Modify, Modified: mod}); err != ErrInvalidModification {
		t.Fatalf("expected ErrInvalidModification for a non-absolute url, got %v", err)
	}
}

func TestDecideModifyWithInvalidMethodRejected(t *testing.T) {
	b := New()
	b.Submit(newFlow(t, "flow-modify-bad-method"))

	mod := &Modification{Method: "GET /evil"}
	if err := b.Decide("flow-modify-bad-method", Decision{Kind: Modify, Modified: mod}); err != ErrInvalidModification {
		t.Fatalf("expected ErrInvalidModification for a malformed method, got %v", err)
	}
}

func TestDecideModifyWithValidFieldsSucceeds(t *testing.T) {
	b := New()
	b.Submit(newFlow(t, "flow-modify-ok"))

	mod := &Modification{Method: "POST", URL: "http://example.com/new", Headers: map[string]string{"X-Test": "1"}}
	if err := b.Decide("flow-modify-ok", Decision{Kind: Modify, Modified: mod}); err != nil {
		t.Fatalf("expected valid modification to be accepted, got %v", err)
	}
}

func TestSubmitIdempotentOnSameID(t *testing.T) {
	b := New()
	flow := newFlow(t, "flow-4")

	waiterA := b.Submit(flow)
	_ = b.Submit(flow)

	if len(b.ListPending()) != 1 {
		t.Fatalf("re-submitting the same flow id must not create a second entry")
	}

	if err := b.Decide("flow-4", Decision{Kind: Modify, Modified: &Modification{Method: "PUT"}}); err != nil {
		t.Fatalf("decide: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	decisionA, okA := waiterA.Wait(ctx)
	if !okA || decisionA.Kind != Modify {
		t.Fatalf("waiterA should observe the single decision, got %+v ok=%v", decisionA, okA)
	}
}

func TestWaitTimeoutFailsOpenToForward(t *testing.T) {
	b := New()
	waiter := b.Submit(newFlow(t, "flow-5"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	decision, ok := waiter.Wait(ctx)
	if ok {
		t.Fatalf("expected timeout, got a real decision %+v", decision)
	}
	if decision.Kind != Forward {
		t.Fatalf("timeout must fail open to forward, got %q", decision.Kind)
	}

	if len(b.ListPending()) != 0 {
		t.Fatalf("expired flow must be removed from the pending table")
	}
}

func TestPurgeReclaimsOldFlows(t *testing.T) {
	b := New()
	old := Flow{FlowID: "old", Data: FlowData{}, CreatedAt: time.Now().Add(-time.Hour)}
	fresh := newFlow(t, "fresh")

	b.Submit(old)
	b.Submit(fresh)

	purged := b.Purge(time.Minute)
	if purged != 1 {
		t.Fatalf("expected to purge exactly 1 flow, purged %d", purged)
	}

	pending := b.ListPending()
	if len(pending) != 1 || pending[0].FlowID != "fresh" {
		t.Fatalf("expected only 'fresh' to remain pending, got %+v", pending)
	}
}
