package callbackstore

import (
	"testing"
	"time"
)

func TestRegisterMarkAndRecordHit(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := store.RegisterInjection("inj-1", Injection{
		Method: "GET",
		URL:    "http://target/page?inject=1",
	}); err != nil {
		t.Fatalf("RegisterInjection: %v", err)
	}

	if err := store.RegisterInjection("inj-1", Injection{}); err != ErrAlreadyRegistered {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	if err := store.MarkInjected("inj-1", time.Now()); err != nil {
		t.Fatalf("MarkInjected: %v", err)
	}

	inj, ok := store.Injection("inj-1")
	if !ok || !inj.Injected || inj.InjectedAt == nil {
		t.Fatalf("expected injected=true with a timestamp, got %+v ok=%v", inj, ok)
	}

	if err := store.RecordHit(CallbackHit{
		RemoteAddr:  "10.0.0.1",
		Method:      "GET",
		Args:        map[string]string{"source": "proxy-inject"},
		InjectionID: "inj-1",
	}); err != nil {
		t.Fatalf("RecordHit: %v", err)
	}

	hits := store.ListHits()
	if len(hits) != 1 || hits[0].InjectionID != "inj-1" {
		t.Fatalf("expected one recorded hit for inj-1, got %+v", hits)
	}

	inj, _ = store.Injection("inj-1")
	if len(inj.Callbacks) != 1 {
		t.Fatalf("expected the injection's callback list to gain one entry, got %+v", inj.Callbacks)
	}
}

func TestRecordHitUnknownInjectionStillRecorded(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := store.RecordHit(CallbackHit{RemoteAddr: "1.2.3.4", Method: "GET", InjectionID: "unknown"}); err != nil {
		t.Fatalf("RecordHit: %v", err)
	}

	if len(store.ListHits()) != 1 {
		t.Fatalf("hit with unknown injection id must still be recorded in CS")
	}
}

func TestClearHits(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	store.RecordHit(CallbackHit{Method: "GET"})
	store.RecordHit(CallbackHit{Method: "POST"})

	if err := store.ClearHits(); err != nil {
		t.Fatalf("ClearHits: %v", err)
	}
	if len(store.ListHits()) != 0 {
		t.Fatalf("expected hits to be cleared")
	}
}

func TestReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.RegisterInjection("inj-2", Injection{Method: "GET", URL: "http://x/"}); err != nil {
		t.Fatalf("RegisterInjection: %v", err)
	}
	if err := store.RecordHit(CallbackHit{Method: "GET", InjectionID: "inj-2"}); err != nil {
		t.Fatalf("RecordHit: %v", err)
	}

	reloaded, err := New(dir)
	if err != nil {
		t.Fatalf("reload New: %v", err)
	}
	if len(reloaded.ListHits()) != 1 {
		t.Fatalf("expected reloaded store to see persisted hits")
	}
	if inj, ok := reloaded.Injection("inj-2"); !ok || len(inj.Callbacks) != 1 {
		t.Fatalf("expected reloaded store to see persisted injection callbacks, got %+v ok=%v", inj, ok)
	}
}
