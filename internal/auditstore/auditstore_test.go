package auditstore

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	tempFile, err := os.CreateTemp(t.TempDir(), "audit_*.db")
	if err != nil {
		t.Fatalf("os.CreateTemp() failed: %v", err)
	}
	tempFile.Close()

	store, err := Open(tempFile.Name(), nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInsertRequestThenUpdateResponse(t *testing.T) {
	store := setupTestStore(t)

	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("uuid.NewV7: %v", err)
	}

	rec := &TrafficRecord{
		ID:          id,
		FlowID:      "flow-1",
		Method:      "GET",
		URL:         "https://example.test/",
		Host:        "example.test",
		Path:        "/",
		RequestRaw:  []byte("GET / HTTP/1.1\r\nHost: example.test\r\n\r\n"),
		Intercepted: true,
		RequestedAt: time.Now(),
	}
	if err := store.InsertRequest(rec); err != nil {
		t.Fatalf("InsertRequest: %v", err)
	}

	respondedAt := time.Now()
	if err := store.UpdateResponse(id, 200, []byte("HTTP/1.1 200 OK\r\n\r\n"), true, respondedAt); err != nil {
		t.Fatalf("UpdateResponse: %v", err)
	}

	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.StatusCode != 200 || !got.Injected || !got.Intercepted {
		t.Fatalf("unexpected record after update: %+v", got)
	}
}

func TestUpdateResponseUnknownIDFails(t *testing.T) {
	store := setupTestStore(t)

	id, _ := uuid.NewV7()
	if err := store.UpdateResponse(id, 200, nil, false, time.Now()); err == nil {
		t.Fatalf("expected error updating an unknown traffic record")
	}
}

func TestListReturnsNewestFirst(t *testing.T) {
	store := setupTestStore(t)

	base := time.Now()
	for i := 0; i < 3; i++ {
		id, _ := uuid.NewV7()
		rec := &TrafficRecord{
			ID:          id,
			FlowID:      "flow",
			Method:      "GET",
			URL:         "https://example.test/",
			Host:        "example.test",
			Path:        "/",
			RequestedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.InsertRequest(rec); err != nil {
			t.Fatalf("InsertRequest: %v", err)
		}
	}

	records, err := store.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if !records[0].RequestedAt.After(records[1].RequestedAt) {
		t.Fatalf("expected newest-first ordering")
	}
}

func TestWaypointCRUD(t *testing.T) {
	store := setupTestStore(t)

	if err := store.SetWaypoint("api.example.test", "127.0.0.1:9443"); err != nil {
		t.Fatalf("SetWaypoint: %v", err)
	}

	waypoints, err := store.Waypoints()
	if err != nil {
		t.Fatalf("Waypoints: %v", err)
	}
	if len(waypoints) != 1 || waypoints[0].Override != "127.0.0.1:9443" {
		t.Fatalf("unexpected waypoints: %+v", waypoints)
	}

	if err := store.SetWaypoint("api.example.test", "127.0.0.1:9444"); err != nil {
		t.Fatalf("SetWaypoint update: %v", err)
	}
	waypoints, _ = store.Waypoints()
	if waypoints[0].Override != "127.0.0.1:9444" {
		t.Fatalf("expected upsert to replace override, got %+v", waypoints)
	}

	if err := store.DeleteWaypoint("api.example.test"); err != nil {
		t.Fatalf("DeleteWaypoint: %v", err)
	}
	if err := store.DeleteWaypoint("api.example.test"); err == nil {
		t.Fatalf("expected ErrNoWaypointForHostname on second delete")
	}
}
