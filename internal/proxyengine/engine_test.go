package proxyengine

import (
	"testing"

	"github.com/marasi-sentinel/sentinel/internal/broker"
	"github.com/marasi-sentinel/sentinel/internal/callbackstore"
	"github.com/marasi-sentinel/sentinel/internal/certauthority"
	"github.com/marasi-sentinel/sentinel/internal/metrics"
	"github.com/marasi-sentinel/sentinel/internal/toggle"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	authority, err := certauthority.LoadOrCreate(t.TempDir())
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	callbacks, err := callbackstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("callbackstore.New: %v", err)
	}

	e, err := New(
		Config{DashboardURL: "http://127.0.0.1:8090", CallbackBase: "http://127.0.0.1:8091/callback"},
		broker.New(),
		callbacks,
		toggle.New(false),
		metrics.New(),
		authority,
		nil,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNewRegistersBypassHostsBothSpellings(t *testing.T) {
	e := newTestEngine(t)

	for _, hostPort := range []string{"127.0.0.1:8090", "localhost:8090", "127.0.0.1:8091", "localhost:8091"} {
		if !e.isBypassHost(hostPort) {
			t.Fatalf("expected %s to be a bypass host", hostPort)
		}
	}
	if e.isBypassHost("example.test:80") {
		t.Fatalf("did not expect an unrelated host to be a bypass host")
	}
}

func TestSetWaypointsAndLookup(t *testing.T) {
	e := newTestEngine(t)
	e.SetWaypoints(map[string]string{"api.example.test:443": "127.0.0.1:9443"})

	override, ok := e.waypointFor("api.example.test:443")
	if !ok || override != "127.0.0.1:9443" {
		t.Fatalf("expected waypoint override, got %q %v", override, ok)
	}
	if _, ok := e.waypointFor("other.example.test:443"); ok {
		t.Fatalf("expected no waypoint for unconfigured host")
	}
}
