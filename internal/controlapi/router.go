// Package controlapi implements the control-plane HTTP API: the small,
// bit-exact JSON surface the dashboard (UI) and the Proxy Engine's own
// submitter (PE) use to drive the intercept/injection workflow, grounded
// on the teacher pack's gin handler style (JillVernus-cc-bridge's
// internal/handlers).
package controlapi

import (
	"log/slog"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/marasi-sentinel/sentinel/internal/auditstore"
	"github.com/marasi-sentinel/sentinel/internal/broker"
	"github.com/marasi-sentinel/sentinel/internal/callbackstore"
	"github.com/marasi-sentinel/sentinel/internal/metrics"
	"github.com/marasi-sentinel/sentinel/internal/statemirror"
	"github.com/marasi-sentinel/sentinel/internal/toggle"
)

// Server bundles the collaborators the control API's handlers close over.
type Server struct {
	Broker    *broker.Broker
	Callbacks *callbackstore.Store
	Toggle    *toggle.Toggle
	Metrics   *metrics.Metrics
	Mirror    *statemirror.Mirror
	logger    *slog.Logger

	waypoints          *auditstore.Store
	onWaypointsChanged func(map[string]string)

	draining atomic.Bool
}

// New constructs a Server. A nil logger falls back to slog.Default, the
// same "never nil" discipline the proxy engine follows. mirror may be nil,
// in which case intercept_state.json is simply never written.
func New(b *broker.Broker, callbacks *callbackstore.Store, tg *toggle.Toggle, m *metrics.Metrics, mirror *statemirror.Mirror, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Broker: b, Callbacks: callbacks, Toggle: tg, Metrics: m, Mirror: mirror, logger: logger}
}

// SetDraining flips whether /cli/intercept/new accepts new flows. Set on
// SIGINT/SIGTERM so in-flight submitters can still hit claim/decide while
// shutting down, but no new flow enters the pending table (spec §9 open
// question (c)).
func (s *Server) SetDraining(draining bool) {
	s.draining.Store(draining)
}

// SetWaypointStore wires the auditstore-backed waypoint table into the
// /ui/waypoints CRUD routes. Nil (the default) disables those routes'
// mutations and leaves the list route returning an empty list.
func (s *Server) SetWaypointStore(store *auditstore.Store) {
	s.waypoints = store
}

// SetWaypointsChangedHook registers a callback fired with the full waypoint
// table after any CRUD mutation, typically proxyengine.Engine.SetWaypoints,
// so a change made through the API takes effect in the running proxy
// immediately rather than only on the next restart.
func (s *Server) SetWaypointsChangedHook(fn func(map[string]string)) {
	s.onWaypointsChanged = fn
}

// Router builds the gin engine with every route in the endpoint table.
// Mirrors the teacher's preference for gin.New()+Recovery over gin.Default
// so request logging stays on the structured slog path instead of gin's
// own access-log middleware.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ui/intercept/status", s.handleStatus)
	r.POST("/ui/intercept/toggle", s.handleToggle)

	r.POST("/cli/intercept/new", s.handleNewFlow)
	r.GET("/cli/intercept/decision", s.handleDecisionPoll)
	r.POST("/cli/intercept/decision", s.handleDecisionSubmit)

	r.GET("/ui/intercept/list", s.handleListPending)

	r.GET("/ui/waypoints", s.handleListWaypoints)
	r.POST("/ui/waypoints", s.handleSetWaypoint)
	r.DELETE("/ui/waypoints/:hostname", s.handleDeleteWaypoint)

	r.GET("/ui/callbacks", s.handleListCallbacks)
	r.POST("/ui/callbacks/clear", s.handleClearCallbacks)

	beacon := s.handleBeacon
	r.GET("/callback", beacon)
	r.POST("/callback", beacon)
	r.GET("/ui/hit", beacon)
	r.POST("/ui/hit", beacon)

	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	return r
}

func errJSON(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}
