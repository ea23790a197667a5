package controlapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marasi-sentinel/sentinel/internal/auditstore"
)

// handleListWaypoints serves GET /ui/waypoints: every configured hostname
// override (spec §4.1's waypoint-aware dialing, §11's DB-backed home).
func (s *Server) handleListWaypoints(c *gin.Context) {
	if s.waypoints == nil {
		c.JSON(http.StatusOK, []auditstore.Waypoint{})
		return
	}
	list, err := s.waypoints.Waypoints()
	if err != nil {
		errJSON(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type setWaypointRequest struct {
	Hostname string `json:"hostname"`
	Override string `json:"override"`
}

// handleSetWaypoint serves POST /ui/waypoints: create or update the
// redirect target for a hostname, then refresh the live proxy's waypoint
// table so the change takes effect without a restart.
func (s *Server) handleSetWaypoint(c *gin.Context) {
	if s.waypoints == nil {
		errJSON(c, http.StatusServiceUnavailable, errors.New("waypoint store not configured"))
		return
	}
	var req setWaypointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errJSON(c, http.StatusBadRequest, err)
		return
	}
	if req.Hostname == "" || req.Override == "" {
		errJSON(c, http.StatusBadRequest, errors.New("hostname and override are both required"))
		return
	}
	if err := s.waypoints.SetWaypoint(req.Hostname, req.Override); err != nil {
		errJSON(c, http.StatusInternalServerError, err)
		return
	}
	s.refreshWaypoints()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleDeleteWaypoint serves DELETE /ui/waypoints/:hostname.
func (s *Server) handleDeleteWaypoint(c *gin.Context) {
	if s.waypoints == nil {
		errJSON(c, http.StatusServiceUnavailable, errors.New("waypoint store not configured"))
		return
	}
	hostname := c.Param("hostname")
	if err := s.waypoints.DeleteWaypoint(hostname); err != nil {
		if errors.Is(err, auditstore.ErrNoWaypointForHostname) {
			errJSON(c, http.StatusNotFound, err)
		} else {
			errJSON(c, http.StatusInternalServerError, err)
		}
		return
	}
	s.refreshWaypoints()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// refreshWaypoints reloads the full waypoint table and hands it to the
// onWaypointsChanged hook (typically proxyengine.Engine.SetWaypoints), so a
// CRUD mutation is visible to the running proxy immediately. Best-effort: a
// reload error is logged, not surfaced, since the write itself already
// succeeded.
func (s *Server) refreshWaypoints() {
	if s.onWaypointsChanged == nil {
		return
	}
	list, err := s.waypoints.Waypoints()
	if err != nil {
		s.logger.Error("reloading waypoints after change", "error", err)
		return
	}
	out := make(map[string]string, len(list))
	for _, wp := range list {
		out[wp.Hostname] = wp.Override
	}
	s.onWaypointsChanged(out)
}
