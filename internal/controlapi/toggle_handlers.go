package controlapi

import (
	"github.com/gin-gonic/gin"
)

// handleStatus serves GET /ui/intercept/status, consumed both by the UI and
// by PE's own cached probe (spec §5).
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(200, gin.H{"enabled": s.Toggle.Get()})
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleToggle serves POST /ui/intercept/toggle. An absent body, or a body
// with no "enabled" field, flips the current value; an explicit value sets
// it (spec §6, open question (b): both behaviors preserved).
func (s *Server) handleToggle(c *gin.Context) {
	var req toggleRequest
	// A missing/empty body is valid (flip semantics), so a bind error here
	// is only a genuine problem if the body was non-empty and malformed;
	// ShouldBindJSON on an empty body returns io.EOF, which we treat as
	// "no fields given" rather than a client error.
	_ = c.ShouldBindJSON(&req)

	var enabled bool
	if req.Enabled != nil {
		enabled = *req.Enabled
		s.Toggle.Set(enabled)
	} else {
		enabled = s.Toggle.Flip()
	}

	if s.Mirror != nil {
		if err := s.Mirror.WriteToggleState(enabled); err != nil {
			s.logger.Error("writing intercept_state.json", "error", err)
		}
	}

	c.JSON(200, gin.H{"enabled": enabled})
}
