package controlapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marasi-sentinel/sentinel/internal/broker"
)

var errMissingFlowID = errors.New("missing flow_id")
var errShuttingDown = errors.New("control plane is shutting down, not accepting new flows")

type newFlowRequest struct {
	FlowID string          `json:"flow_id"`
	Data   broker.FlowData `json:"data"`
}

// handleNewFlow serves POST /cli/intercept/new. In this process PE submits
// flows directly to the in-memory Broker (spec §9's message-passing design
// note: no disk, no HTTP hop needed when PE and IB share an address space);
// this endpoint exists for the bit-exact external surface and for any
// out-of-process submitter exercising the same protocol.
func (s *Server) handleNewFlow(c *gin.Context) {
	if s.draining.Load() {
		errJSON(c, http.StatusServiceUnavailable, errShuttingDown)
		return
	}

	var req newFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errJSON(c, http.StatusBadRequest, err)
		return
	}
	if req.FlowID == "" {
		errJSON(c, http.StatusBadRequest, errMissingFlowID)
		return
	}

	s.Broker.Submit(broker.Flow{FlowID: req.FlowID, Data: req.Data, CreatedAt: time.Now()})
	if s.Metrics != nil {
		s.Metrics.RecordFlowSubmitted()
	}
	c.JSON(200, gin.H{"ok": true})
}

// handleDecisionPoll serves GET /cli/intercept/decision?flow_id=...: PE's
// poll-based fallback path. Claim is exactly-once (spec §8 invariant 2), so
// a second poll for the same flow sees an empty body, same as "still
// pending".
func (s *Server) handleDecisionPoll(c *gin.Context) {
	flowID := c.Query("flow_id")
	if flowID == "" {
		errJSON(c, http.StatusBadRequest, errMissingFlowID)
		return
	}

	decision, ok := s.Broker.Claim(flowID)
	if !ok {
		c.JSON(200, gin.H{})
		return
	}
	if s.Metrics != nil {
		s.Metrics.RecordFlowDecided(string(decision.Kind))
	}
	c.JSON(200, gin.H{"decision": decision.Kind, "modified": decision.Modified})
}

type decisionRequest struct {
	FlowID   string               `json:"flow_id"`
	Decision broker.DecisionKind  `json:"decision"`
	Modified *broker.Modification `json:"modified,omitempty"`
}

// handleDecisionSubmit serves POST /cli/intercept/decision: the UI operator's
// verdict on a pending Flow.
func (s *Server) handleDecisionSubmit(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errJSON(c, http.StatusBadRequest, err)
		return
	}
	if req.FlowID == "" {
		errJSON(c, http.StatusBadRequest, errMissingFlowID)
		return
	}

	decision := broker.Decision{Kind: req.Decision, Modified: req.Modified}
	err := s.Broker.Decide(req.FlowID, decision)
	switch {
	case err == nil:
		c.JSON(200, gin.H{"ok": true})
	case errors.Is(err, broker.ErrInvalidDecision), errors.Is(err, broker.ErrInvalidModification):
		errJSON(c, http.StatusBadRequest, err)
	case errors.Is(err, broker.ErrUnknownFlow):
		errJSON(c, http.StatusNotFound, err)
	default:
		errJSON(c, http.StatusInternalServerError, err)
	}
}

// handleListPending serves GET /ui/intercept/list.
func (s *Server) handleListPending(c *gin.Context) {
	c.JSON(200, s.Broker.ListPending())
}
