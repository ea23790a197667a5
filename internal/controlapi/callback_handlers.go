package controlapi

import (
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/marasi-sentinel/sentinel/internal/callbackstore"
)

// handleListCallbacks serves GET /ui/callbacks.
func (s *Server) handleListCallbacks(c *gin.Context) {
	c.JSON(200, s.Callbacks.ListHits())
}

// handleClearCallbacks serves POST /ui/callbacks/clear.
func (s *Server) handleClearCallbacks(c *gin.Context) {
	if err := s.Callbacks.ClearHits(); err != nil {
		s.logger.Error("clearing callback log", "error", err)
	}
	c.JSON(200, gin.H{"status": "cleared"})
}

func flattenQuery(c *gin.Context) map[string]string {
	args := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			args[key] = values[0]
		}
	}
	return args
}

func flattenHeaders(c *gin.Context) map[string]string {
	headers := make(map[string]string)
	for key, values := range c.Request.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}
	return headers
}

// handleBeacon serves GET/POST /callback and /ui/hit: the third-party
// beacon endpoint the injected <img> tag fetches. Recording is best-effort
// and must never delay the 204 (spec §5: "beacon record write... never
// block the beacon response").
func (s *Server) handleBeacon(c *gin.Context) {
	hit := callbackstore.CallbackHit{
		Time:        time.Now(),
		RemoteAddr:  c.ClientIP(),
		Method:      c.Request.Method,
		Args:        flattenQuery(c),
		Headers:     flattenHeaders(c),
		InjectionID: c.Query("id"),
	}

	if c.Request.Body != nil {
		if body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20)); err == nil && len(body) > 0 {
			if json.Valid(body) {
				hit.Body = json.RawMessage(body)
			} else {
				encoded, marshalErr := json.Marshal(string(body))
				if marshalErr == nil {
					hit.Body = json.RawMessage(encoded)
				}
			}
		}
	}

	c.Status(204)

	// Recorded off the request goroutine so a slow disk write never delays
	// the 204 the client is waiting on.
	go func() {
		if err := s.Callbacks.RecordHit(hit); err != nil {
			s.logger.Error("recording callback hit", "error", err)
			return
		}
		if s.Metrics != nil {
			s.Metrics.RecordCallbackHit()
		}
	}()
}
