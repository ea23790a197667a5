package proxyengine

import (
	"net/http"
	"net/http/httputil"

	"github.com/marasi-sentinel/sentinel/internal/reqctx"
)

// AuditRequestRecord and AuditResponseRecord are the shapes cmd/sentinel's
// auditstore-backed hook converts into auditstore.TrafficRecord rows,
// keeping this package free of a direct database dependency.
type AuditRequestRecord struct {
	FlowID      string
	Method      string
	URL         string
	Host        string
	Path        string
	RequestRaw  []byte
	Intercepted bool
}

type AuditResponseRecord struct {
	FlowID      string
	StatusCode  int
	ResponseRaw []byte
	Injected    bool
}

// auditRequestModifier is the final request-phase step, mirroring the
// teacher's WriteRequestModifier: hand the flow to the durable audit log.
func auditRequestModifier(e *Engine, req *http.Request) error {
	if e.auditInsert == nil {
		return nil
	}
	flowID := ""
	if id, ok := reqctx.FlowID(req.Context()); ok {
		flowID = id.String()
	}
	intercepted, _ := reqctx.Intercepted(req.Context())

	raw, err := httputil.DumpRequest(req, true)
	if err != nil {
		e.logger.Error("dumping request for audit", "error", err)
		raw = nil
	}

	e.auditInsert(AuditRequestRecord{
		FlowID:      flowID,
		Method:      req.Method,
		URL:         req.URL.String(),
		Host:        req.URL.Hostname(),
		Path:        req.URL.Path,
		RequestRaw:  raw,
		Intercepted: intercepted,
	})
	return nil
}

// auditResponseModifier is the final response-phase step, mirroring the
// teacher's WriteResponseModifier.
func auditResponseModifier(e *Engine, res *http.Response) error {
	intercepted, _ := reqctx.Intercepted(res.Request.Context())
	injected, _ := reqctx.Injected(res.Request.Context())

	if e.requestLog != nil {
		if err := e.requestLog.Log(res.Request.Method, res.Request.URL.String(), intercepted, injected); err != nil {
			e.logger.Error("writing request log line", "error", err)
		}
	}

	if e.auditUpdate == nil {
		return nil
	}
	flowID := ""
	if id, ok := reqctx.FlowID(res.Request.Context()); ok {
		flowID = id.String()
	}

	raw, err := httputil.DumpResponse(res, true)
	if err != nil {
		e.logger.Error("dumping response for audit", "error", err)
		raw = nil
	}

	e.auditUpdate(AuditResponseRecord{
		FlowID:      flowID,
		StatusCode:  res.StatusCode,
		ResponseRaw: raw,
		Injected:    injected,
	})
	return nil
}
