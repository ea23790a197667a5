package proxyengine

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marasi-sentinel/sentinel/internal/broker"
	"github.com/marasi-sentinel/sentinel/internal/callbackstore"
	"github.com/marasi-sentinel/sentinel/internal/rawhttp"
	"github.com/marasi-sentinel/sentinel/internal/reqctx"
)

// truthyValues holds the accepted spellings for the X-Inject-Payload,
// X-Intercept headers and their query-parameter equivalents (spec §6).
var truthyValues = map[string]bool{"1": true, "true": true, "yes": true}

func isTruthy(v string) bool { return truthyValues[strings.ToLower(v)] }

// wantsTrigger checks both a header and a same-named query parameter for a
// truthy value, matching spec §4.1 rules 2-3.
func wantsTrigger(req *http.Request, header, query string) bool {
	if isTruthy(req.Header.Get(header)) {
		return true
	}
	return isTruthy(req.URL.Query().Get(query))
}

// bypassModifier implements spec §4.1 rule 1: requests targeting the
// dashboard or callback control plane, or localhost/127.0.0.1 on any port,
// skip all intercept/injection logic.
func bypassModifier(e *Engine, req *http.Request) error {
	hostPort := getHostPort(req)
	host, _, _ := net.SplitHostPort(hostPort)
	if e.isBypassHost(hostPort) || host == "localhost" || host == "127.0.0.1" {
		*req = *reqctx.WithBypass(req, true)
		return ErrSkipPipeline
	}
	return nil
}

// setupModifier stamps every surviving request with a flow id and request
// time so later phases and the audit log can correlate request/response.
func setupModifier(e *Engine, req *http.Request) error {
	if req.Method == http.MethodConnect {
		return ErrSkipPipeline
	}
	flowID, err := broker.NewFlowID()
	if err != nil {
		return fmt.Errorf("generating flow id: %w", err)
	}
	*req = *reqctx.WithFlowID(req, mustParseUUID(flowID))
	*req = *reqctx.WithRequestTime(req, time.Now())
	return nil
}

// waypointModifier applies a configured host override (spec §4.1's design
// stack addition), rewriting the dial target before any other phase sees it.
func waypointModifier(e *Engine, req *http.Request) error {
	if override, ok := e.waypointFor(getHostPort(req)); ok {
		req.URL.Host = override
		req.Host = override
	}
	return nil
}

// injectionTriggerModifier implements spec §4.1 rule 2: detect wants_inject,
// allocate an injection id, register it in the callback store, and stamp the
// trusted X-Injection-Id header so the response phase can find it.
func injectionTriggerModifier(e *Engine, req *http.Request) error {
	// Strip any client-supplied marker header first — it must only ever be
	// set by the proxy itself (spec §9 identifier opacity).
	req.Header.Del("X-Injection-Id")

	if !wantsTrigger(req, "X-Inject-Payload", "inject") {
		return nil
	}

	injectionID, err := broker.NewFlowID()
	if err != nil {
		return fmt.Errorf("generating injection id: %w", err)
	}

	meta := callbackstore.Injection{
		Time:      time.Now(),
		Method:    req.Method,
		URL:       req.URL.String(),
		ClientIP:  req.RemoteAddr,
		UserAgent: req.UserAgent(),
	}
	if err := e.Callbacks.RegisterInjection(injectionID, meta); err != nil {
		return fmt.Errorf("registering injection %s: %w", injectionID, err)
	}

	req.Header.Set("X-Injection-Id", injectionID)
	*req = *reqctx.WithInjectionID(req, injectionID)
	*req = *reqctx.WithWantsInject(req, true)

	if e.Metrics != nil {
		e.Metrics.RecordInjectionAttempted()
	}
	return nil
}

// interceptTriggerModifier implements spec §4.1 rules 3-4: decide whether to
// engage the broker, then apply the resulting Decision.
func interceptTriggerModifier(e *Engine, req *http.Request) error {
	interceptRequested := e.Toggle.Get() || wantsTrigger(req, "X-Intercept", "intercept")
	if !interceptRequested {
		return nil
	}

	flow, err := snapshotFlow(req)
	if err != nil {
		return fmt.Errorf("building flow snapshot: %w", err)
	}

	waiter := e.Broker.Submit(flow)
	if e.Metrics != nil {
		e.Metrics.RecordFlowSubmitted()
	}

	ctx, cancel := contextWithTimeout(req.Context(), 30*time.Second)
	defer cancel()

	decision, delivered := waiter.Wait(ctx)
	if !delivered {
		if e.Metrics != nil {
			e.Metrics.RecordFlowExpired()
		}
		*req = *reqctx.WithIntercepted(req, true)
		return nil
	}

	*req = *reqctx.WithIntercepted(req, true)
	if e.Metrics != nil {
		e.Metrics.RecordFlowDecided(string(decision.Kind))
	}

	switch decision.Kind {
	case broker.Forward:
		return nil
	case broker.Drop:
		skipRoundTrip(req)
		return markPendingDrop(req)
	case broker.Modify:
		if err := applyModification(req, decision.Modified); err != nil {
			return fmt.Errorf("applying modification: %w", err)
		}
		return nil
	}
	return nil
}

// snapshotFlow builds a broker.Flow from the live request. The body is
// captured as a string (pretty-printed when rawhttp.Prettify recognizes it);
// there is no separate raw-bytes form, so bytes that are not valid UTF-8 are
// not preserved in the snapshot. The live request keeps its original body.
func snapshotFlow(req *http.Request) (broker.Flow, error) {
	var flowID string
	if id, ok := reqctx.FlowID(req.Context()); ok {
		flowID = id.String()
	} else {
		generated, err := broker.NewFlowID()
		if err != nil {
			return broker.Flow{}, err
		}
		flowID = generated
	}

	var bodyText string
	if req.Body != nil {
		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			return broker.Flow{}, fmt.Errorf("reading request body: %w", err)
		}
		req.Body = io.NopCloser(strings.NewReader(string(bodyBytes)))
		bodyText = string(bodyBytes)

		// Pretty-print JSON/XML/HTML bodies for the operator's view; an
		// empty result means the body matched none of those, so the raw
		// text is kept as-is.
		if pretty, err := rawhttp.Prettify(bodyBytes); err == nil && len(pretty) > 0 {
			bodyText = string(pretty)
		}
	}

	headers := make(map[string]string, len(req.Header))
	for key := range req.Header {
		headers[key] = req.Header.Get(key)
	}

	return broker.Flow{
		FlowID: flowID,
		Data: broker.FlowData{
			Method:      req.Method,
			URL:         req.URL.String(),
			Path:        req.URL.Path,
			HTTPVersion: req.Proto,
			Headers:     headers,
			Body:        bodyText,
			ClientAddr:  req.RemoteAddr,
		},
		CreatedAt: time.Now(),
	}, nil
}

// applyModification implements spec §4.1's Modification semantics: each
// present field fully overrides the corresponding request field; absent
// fields are left unchanged.
func applyModification(req *http.Request, mod *broker.Modification) error {
	if mod == nil {
		return nil
	}
	if mod.Method != "" {
		req.Method = mod.Method
	}
	if mod.URL != "" {
		parsed, err := url.Parse(mod.URL)
		if err != nil {
			return ErrInvalidModification
		}
		req.URL = parsed
		req.Host = parsed.Host
	}
	if mod.Headers != nil {
		req.Header = make(http.Header, len(mod.Headers))
		for k, v := range mod.Headers {
			req.Header.Set(k, v)
		}
	}
	if mod.Body != nil {
		req.Body = io.NopCloser(strings.NewReader(*mod.Body))
		req.ContentLength = int64(len(*mod.Body))
	}
	return nil
}
