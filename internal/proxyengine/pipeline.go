package proxyengine

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/martian"
)

// RequestModifierFunc mirrors the teacher's modifier signature, giving each
// step access to the owning engine alongside the request.
type RequestModifierFunc func(engine *Engine, req *http.Request) error

// ResponseModifierFunc is the response-phase counterpart.
type ResponseModifierFunc func(engine *Engine, res *http.Response) error

// group runs an ordered chain of modifiers, stopping at the first one that
// returns a non-nil error. ErrSkipPipeline still lets the transaction
// complete; any other error is logged and aborts the remaining chain.
// Grounded on the teacher's options.go WithBasePipeline/WithDefaultModifierPipeline,
// generalized since this module's martian.Proxy does not expose a ready-made
// modifier group type.
type group struct {
	engine   *Engine
	reqMods  []RequestModifierFunc
	resMods  []ResponseModifierFunc
	logger   *slog.Logger
}

func newGroup(engine *Engine, logger *slog.Logger) *group {
	return &group{engine: engine, logger: logger}
}

func (g *group) addRequest(f RequestModifierFunc)   { g.reqMods = append(g.reqMods, f) }
func (g *group) addResponse(f ResponseModifierFunc) { g.resMods = append(g.resMods, f) }

// martianRequestModifier adapts the group to martian.RequestModifier.
type martianRequestModifier struct{ g *group }

func (m martianRequestModifier) ModifyRequest(req *http.Request) error {
	for _, mod := range m.g.reqMods {
		err := mod(m.g.engine, req)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrSkipPipeline) {
			return nil
		}
		m.g.logger.Error("request pipeline error", "error", err)
		return nil
	}
	return nil
}

// martianResponseModifier adapts the group to martian.ResponseModifier.
type martianResponseModifier struct{ g *group }

func (m martianResponseModifier) ModifyResponse(res *http.Response) error {
	for _, mod := range m.g.resMods {
		err := mod(m.g.engine, res)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrSkipPipeline) {
			return nil
		}
		m.g.logger.Error("response pipeline error", "error", err)
		return nil
	}
	return nil
}

// installDefaultPipeline wires the default request/response modifier order:
// (Request): bypass -> setup -> waypoints -> injection trigger -> intercept trigger -> audit
// (Response): drop rewrite -> buffer -> decompress -> injection -> audit
func (e *Engine) installDefaultPipeline() {
	g := newGroup(e, e.logger)

	g.addRequest(bypassModifier)
	g.addRequest(setupModifier)
	g.addRequest(waypointModifier)
	g.addRequest(injectionTriggerModifier)
	g.addRequest(interceptTriggerModifier)
	g.addRequest(auditRequestModifier)

	g.addResponse(dropRewriteModifier)
	g.addResponse(bufferStreamingBodyModifier)
	g.addResponse(decompressResponseModifier)
	g.addResponse(injectionModifier)
	g.addResponse(auditResponseModifier)

	e.martianProxy.SetRequestModifier(martianRequestModifier{g: g})
	e.martianProxy.SetResponseModifier(martianResponseModifier{g: g})
}

// skipRoundTrip is a thin indirection over martian.NewContext so call sites
// in this package don't need to import martian directly.
func skipRoundTrip(req *http.Request) {
	martian.NewContext(req).SkipRoundTrip()
}

func isSkippingRoundTrip(req *http.Request) bool {
	return martian.NewContext(req).SkippingRoundTrip()
}
