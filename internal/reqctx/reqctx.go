// Package reqctx carries per-flow metadata through an in-flight http.Request
// via typed context keys, the way the proxy pipeline threads request id,
// timing, and intercept state between modifiers.
package reqctx

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const (
	flowIDKey        contextKey = "FlowID"
	injectionIDKey   contextKey = "InjectionID"
	interceptedKey   contextKey = "Intercepted"
	wantsInjectKey   contextKey = "WantsInject"
	requestTimeKey   contextKey = "RequestTime"
	responseTimeKey  contextKey = "ResponseTime"
	bypassKey        contextKey = "Bypass"
	injectedKey      contextKey = "Injected"
)

// WithInjected flags that the response phase actually rewrote the body with
// a beacon, as opposed to merely having an injection id attached.
func WithInjected(req *http.Request, injected bool) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), injectedKey, injected))
}

// Injected reads the injection-success flag from the context.
func Injected(ctx context.Context) (bool, bool) {
	v, ok := ctx.Value(injectedKey).(bool)
	return v, ok
}

// WithFlowID returns a new request with the flow id set in the context.
func WithFlowID(req *http.Request, id uuid.UUID) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), flowIDKey, id))
}

// FlowID returns the flow id from the context if it exists.
func FlowID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(flowIDKey).(uuid.UUID)
	return id, ok
}

// WithInjectionID returns a new request with the injection id set in the context.
func WithInjectionID(req *http.Request, id string) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), injectionIDKey, id))
}

// InjectionID returns the injection id from the context if it exists.
func InjectionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(injectionIDKey).(string)
	return id, ok
}

// WithWantsInject flags that the request matched an injection trigger.
func WithWantsInject(req *http.Request, wants bool) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), wantsInjectKey, wants))
}

// WantsInject reads the injection-trigger flag from the context.
func WantsInject(ctx context.Context) (bool, bool) {
	wants, ok := ctx.Value(wantsInjectKey).(bool)
	return wants, ok
}

// WithIntercepted flags that the flow was routed through the broker.
func WithIntercepted(req *http.Request, intercepted bool) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), interceptedKey, intercepted))
}

// Intercepted reads the intercepted flag from the context.
func Intercepted(ctx context.Context) (bool, bool) {
	v, ok := ctx.Value(interceptedKey).(bool)
	return v, ok
}

// WithBypass flags a request that targets the control plane's own host and
// must skip all intercept/inject logic to prevent self-loops.
func WithBypass(req *http.Request, bypass bool) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), bypassKey, bypass))
}

// Bypass reads the bypass flag from the context.
func Bypass(ctx context.Context) (bool, bool) {
	v, ok := ctx.Value(bypassKey).(bool)
	return v, ok
}

// WithRequestTime stamps the time the request entered the pipeline.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), requestTimeKey, t))
}

// RequestTime reads the request timestamp from the context.
func RequestTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(requestTimeKey).(time.Time)
	return t, ok
}

// WithResponseTime stamps the time the response left the pipeline.
func WithResponseTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), responseTimeKey, t))
}

// ResponseTime reads the response timestamp from the context.
func ResponseTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(responseTimeKey).(time.Time)
	return t, ok
}
