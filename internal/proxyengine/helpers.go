package proxyengine

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// mustParseUUID converts a freshly generated uuid string (broker.NewFlowID)
// back into a uuid.UUID for reqctx. Only called on ids this package just
// generated, so the parse cannot fail in practice.
func mustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}
	}
	return id
}

func contextWithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

type pendingDropKey struct{}

// dropSpec carries the synthesized 418 body the response phase must emit
// for a flow the operator decided to drop, since the round trip to upstream
// was already skipped at the request phase.
type dropSpec struct {
	statusCode int
	body       string
	contentType string
}

var dropBody = dropSpec{
	statusCode:  418,
	body:        "Intercepted and dropped by operator",
	contentType: "text/plain",
}

func markPendingDrop(req *http.Request) error {
	*req = *req.WithContext(context.WithValue(req.Context(), pendingDropKey{}, dropBody))
	return nil
}

func pendingDrop(ctx context.Context) (dropSpec, bool) {
	spec, ok := ctx.Value(pendingDropKey{}).(dropSpec)
	return spec, ok
}
