package proxyengine

import "errors"

var (
	// ErrSkipPipeline stops the modifier chain for this phase without
	// treating it as a failure — the transaction still completes.
	ErrSkipPipeline = errors.New("stop processing item")

	// ErrInvalidModification is returned when a Decision of kind "modify"
	// carries a url that cannot be parsed.
	ErrInvalidModification = errors.New("modification has an invalid url")

	// ErrSessionContext is returned when the martian session could not be
	// recovered from a request's context.
	ErrSessionContext = errors.New("failed to get session from context")
)
