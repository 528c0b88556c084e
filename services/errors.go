package services

import "errors"

// Sentinel errors shared across the service layer. Handlers map these to
// stable error codes at the HTTP boundary.
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")

	// Ingestion
	ErrEmptyInput         = errors.New("EMPTY_INPUT: no non-whitespace content")
	ErrChunkLimitExceeded = errors.New("CHUNK_LIMIT_EXCEEDED: chunk exceeds hard token cap")
	ErrEmptyExtract       = errors.New("EMPTY_EXTRACT: extraction yielded only whitespace")

	// Upstream providers
	ErrEmbedderUnavailable = errors.New("EMBEDDER_UNAVAILABLE: embedding backend unreachable")
	ErrNoProviderAvailable = errors.New("NO_PROVIDER_AVAILABLE: no web search provider configured")
)
