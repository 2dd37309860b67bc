package interfaces

import "errors"

// Error kinds surfaced by the core pipeline. The request layer maps these
// to status codes with errors.Is; everything else wraps one of them.
var (
	// ErrInvalidInput marks requests rejected before any external call:
	// missing question, bad chunking parameters, unsupported upload type.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks an unknown session, owner or corpus.
	ErrNotFound = errors.New("not found")

	// ErrUpstream marks a failed embedding, index or model gateway call.
	ErrUpstream = errors.New("upstream call failed")

	// ErrPartialIngestion marks an upload that produced zero usable chunks.
	// No corpus mutation happens when this is returned.
	ErrPartialIngestion = errors.New("upload produced no usable chunks")

	// ErrKeyNotFound is returned by key/value storage lookups.
	ErrKeyNotFound = errors.New("key not found")
)
