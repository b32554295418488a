package engine

import "errors"

// Error taxonomy for a chat turn. Handlers map these onto transport
// status codes; everything else is an internal failure.
var (
	// ErrInvalidArgument marks a request the caller must fix.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrContract marks a backend completion that could not be decoded
	// as the structured response envelope.
	ErrContract = errors.New("response contract violated")

	// ErrBackend marks a generation backend failure.
	ErrBackend = errors.New("generation backend error")
)
