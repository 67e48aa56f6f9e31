package reasoning

import (
	"context"
	"errors"
)

// ErrNoProvider is returned by NoProvider.Stream. Concrete LLM provider wire
// clients are out of scope for this daemon (spec §1); NoProvider is the
// default until one is wired in by an embedder.
var ErrNoProvider = errors.New("reasoning: no LLM provider configured")

// NoProvider is a Provider that always fails, so the daemon can boot and
// serve its mesh/scheduling surface even with no concrete LLM backend
// attached.
type NoProvider struct{}

func (NoProvider) Stream(ctx context.Context, messages []Message, tools []ToolSpec) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	close(chunks)
	errs <- ErrNoProvider
	close(errs)
	return chunks, errs
}
