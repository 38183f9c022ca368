package llm

import "context"

// SendChunk delivers c unless ctx is done first. It reports whether the
// chunk was delivered.
func SendChunk(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
