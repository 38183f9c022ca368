package streaming

import (
	"context"

	"github.com/BaSui01/convoflow/types"
)

// Pipe forwards events to enc until the channel closes. Each observer sees
// an event before it is written. When a write fails the consumer is gone:
// cancel is called so the producer stops, and the write error is returned.
func Pipe(events <-chan types.StreamEvent, enc *Encoder, cancel context.CancelFunc, observers ...func(types.StreamEvent)) error {
	for ev := range events {
		for _, obs := range observers {
			obs(ev)
		}
		if err := enc.Encode(ev); err != nil {
			if cancel != nil {
				cancel()
			}
			return err
		}
	}
	return nil
}
