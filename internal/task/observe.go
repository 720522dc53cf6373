package task

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// AwaitCompletion starts an observer that polls id until it reaches a terminal
// outcome. The outcome is delivered once on the returned channel, which is then
// closed. The channel is closed without a value if ctx ends first or the entry
// goes away.
func (r *Registry) AwaitCompletion(ctx context.Context, id ID) (<-chan Outcome, error) {
	if _, err := r.lookup(id); err != nil {
		return nil, err
	}
	ch := make(chan Outcome, 1)
	go r.observe(ctx, id, r.interval, ch)
	return ch, nil
}

func (r *Registry) observe(ctx context.Context, id ID, every time.Duration, ch chan<- Outcome) {
	defer close(ch)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		out, err := r.Poll(id)
		if err != nil {
			log.Debug().Uint64("task_id", uint64(id)).Err(err).Msg("observer stopped")
			return
		}
		if out.Terminal() {
			ch <- out
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
