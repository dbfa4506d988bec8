package mirror

import (
	"context"
	"time"
)

// maxWaitFactor bounds how long a continuous stream of events can hold a
// batch back, as a multiple of the quiet window.
const maxWaitFactor = 10

// coalescer turns a stream of events into batches. A batch is closed once
// no event has arrived for the quiet window, or when the oldest pending
// event has waited maxWaitFactor windows. Closed batches queue internally so
// a slow consumer never stalls collection.
type coalescer struct {
	root   string
	window time.Duration
	now    func() time.Time
}

func newCoalescer(root string, window time.Duration) *coalescer {
	return &coalescer{root: root, window: window, now: time.Now}
}

// run reads events from in until it is closed or ctx is done and sends
// batches on out, which is closed on return. Batches still queued when in
// closes are delivered before returning.
func (c *coalescer) run(ctx context.Context, in <-chan Event, out chan<- []Event) {
	defer close(out)

	timer := time.NewTimer(c.window)
	timer.Stop()
	defer timer.Stop()

	var (
		pending []Event
		first   time.Time
		ready   [][]Event
		timerC  <-chan time.Time
	)

	flush := func() {
		if len(pending) > 0 {
			ready = append(ready, Coalesce(pending, c.root))
			pending = nil
		}
		timer.Stop()
		timerC = nil
	}

	for {
		var (
			sendC chan<- []Event
			next  []Event
		)
		if len(ready) > 0 {
			sendC = out
			next = ready[0]
		}

		select {
		case <-ctx.Done():
			return

		case ev, ok := <-in:
			if !ok {
				flush()
				for _, batch := range ready {
					select {
					case out <- batch:
					case <-ctx.Done():
						return
					}
				}
				return
			}
			if len(pending) == 0 {
				first = c.now()
			}
			pending = append(pending, ev)
			if c.now().Sub(first) >= maxWaitFactor*c.window {
				flush()
				continue
			}
			timer.Reset(c.window)
			timerC = timer.C

		case <-timerC:
			flush()

		case sendC <- next:
			ready = ready[1:]
		}
	}
}
