package delivery

import (
	"context"
	"errors"
)

// ErrQueueFull is returned by Enqueue when the queue cannot take more text.
var ErrQueueFull = errors.New("delivery queue full")

// Deliverer inserts text into a target.
type Deliverer interface {
	Deliver(ctx context.Context, text string, target Target) (Outcome, error)
}

// Delivery is the result of one queued request.
type Delivery struct {
	Text    string
	Target  Target
	Outcome Outcome
	Err     error
}

// Queue serializes deliveries: text arriving while another delivery is in
// flight waits its turn.
type Queue struct {
	d       Deliverer
	resolve func() Target
	in      chan string
	out     chan Delivery
}

// NewQueue creates a queue holding up to size pending texts. resolve picks
// the target when each delivery starts; nil uses Foreground.
func NewQueue(d Deliverer, size int, resolve func() Target) *Queue {
	if resolve == nil {
		resolve = Foreground
	}
	return &Queue{
		d:       d,
		resolve: resolve,
		in:      make(chan string, max(size, 1)),
		out:     make(chan Delivery, max(size, 1)),
	}
}

// Enqueue adds text without blocking.
func (q *Queue) Enqueue(text string) error {
	select {
	case q.in <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

// Results delivers one Delivery per enqueued text. It is closed when Run
// returns.
func (q *Queue) Results() <-chan Delivery { return q.out }

// Run delivers queued text until ctx is done. Text still queued at that
// point is reported with the context error rather than dropped.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.out)
	for {
		select {
		case text := <-q.in:
			target := q.resolve()
			outcome, err := q.d.Deliver(ctx, text, target)
			q.out <- Delivery{Text: text, Target: target, Outcome: outcome, Err: err}
		case <-ctx.Done():
			for {
				select {
				case text := <-q.in:
					q.out <- Delivery{Text: text, Err: ctx.Err()}
				default:
					return
				}
			}
		}
	}
}
