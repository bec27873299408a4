// Package intake admits submitted events and drives in-order application.
package intake

import (
	"context"
	"sync"

	"github.com/coachpo/backoffice/internal/domain/ledger"
	"github.com/coachpo/backoffice/internal/observability"
	"github.com/coachpo/backoffice/internal/processor"
	"github.com/coachpo/backoffice/internal/schema"
	"github.com/coachpo/backoffice/internal/sequencer"
)

// Intake serialises event submissions into the sequencer and applies every
// contiguously released event before returning. Submissions may arrive
// concurrently; the mutex makes admission and application one critical
// section so journal order always matches release order.
type Intake struct {
	mu   sync.Mutex
	seq  *sequencer.Sequencer
	proc *processor.Processor
}

// New restores the release cursor from the journals and constructs the intake.
func New(ctx context.Context, store ledger.Store) (*Intake, error) {
	last, err := store.LastReleased(ctx)
	if err != nil {
		return nil, err
	}
	return &Intake{
		seq:  sequencer.New(last),
		proc: processor.New(store),
	}, nil
}

// Handle validates and admits one event, then applies everything the admission
// released. Duplicates are dropped silently. An apply failure drops the
// failing event from the buffer, so a redelivery of the same id re-runs the
// apply instead of being treated as a duplicate.
func (i *Intake) Handle(ctx context.Context, evt *schema.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.seq.Admit(evt) {
		observability.Log().Debug("duplicate event dropped",
			observability.Field{Key: "event_id", Value: evt.ID})
		return nil
	}
	observability.RecordEventAdmitted(ctx, string(evt.Kind))

	for {
		ready := i.seq.Ready()
		if ready == nil {
			return nil
		}
		if err := i.proc.Apply(ctx, ready); err != nil {
			i.seq.Drop(ready.ID)
			observability.Log().Error("event apply failed",
				observability.Field{Key: "event_id", Value: ready.ID},
				observability.Field{Key: "error", Value: err.Error()})
			return err
		}
		i.seq.Advance(ready.ID)
	}
}

// Pending reports how many admitted events are still waiting on a gap.
func (i *Intake) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.seq.Depth()
}
