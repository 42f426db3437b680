package engine

import (
	"log/slog"

	"github.com/caspercaimeo-alt/CaimeoV1/internal/journal"
	"github.com/caspercaimeo-alt/CaimeoV1/internal/orders"
)

// Fanout writes each trade event to the authoritative journal first, then
// mirrors it to reporting stores. Mirror failures are logged and swallowed
// so a broken reporting store can never stall trading; only the journal
// write decides success.
type Fanout struct {
	primary orders.EventSink
	mirrors []orders.EventSink
	logger  *slog.Logger
}

// NewFanout creates an event fanout over the authoritative primary sink.
func NewFanout(primary orders.EventSink, logger *slog.Logger, mirrors ...orders.EventSink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		primary: primary,
		mirrors: mirrors,
		logger:  logger.With("component", "events"),
	}
}

// Append writes ev to the primary sink and then to every mirror.
func (f *Fanout) Append(ev journal.Event) error {
	err := f.primary.Append(ev)
	for _, m := range f.mirrors {
		if merr := m.Append(ev); merr != nil {
			f.logger.Warn("event mirror write failed", "event", string(ev.Event), "err", merr)
		}
	}
	return err
}

var _ orders.EventSink = (*Fanout)(nil)
