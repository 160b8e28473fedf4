package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/gunrelay/internal/bus"
	"github.com/roach88/gunrelay/internal/graph"
)

// Publisher fans committed diffs out to the audit channel and the
// per-soul node channels.
type Publisher struct {
	bus     bus.Bus
	logger  *slog.Logger
	metrics *Metrics
}

// NewPublisher creates a publisher on b. logger and metrics may be nil.
func NewPublisher(b bus.Bus, logger *slog.Logger, metrics *Metrics) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{bus: b, logger: logger, metrics: metrics}
}

// Publish sends msg on channel and counts it.
func (p *Publisher) Publish(ctx context.Context, channel string, msg graph.Message) error {
	if err := p.bus.Publish(ctx, channel, msg); err != nil {
		return err
	}
	p.metrics.publication(bus.Family(channel))
	return nil
}

// PublishDiff publishes a committed diff {"#": id, "put": diff}.
//
// The diff always goes to gun/put/diff first. A single-soul diff is then
// republished unchanged on that soul's node channel; a multi-soul diff is
// split into one {"#": id/soul} message per soul. Souls with a nil or
// empty delta are skipped. Every publication is attempted; failures are
// joined.
func (p *Publisher) PublishDiff(ctx context.Context, diff graph.Message) error {
	if diff.Put.Empty() {
		return nil
	}

	var errs []error
	if err := p.Publish(ctx, bus.ChannelPutDiff, diff); err != nil {
		errs = append(errs, fmt.Errorf("publish diff %s: %w", diff.ID, err))
	}

	souls := diff.Put.Souls()
	if len(souls) == 1 {
		soul := souls[0]
		if !diff.Put[soul].Empty() {
			if err := p.Publish(ctx, bus.NodeChannel(soul), diff); err != nil {
				errs = append(errs, fmt.Errorf("publish node %s: %w", soul, err))
			}
		}
		return errors.Join(errs...)
	}

	for _, soul := range souls {
		delta := diff.Put[soul]
		if delta.Empty() {
			continue
		}
		msg := graph.Message{
			ID:  diff.ID + "/" + soul,
			Put: graph.Data{soul: delta},
		}
		if err := p.Publish(ctx, bus.NodeChannel(soul), msg); err != nil {
			errs = append(errs, fmt.Errorf("publish node %s: %w", soul, err))
		}
	}
	return errors.Join(errs...)
}
