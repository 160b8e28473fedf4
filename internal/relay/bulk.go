package relay

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/roach88/gunrelay/internal/bus"
	"github.com/roach88/gunrelay/internal/graph"
	"github.com/roach88/gunrelay/internal/schema"
	"github.com/roach88/gunrelay/internal/store"
)

// DefaultUploadTimeout is how long an upload waits for its ack.
const DefaultUploadTimeout = 10 * time.Millisecond

// Bulk runs uploads and searches over every stored thing.
type Bulk struct {
	store   store.Store
	scanner store.Scanner
	bus     bus.Bus
	ids     IDGenerator
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// BulkOption configures a Bulk.
type BulkOption func(*Bulk)

// WithUploadTimeout sets how long UploadOne waits for an ack. Zero waits
// until the ack arrives or the caller's context ends.
func WithUploadTimeout(d time.Duration) BulkOption {
	return func(b *Bulk) {
		b.timeout = d
	}
}

// WithIDGenerator sets the message id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) BulkOption {
	return func(b *Bulk) {
		b.ids = g
	}
}

// WithBulkLogger sets the logger. Default: slog.Default().
func WithBulkLogger(l *slog.Logger) BulkOption {
	return func(b *Bulk) {
		b.logger = l
	}
}

// WithBulkMetrics records upload outcomes on m.
func WithBulkMetrics(m *Metrics) BulkOption {
	return func(b *Bulk) {
		b.metrics = m
	}
}

// NewBulk creates bulk operations reading st and sc, uploading over b.
func NewBulk(st store.Store, sc store.Scanner, b bus.Bus, opts ...BulkOption) *Bulk {
	bk := &Bulk{
		store:   st,
		scanner: sc,
		bus:     b,
		ids:     UUIDv7Generator{},
		timeout: DefaultUploadTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(bk)
	}
	return bk
}

// loadThing reads a thing's root and data nodes. Missing pieces return
// ok=false with a nil error.
func (b *Bulk) loadThing(ctx context.Context, thingID string) (root, data *graph.Node, ok bool, err error) {
	rootSoul, valid := schema.ThingSoul(thingID)
	if !valid {
		return nil, nil, false, nil
	}
	root, err = b.store.Read(ctx, rootSoul)
	if err != nil || root == nil {
		return nil, nil, false, err
	}
	root.Soul = rootSoul
	dataSoul, linked := root.LinkSoul("data")
	if !linked {
		return nil, nil, false, nil
	}
	data, err = b.store.Read(ctx, dataSoul)
	if err != nil || data == nil {
		return nil, nil, false, err
	}
	data.Soul = dataSoul
	return root, data, true, nil
}

// UploadOne publishes a thing's root and data nodes as one put on gun/put
// and waits on gun/@id. A thing missing its root, data link or data node
// resolves at once as UploadSkipped without publishing.
func (b *Bulk) UploadOne(ctx context.Context, thingID string) *Future {
	root, data, ok, err := b.loadThing(ctx, thingID)
	if err != nil {
		return resolvedFuture(UploadResult{ThingID: thingID}, fmt.Errorf("upload %s: %w", thingID, err))
	}
	if !ok {
		b.metrics.upload(UploadSkipped.String())
		return resolvedFuture(UploadResult{ThingID: thingID, Outcome: UploadSkipped}, nil)
	}

	id := b.ids.Generate()
	f := newFuture(thingID)

	off, err := b.bus.Subscribe(bus.ReplyChannel(id), func(ack graph.Message) {
		if f.resolve(UploadResult{ThingID: thingID, Outcome: UploadAcked, Ack: ack}, nil) {
			b.metrics.upload(UploadAcked.String())
			b.logger.Info("uploaded", "thing", thingID, "id", id)
		}
	})
	if err != nil {
		return resolvedFuture(UploadResult{ThingID: thingID}, fmt.Errorf("upload %s: %w", thingID, err))
	}
	f.onResolve(off)

	if b.timeout > 0 {
		timer := time.AfterFunc(b.timeout, func() {
			if f.resolve(UploadResult{ThingID: thingID, Outcome: UploadTimedOut}, nil) {
				b.metrics.upload(UploadTimedOut.String())
				b.logger.Debug("upload ack timed out", "thing", thingID, "id", id)
			}
		})
		f.onResolve(func() { timer.Stop() })
	}
	stop := context.AfterFunc(ctx, func() {
		f.resolve(UploadResult{ThingID: thingID}, ctx.Err())
	})
	f.onResolve(func() { stop() })

	msg := graph.Message{ID: id, Put: graph.Data{root.Soul: root, data.Soul: data}}
	if err := b.bus.Publish(ctx, bus.ChannelPut, msg); err != nil {
		f.resolve(UploadResult{ThingID: thingID}, fmt.Errorf("upload %s: %w", thingID, err))
	}
	return f
}

// UploadStats summarises an UploadAll run.
type UploadStats struct {
	// Visited counts raw souls the scan walked.
	Visited int

	Acked    int
	TimedOut int
	Skipped  int
	Failed   int
}

// Published counts things that were sent.
func (s UploadStats) Published() int {
	return s.Acked + s.TimedOut
}

// UploadAll uploads every thing in key order, one at a time: the next
// upload starts only after the previous one resolved. A failed upload is
// logged and the walk continues; cancelling ctx stops it.
func (b *Bulk) UploadAll(ctx context.Context) (UploadStats, error) {
	var stats UploadStats
	visited, err := b.scanner.EachThingIDSeq(ctx, func(ctx context.Context, thingID string) error {
		res, err := b.UploadOne(ctx, thingID).Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Failed++
			b.logger.Error("upload failed", "thing", thingID, "error", err)
			return nil
		}
		switch res.Outcome {
		case UploadAcked:
			stats.Acked++
		case UploadTimedOut:
			stats.TimedOut++
		case UploadSkipped:
			stats.Skipped++
		}
		return nil
	})
	stats.Visited = visited
	return stats, err
}

// Match is one thing whose title or body matched a scan.
type Match struct {
	ThingID string `json:"thing_id"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

// Scan reports every thing whose title or body matches pattern,
// case-insensitively, in key order. It never writes.
func (b *Bulk) Scan(ctx context.Context, pattern string) ([]Match, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	var matches []Match
	var readErr error
	_, err = b.scanner.EachThingID(ctx, func(thingID string) {
		_, data, ok, err := b.loadThing(ctx, thingID)
		if err != nil {
			if readErr == nil {
				readErr = fmt.Errorf("scan %s: %w", thingID, err)
			}
			return
		}
		if !ok {
			return
		}
		title, body := data.Text("title"), data.Text("body")
		if re.MatchString(body) || re.MatchString(title) {
			b.logger.Info("thing matches", "thing", thingID, "title", title)
			matches = append(matches, Match{ThingID: thingID, Title: title, Body: body})
		}
	})
	if err != nil {
		return matches, err
	}
	return matches, readErr
}
