package server

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/miravalier/tabletop/pkg/protocol"
)

// Broadcaster fans messages out to connection groups. Members whose delivery
// fails are removed from the registry.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
}

// NewBroadcaster creates a broadcaster over registry
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// SetMetrics attaches metrics to the broadcaster
func (b *Broadcaster) SetMetrics(metrics *Metrics) {
	b.metrics = metrics
}

// Broadcast sends msg to every registered connection
func (b *Broadcaster) Broadcast(ctx context.Context, msg protocol.Message) int {
	return b.BroadcastTo(ctx, b.registry.Snapshot(), msg)
}

// BroadcastTo sends msg to every member of group concurrently and returns the
// number of successful deliveries. One failing member does not affect the rest.
func (b *Broadcaster) BroadcastTo(ctx context.Context, group []*Conn, msg protocol.Message) int {
	start := time.Now()

	data, err := msg.Encode()
	if err != nil {
		errorLog.Printf("Broadcast encode failed (type=%q): %v", msg.Type(), err)
		return 0
	}

	failed := make([]bool, len(group))
	skipped := make([]bool, len(group))

	var g errgroup.Group
	for i, c := range group {
		g.Go(func() error {
			if ctx.Err() != nil {
				skipped[i] = true
				return nil
			}
			if err := c.SendText(data); err != nil {
				debugLog.Printf("Conn %d: broadcast send failed (type=%q): %v", c.ID, msg.Type(), err)
				failed[i] = true
			}
			return nil
		})
	}
	g.Wait()

	delivered, failures := 0, 0
	for i, c := range group {
		switch {
		case failed[i]:
			failures++
			if !b.registry.Remove(c.ID) {
				c.Close()
			}
		case !skipped[i]:
			delivered++
		}
	}

	b.metrics.RecordBroadcast(delivered, failures, time.Since(start).Seconds())
	return delivered
}
