// Package card runs the flow graph of one card. A single goroutine owns the
// topology, the entity states and the selection; everything else posts
// events to it.
package card

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/config"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/graph"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/hass"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/log"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/metrics"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/stats"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/storage"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

var (
	// ErrStopped is returned for events posted after Run returned.
	ErrStopped = errors.New("card is not running")
	// ErrInvalidSelection is returned for a time range ending before it
	// starts or missing its start.
	ErrInvalidSelection = errors.New("invalid selection")
)

// eventBuffer is how many events may queue before posting blocks.
const eventBuffer = 256

// refreshDelay coalesces bursts of state changes into one statistics
// request.
const refreshDelay = 2 * time.Second

// watchBuffer is how many changes a watcher may fall behind before changes
// are dropped for it.
const watchBuffer = 64

type event func(ctx context.Context)

// Change is sent to watchers after a node was recomputed.
type Change struct {
	Cause string
	Node  types.NodeView
}

// Card is the runtime of one electricity flow card.
type Card struct {
	aggregator *stats.Aggregator
	metrics    *metrics.Registry
	configPath string
	now        func() time.Time

	// refreshDelay is how long state changes are collected before windowed
	// readings are requested again
	refreshDelay time.Duration

	events    chan event
	done      chan struct{}
	closeDone sync.Once

	// owned by the loop
	topo        *graph.Topology
	unsubscribe func()
	states      types.States
	selection   types.Selection
	cause       string
	watchers    map[int]chan Change
	nextWatcher int
	refreshing  bool
}

// New returns a Card fetching windowed readings from source. Run must be
// called before any other method returns.
func New(source stats.Source, timeout time.Duration, m *metrics.Registry) *Card {
	return &Card{
		aggregator:   stats.NewAggregator(source, timeout, m),
		metrics:      m,
		now:          time.Now,
		refreshDelay: refreshDelay,
		events:       make(chan event, eventBuffer),
		done:         make(chan struct{}),
		states:       make(types.States),
		watchers:     make(map[int]chan Change),
	}
}

// Configured sets up the Card based on flags. Statistics come from Home
// Assistant or, when selected, from the storage provider.
func Configured(hc *hass.Client, sp *storage.Provider, m *metrics.Registry) *Card {
	configPath := lflag.String("card-config", "", "Path to the YAML card config")
	provider := lflag.String("statistics-provider", "hass", "Source of long-term statistics (available: hass, storage)")
	timeout := lflag.Duration("stats-timeout", stats.DefaultTimeout, "Timeout for a batched statistics request")

	c := New(nil, 0, m)
	lflag.Do(func() {
		var source stats.Source
		switch *provider {
		case "hass":
			if !hc.Enabled() {
				panic("statistics-provider hass requires a home assistant token")
			}
			source = hc
		case "storage":
			if !sp.Enabled() {
				panic("statistics-provider storage requires storage-provider to be set")
			}
			source = sp.Database
		default:
			panic(fmt.Sprintf("unknown statistics provider: %s", *provider))
		}
		c.aggregator = stats.NewAggregator(source, *timeout, m)
		c.configPath = *configPath
	})
	return c
}

// Run processes events until ctx is done. The card config given by flag is
// loaded first.
func (c *Card) Run(ctx context.Context) error {
	ctx = log.Component(ctx, "card")
	defer c.closeDone.Do(func() { close(c.done) })

	if c.configPath != "" {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return err
		}
		topo, err := graph.New(cfg)
		if err != nil {
			return fmt.Errorf("invalid card config %s: %w", c.configPath, err)
		}
		c.applyConfig(ctx, topo)
	}

	for {
		select {
		case <-ctx.Done():
			if c.topo != nil {
				c.topo.Detach(c.aggregator)
			}
			for id, ch := range c.watchers {
				close(ch)
				delete(c.watchers, id)
			}
			return nil
		case ev := <-c.events:
			ev(ctx)
		}
	}
}

func (c *Card) post(ctx context.Context, ev event) error {
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call posts ev and waits until the loop ran it.
func (c *Card) call(ctx context.Context, ev event) error {
	ran := make(chan struct{})
	err := c.post(ctx, func(ctx context.Context) {
		defer close(ran)
		ev(ctx)
	})
	if err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetConfig replaces the topology. The previous windowed registrations are
// removed before the new ones are made and a new statistics request is
// issued for the current selection.
func (c *Card) SetConfig(ctx context.Context, cfg types.CardConfig) error {
	cfg, err := config.Normalize(cfg)
	if err != nil {
		return err
	}
	topo, err := graph.New(cfg)
	if err != nil {
		return err
	}
	return c.call(ctx, func(ctx context.Context) {
		c.applyConfig(ctx, topo)
	})
}

func (c *Card) applyConfig(ctx context.Context, topo *graph.Topology) {
	if c.topo != nil {
		c.topo.Detach(c.aggregator)
		c.unsubscribe()
	}
	c.topo = topo
	c.unsubscribe = topo.Subscribe(c.onNodeChange)
	topo.Attach(c.aggregator)
	c.metrics.SetSubHomes(len(topo.SubHomes()))

	c.recompute("config")
	c.trigger(ctx)
	log.Ctx(ctx).InfoContext(ctx, "card config applied", slog.Int("subHomes", len(topo.SubHomes())), slog.Int("windowedEntities", len(topo.WindowedIDs())))
}

// SetStates replaces every entity state.
func (c *Card) SetStates(ctx context.Context, states types.States) error {
	states = states.Clone()
	return c.post(ctx, func(ctx context.Context) {
		c.states = states
		c.recompute("states")
		c.scheduleRefresh(ctx)
	})
}

// UpdateState sets the state of one entity.
func (c *Card) UpdateState(ctx context.Context, id string, st types.State) error {
	return c.post(ctx, func(ctx context.Context) {
		if cur, ok := c.states[id]; ok && cur == st {
			return
		}
		c.states[id] = st
		c.recompute("state")
		c.scheduleRefresh(ctx)
	})
}

// SetSelection sets the time range of windowed readings and requests their
// statistics.
func (c *Card) SetSelection(ctx context.Context, sel types.Selection) error {
	if !sel.IsZero() && (sel.Start.IsZero() || sel.End.Before(sel.Start)) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidSelection, sel.Start.Format(time.RFC3339), sel.End.Format(time.RFC3339))
	}
	return c.call(ctx, func(ctx context.Context) {
		c.selection = sel
		c.trigger(ctx)
	})
}

// Selection returns the current time range.
func (c *Card) Selection(ctx context.Context) (types.Selection, error) {
	var sel types.Selection
	err := c.call(ctx, func(context.Context) {
		sel = c.selection
	})
	return sel, err
}

// trigger starts one batched statistics request. The fetch runs on its own
// goroutine and its response is delivered back on the loop, where responses
// of older requests are discarded.
func (c *Card) trigger(ctx context.Context) {
	req, ok := c.aggregator.Prepare(c.selection)
	if !ok {
		return
	}
	go func() {
		resp := c.aggregator.Fetch(ctx, req)
		err := c.post(ctx, func(ctx context.Context) {
			if !c.aggregator.Deliver(ctx, resp) || c.topo == nil {
				return
			}
			c.cause = "statistics"
			if c.topo.PollStatistics() {
				c.metrics.RecordGraphUpdate("statistics")
			}
		})
		if err != nil {
			log.Ctx(ctx).DebugContext(ctx, "dropping statistics response", slog.Any("error", err))
		}
	}()
}

// scheduleRefresh requests windowed readings again once refreshDelay passed
// since the first state change of a burst. Later changes of the same burst
// ride along with that request.
func (c *Card) scheduleRefresh(ctx context.Context) {
	if c.refreshing || c.topo == nil || c.selection.IsZero() || len(c.topo.WindowedIDs()) == 0 {
		return
	}
	c.refreshing = true
	time.AfterFunc(c.refreshDelay, func() {
		err := c.post(ctx, func(ctx context.Context) {
			c.refreshing = false
			c.trigger(ctx)
		})
		if err != nil {
			log.Ctx(ctx).DebugContext(ctx, "dropping statistics refresh", slog.Any("error", err))
		}
	})
}

func (c *Card) recompute(cause string) {
	if c.topo == nil {
		return
	}
	c.cause = cause
	c.topo.Update(c.states)
	c.metrics.RecordGraphUpdate(cause)
}

func (c *Card) onNodeChange(n *graph.Node) {
	if len(c.watchers) == 0 {
		return
	}
	change := Change{Cause: c.cause, Node: c.view(n)}
	for _, ch := range c.watchers {
		select {
		case ch <- change:
		default:
		}
	}
}

// Watch returns a channel receiving every node change until cancel is called
// or the card stops. Changes are dropped while the channel is full.
func (c *Card) Watch(ctx context.Context) (<-chan Change, func(), error) {
	ch := make(chan Change, watchBuffer)
	var id int
	err := c.call(ctx, func(context.Context) {
		id = c.nextWatcher
		c.nextWatcher++
		c.watchers[id] = ch
	})
	if err != nil {
		return nil, nil, err
	}
	cancel := func() {
		// ignore errors, a stopped card already closed the channel
		c.post(context.Background(), func(context.Context) {
			if _, ok := c.watchers[id]; ok {
				close(ch)
				delete(c.watchers, id)
			}
		})
	}
	return ch, cancel, nil
}

// Sink returns a hass.Sink posting into the card. source labels the state
// event metrics.
func (c *Card) Sink(ctx context.Context, source string) hass.Sink {
	return &sink{ctx: ctx, card: c, source: source}
}

type sink struct {
	ctx    context.Context
	card   *Card
	source string
}

func (s *sink) SetStates(states types.States) {
	s.card.metrics.RecordStateEvent(s.source)
	if err := s.card.SetStates(s.ctx, states); err != nil {
		log.Ctx(s.ctx).DebugContext(s.ctx, "dropping states", slog.String("source", s.source), slog.Any("error", err))
	}
}

func (s *sink) UpdateState(id string, st types.State) {
	s.card.metrics.RecordStateEvent(s.source)
	if err := s.card.UpdateState(s.ctx, id, st); err != nil {
		log.Ctx(s.ctx).DebugContext(s.ctx, "dropping state", slog.String("source", s.source), slog.String("entityID", id), slog.Any("error", err))
	}
}
