// Package stats batches long-term statistics lookups for all windowed node
// readings into a single request per time-range change.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/log"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/metrics"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

// DefaultTimeout bounds a single statistics request.
const DefaultTimeout = 10 * time.Second

// Source provides long-term statistics buckets.
type Source interface {
	StatisticsDuringPeriod(ctx context.Context, start, end time.Time, period types.Period, ids []string) (types.Statistics, error)
}

// Value is the accumulated change of one statistic over the selection.
type Value struct {
	Delta     float64
	Available bool
}

// Result is delivered to a registration after each request.
type Result struct {
	Seq    uint64
	Values map[string]Value
}

// Get returns the value for id. Ids missing from the result are unavailable.
func (r Result) Get(id string) Value {
	return r.Values[id]
}

// Registration is a set of statistic ids whose values are delivered on a
// private channel. Only the newest undelivered result is kept.
type Registration struct {
	id  uint64
	ids []string
	ch  chan Result
}

// IDs returns the statistic ids of the registration.
func (r *Registration) IDs() []string {
	return r.ids
}

// C returns the channel results are delivered on.
func (r *Registration) C() <-chan Result {
	return r.ch
}

func (r *Registration) deliver(res Result) {
	// drop an unread older result so the newest always fits
	select {
	case <-r.ch:
	default:
	}
	r.ch <- res
}

// Request is a prepared batched request.
type Request struct {
	Seq    uint64
	Start  time.Time
	End    time.Time
	Period types.Period
	IDs    []string
}

// Response is the outcome of a Request.
type Response struct {
	Request
	Statistics types.Statistics
	Err        error
}

// Aggregator deduplicates statistic ids across registrations so that one
// request is issued per trigger.
type Aggregator struct {
	source  Source
	timeout time.Duration
	metrics *metrics.Registry

	mu     sync.Mutex
	regs   []*Registration
	nextID uint64
	seq    uint64
}

// NewAggregator returns an Aggregator fetching from source. A zero timeout
// uses DefaultTimeout.
func NewAggregator(source Source, timeout time.Duration, m *metrics.Registry) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Aggregator{
		source:  source,
		timeout: timeout,
		metrics: m,
	}
}

// Register adds a registration for ids.
func (a *Aggregator) Register(ids []string) *Registration {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	reg := &Registration{
		id:  a.nextID,
		ids: slices.Clone(ids),
		ch:  make(chan Result, 1),
	}
	a.regs = append(a.regs, reg)
	return reg
}

// Unregister removes reg. Removing an unknown registration is a no-op.
func (a *Aggregator) Unregister(reg *Registration) {
	if reg == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.regs = slices.DeleteFunc(a.regs, func(r *Registration) bool {
		return r.id == reg.id
	})
}

// Len returns the number of live registrations.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.regs)
}

// Prepare starts a new request generation for sel. It returns false when
// there is nothing to fetch: no selection or no registered ids. Any response
// of an earlier generation is stale afterwards.
func (a *Aggregator) Prepare(sel types.Selection) (Request, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	if sel.IsZero() {
		return Request{}, false
	}

	var ids []string
	seen := make(map[string]struct{})
	for _, reg := range a.regs {
		for _, id := range reg.ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return Request{}, false
	}

	start, end, period := Window(sel)
	return Request{
		Seq:    a.seq,
		Start:  start,
		End:    end,
		Period: period,
		IDs:    ids,
	}, true
}

// Fetch performs req against the source. It does not touch the aggregator
// state and may be called from any goroutine.
func (a *Aggregator) Fetch(ctx context.Context, req Request) Response {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	began := time.Now()
	stats, err := a.source.StatisticsDuringPeriod(ctx, req.Start, req.End, req.Period, req.IDs)
	status := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
		err = fmt.Errorf("statistics request timed out after %s: %w", a.timeout, err)
	case err != nil:
		status = "error"
		err = fmt.Errorf("failed to fetch statistics: %w", err)
	}
	a.metrics.RecordStatisticsRequest(status, len(req.IDs), time.Since(began))
	return Response{Request: req, Statistics: stats, Err: err}
}

// Deliver demultiplexes resp to every registration. It returns false if resp
// was stale and discarded. A failed response delivers unavailable values.
func (a *Aggregator) Deliver(ctx context.Context, resp Response) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if resp.Seq != a.seq {
		log.Ctx(ctx).DebugContext(ctx, "discarding stale statistics", slog.Uint64("seq", resp.Seq), slog.Uint64("latest", a.seq))
		a.metrics.RecordStaleResponse()
		return false
	}
	if resp.Err != nil {
		log.Ctx(ctx).WarnContext(ctx, "statistics unavailable", slog.Any("error", resp.Err))
	}

	for _, reg := range a.regs {
		values := make(map[string]Value, len(reg.ids))
		for _, id := range reg.ids {
			if resp.Err != nil {
				values[id] = Value{}
				continue
			}
			values[id] = delta(withBaseline(resp.Statistics[id], resp.Start))
		}
		reg.deliver(Result{Seq: resp.Seq, Values: values})
	}
	return true
}

// Trigger issues one batched request for sel and delivers the result to every
// registration before returning. It is the synchronous form of
// Prepare/Fetch/Deliver.
func (a *Aggregator) Trigger(ctx context.Context, sel types.Selection) error {
	req, ok := a.Prepare(sel)
	if !ok {
		return nil
	}
	resp := a.Fetch(ctx, req)
	a.Deliver(ctx, resp)
	return resp.Err
}
