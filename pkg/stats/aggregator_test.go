package stats_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/metrics"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/stats"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/storage/storagemock"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

var (
	selStart  = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	selection = types.Selection{Start: selStart, End: selStart.Add(24 * time.Hour)}
)

func receive(t *testing.T, reg *stats.Registration) stats.Result {
	t.Helper()
	select {
	case res := <-reg.C():
		return res
	default:
		require.FailNow(t, "no result delivered")
		return stats.Result{}
	}
}

func TestAggregatorBatches(t *testing.T) {
	ctx := context.Background()
	db := &storagemock.MockDatabase{}
	agg := stats.NewAggregator(db, time.Second, nil)

	regA := agg.Register([]string{"A", "B"})
	regB := agg.Register([]string{"B", "C"})

	padded := selStart.Add(-time.Hour)
	db.On("StatisticsDuringPeriod", mock.Anything, padded, selection.End, types.PeriodHour, []string{"A", "B", "C"}).Return(types.Statistics{
		"A": {{Start: padded, Sum: 100}, {Start: padded.Add(time.Hour), Sum: 130}},
		"B": {{Start: padded, Sum: 5}, {Start: padded.Add(5 * time.Hour), Sum: 7}},
		"C": {{Start: padded, Sum: 1}, {Start: padded.Add(time.Hour), Sum: 1}},
	}, nil).Once()

	require.NoError(t, agg.Trigger(ctx, selection))
	db.AssertNumberOfCalls(t, "StatisticsDuringPeriod", 1)

	resA := receive(t, regA)
	assert.Len(t, resA.Values, 2)
	assert.Equal(t, stats.Value{Delta: 30, Available: true}, resA.Get("A"))
	assert.Equal(t, stats.Value{Delta: 2, Available: true}, resA.Get("B"))
	_, hasC := resA.Values["C"]
	assert.False(t, hasC, "registration must only see its own ids")

	resB := receive(t, regB)
	assert.Len(t, resB.Values, 2)
	assert.Equal(t, stats.Value{Delta: 2, Available: true}, resB.Get("B"))
	assert.Equal(t, stats.Value{Delta: 0, Available: true}, resB.Get("C"))
	db.AssertExpectations(t)
}

func TestAggregatorBaseline(t *testing.T) {
	ctx := context.Background()
	db := &storagemock.MockDatabase{}
	agg := stats.NewAggregator(db, time.Second, nil)
	reg := agg.Register([]string{"A"})

	padded := selStart.Add(-time.Hour)
	// the first bucket starts after the padded start so a baseline with its
	// sum is synthesized and the delta runs from that sum
	db.On("StatisticsDuringPeriod", mock.Anything, padded, selection.End, types.PeriodHour, []string{"A"}).Return(types.Statistics{
		"A": {{Start: selStart.Add(2 * time.Hour), Sum: 50}, {Start: selStart.Add(3 * time.Hour), Sum: 80}},
	}, nil).Once()

	require.NoError(t, agg.Trigger(ctx, selection))
	assert.Equal(t, stats.Value{Delta: 30, Available: true}, receive(t, reg).Get("A"))
}

func TestAggregatorMissingData(t *testing.T) {
	ctx := context.Background()
	db := &storagemock.MockDatabase{}
	agg := stats.NewAggregator(db, time.Second, nil)
	reg := agg.Register([]string{"A", "B"})

	db.On("StatisticsDuringPeriod", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(types.Statistics{
		"A": {{Start: selStart, Sum: 1}, {Start: selStart.Add(time.Hour), Sum: 3}},
	}, nil).Once()

	require.NoError(t, agg.Trigger(ctx, selection))
	res := receive(t, reg)
	assert.Equal(t, stats.Value{Delta: 2, Available: true}, res.Get("A"))
	assert.Equal(t, stats.Value{}, res.Get("B"))
}

func TestAggregatorNoRequest(t *testing.T) {
	ctx := context.Background()
	db := &storagemock.MockDatabase{}
	agg := stats.NewAggregator(db, time.Second, nil)

	t.Run("no registrations", func(t *testing.T) {
		require.NoError(t, agg.Trigger(ctx, selection))
	})

	t.Run("no selection", func(t *testing.T) {
		reg := agg.Register([]string{"A"})
		defer agg.Unregister(reg)
		require.NoError(t, agg.Trigger(ctx, types.Selection{}))
		select {
		case <-reg.C():
			assert.Fail(t, "nothing should be delivered without a selection")
		default:
		}
	})

	t.Run("empty id set", func(t *testing.T) {
		reg := agg.Register(nil)
		defer agg.Unregister(reg)
		require.NoError(t, agg.Trigger(ctx, selection))
	})

	db.AssertNotCalled(t, "StatisticsDuringPeriod", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAggregatorUnregister(t *testing.T) {
	ctx := context.Background()
	db := &storagemock.MockDatabase{}
	agg := stats.NewAggregator(db, time.Second, nil)

	stale := agg.Register([]string{"A"})
	fresh := agg.Register([]string{"B"})
	agg.Unregister(stale)
	agg.Unregister(stale)
	assert.Equal(t, 1, agg.Len())

	db.On("StatisticsDuringPeriod", mock.Anything, mock.Anything, mock.Anything, mock.Anything, []string{"B"}).Return(types.Statistics{}, nil).Once()
	require.NoError(t, agg.Trigger(ctx, selection))
	db.AssertExpectations(t)

	select {
	case <-stale.C():
		assert.Fail(t, "unregistered registration received a result")
	default:
	}
	assert.False(t, receive(t, fresh).Get("B").Available)
}

func TestAggregatorStale(t *testing.T) {
	ctx := context.Background()
	db := &storagemock.MockDatabase{}
	m := metrics.NewRegistry()
	agg := stats.NewAggregator(db, time.Second, m)
	reg := agg.Register([]string{"A"})

	first, ok := agg.Prepare(selection)
	require.True(t, ok)
	second, ok := agg.Prepare(types.Selection{Start: selStart, End: selStart.Add(10 * 24 * time.Hour)})
	require.True(t, ok)
	assert.Greater(t, second.Seq, first.Seq)
	assert.Equal(t, types.PeriodDay, second.Period)

	newer := stats.Response{Request: second, Statistics: types.Statistics{"A": {{Start: second.Start, Sum: 1}, {Start: second.Start.Add(time.Hour), Sum: 9}}}}
	older := stats.Response{Request: first, Statistics: types.Statistics{"A": {{Start: first.Start, Sum: 1}, {Start: first.Start.Add(time.Hour), Sum: 2}}}}

	assert.True(t, agg.Deliver(ctx, newer))
	assert.False(t, agg.Deliver(ctx, older), "older response must be discarded")

	res := receive(t, reg)
	assert.Equal(t, second.Seq, res.Seq)
	assert.Equal(t, 8.0, res.Get("A").Delta)
	assert.Equal(t, 1.0, testCounter(t, m, "flowcard_statistics_stale_responses_total"))
}

func TestAggregatorTimeout(t *testing.T) {
	ctx := context.Background()
	db := &storagemock.MockDatabase{}
	agg := stats.NewAggregator(db, 20*time.Millisecond, nil)
	reg := agg.Register([]string{"A", "B"})

	db.On("StatisticsDuringPeriod", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	err := agg.Trigger(ctx, selection)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	res := receive(t, reg)
	assert.False(t, res.Get("A").Available)
	assert.False(t, res.Get("B").Available)
}

func TestAggregatorSourceError(t *testing.T) {
	ctx := context.Background()
	db := &storagemock.MockDatabase{}
	agg := stats.NewAggregator(db, time.Second, nil)
	reg := agg.Register([]string{"A"})

	db.On("StatisticsDuringPeriod", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("recorder offline")).Once()

	err := agg.Trigger(ctx, selection)
	assert.ErrorContains(t, err, "recorder offline")
	assert.False(t, receive(t, reg).Get("A").Available)
}

func TestRegistrationKeepsNewest(t *testing.T) {
	ctx := context.Background()
	db := &storagemock.MockDatabase{}
	agg := stats.NewAggregator(db, time.Second, nil)
	reg := agg.Register([]string{"A"})

	db.On("StatisticsDuringPeriod", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(types.Statistics{}, nil).Twice()

	require.NoError(t, agg.Trigger(ctx, selection))
	require.NoError(t, agg.Trigger(ctx, selection))

	res := receive(t, reg)
	assert.Equal(t, uint64(2), res.Seq)
	select {
	case <-reg.C():
		assert.Fail(t, "only the newest result should be buffered")
	default:
	}
}

func testCounter(t *testing.T, m *metrics.Registry, name string) float64 {
	t.Helper()
	families, err := m.GetPrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}
