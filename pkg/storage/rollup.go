package storage

import (
	"time"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

// Rollup merges ascending hourly buckets into buckets of period. A merged
// bucket spans its hours and carries the sum and state of the last one. Days
// and months are cut at midnight in loc, UTC when loc is nil.
func Rollup(buckets []types.Bucket, period types.Period, loc *time.Location) []types.Bucket {
	if period == types.PeriodHour || period == "" {
		return buckets
	}
	if loc == nil {
		loc = time.UTC
	}

	var out []types.Bucket
	var curStart time.Time
	for _, b := range buckets {
		start := periodStart(b.Start.In(loc), period)
		if len(out) == 0 || !start.Equal(curStart) {
			curStart = start
			out = append(out, types.Bucket{Start: start})
		}
		last := &out[len(out)-1]
		last.End = b.End
		last.Sum = b.Sum
		last.State = b.State
	}
	return out
}

func periodStart(t time.Time, period types.Period) time.Time {
	y, m, d := t.Date()
	switch period {
	case types.PeriodMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	}
}
