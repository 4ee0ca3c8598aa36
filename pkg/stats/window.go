package stats

import (
	"time"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

const (
	// leadIn pads the start of every request so a baseline bucket can be
	// found for the first hour of the range.
	leadIn = time.Hour

	monthPeriodAfterDays = 35
	dayPeriodAfterDays   = 2
)

// Window returns the request bounds and bucket period for a selection.
// Days are counted as whole days between start and end.
func Window(sel types.Selection) (start, end time.Time, period types.Period) {
	days := int(sel.End.Sub(sel.Start) / (24 * time.Hour))
	switch {
	case days > monthPeriodAfterDays:
		period = types.PeriodMonth
	case days > dayPeriodAfterDays:
		period = types.PeriodDay
	default:
		period = types.PeriodHour
	}
	return sel.Start.Add(-leadIn), sel.End, period
}

// withBaseline prepends a synthetic bucket at start when the first bucket
// begins later, so the delta also covers the gap before the first bucket.
func withBaseline(buckets []types.Bucket, start time.Time) []types.Bucket {
	if len(buckets) == 0 || !buckets[0].Start.After(start) {
		return buckets
	}
	out := make([]types.Bucket, 0, len(buckets)+1)
	out = append(out, types.Bucket{
		Start: start,
		End:   start,
		Sum:   buckets[0].Sum,
		State: 0,
	})
	return append(out, buckets...)
}

// delta returns the change of the running sum across buckets.
func delta(buckets []types.Bucket) Value {
	if len(buckets) == 0 {
		return Value{}
	}
	return Value{
		Delta:     buckets[len(buckets)-1].Sum - buckets[0].Sum,
		Available: true,
	}
}
