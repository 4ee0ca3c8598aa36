package types

import "time"

// Period is the bucket size requested from the long-term statistics store.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// Bucket is one long-term statistics row. Sum is the running total of the
// statistic at the end of the bucket.
type Bucket struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Sum   float64   `json:"sum"`
	State float64   `json:"state"`
}

// Statistics maps a statistic id to its buckets in ascending start order.
type Statistics map[string][]Bucket

// Selection is the time range picked by the user. A zero Selection means no
// range has been picked yet.
type Selection struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero returns true if no range has been selected.
func (s Selection) IsZero() bool {
	return s.Start.IsZero() && s.End.IsZero()
}
