package hass

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

// Message types of the Home Assistant websocket API.
const (
	typeAuthRequired = "auth_required"
	typeAuth         = "auth"
	typeAuthOK       = "auth_ok"
	typeAuthInvalid  = "auth_invalid"
	typeResult       = "result"
	typeEvent        = "event"

	typeGetStates       = "get_states"
	typeSubscribeEvents = "subscribe_events"
	typeStatistics      = "recorder/statistics_during_period"

	eventStateChanged = "state_changed"
)

// stateUnavailable is what Home Assistant reports for entities that dropped
// out. Removed entities are reported the same way.
const stateUnavailable = "unavailable"

type message struct {
	ID        int             `json:"id,omitempty"`
	Type      string          `json:"type"`
	Success   bool            `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
	Error     *Error          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
	HAVersion string          `json:"ha_version,omitempty"`
}

// Error is a failed command result returned by Home Assistant.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("home assistant error %s: %s", e.Code, e.Message)
}

type entityState struct {
	EntityID   string `json:"entity_id"`
	State      string `json:"state"`
	Attributes struct {
		UnitOfMeasurement string `json:"unit_of_measurement"`
	} `json:"attributes"`
}

func (e entityState) toState() types.State {
	return types.State{Value: e.State, Unit: e.Attributes.UnitOfMeasurement}
}

func toStates(entities []entityState) types.States {
	out := make(types.States, len(entities))
	for _, e := range entities {
		if e.EntityID == "" {
			continue
		}
		out[e.EntityID] = e.toState()
	}
	return out
}

type stateChangedEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string       `json:"entity_id"`
		NewState *entityState `json:"new_state"`
	} `json:"data"`
}

// statisticRow is one row of a recorder/statistics_during_period result.
// Sum is null for statistics without a running total.
type statisticRow struct {
	Start haTime   `json:"start"`
	End   haTime   `json:"end"`
	Sum   *float64 `json:"sum"`
	State *float64 `json:"state"`
}

// haTime decodes the timestamps of statistics rows. Newer Home Assistant
// versions send milliseconds since the epoch, older ones ISO 8601 strings.
type haTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler
func (t *haTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid statistics time %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid statistics time %s: %w", b, err)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

func toStatistics(rows map[string][]statisticRow) types.Statistics {
	out := make(types.Statistics, len(rows))
	for id, rs := range rows {
		buckets := make([]types.Bucket, 0, len(rs))
		for _, r := range rs {
			if r.Sum == nil {
				continue
			}
			b := types.Bucket{Start: r.Start.Time, End: r.End.Time, Sum: *r.Sum}
			if r.State != nil {
				b.State = *r.State
			}
			buckets = append(buckets, b)
		}
		if len(buckets) > 0 {
			out[id] = buckets
		}
	}
	return out
}
