package hass

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingSink struct {
	mu      sync.Mutex
	updates []types.State
	ids     []string
}

func (s *recordingSink) SetStates(types.States) {}

func (s *recordingSink) UpdateState(id string, st types.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	s.updates = append(s.updates, st)
}

func TestStatestreamApply(t *testing.T) {
	f := NewStatestreamFeed("localhost", "homeassistant/", "", "", "test")

	id, st, ok := f.apply("homeassistant/sensor/grid_power/state", []byte("1.5"))
	assert.True(t, ok)
	assert.Equal(t, "sensor.grid_power", id)
	assert.Equal(t, types.State{Value: "1.5"}, st)

	id, st, ok = f.apply("homeassistant/sensor/grid_power/unit_of_measurement", []byte(`"kW"`))
	assert.True(t, ok)
	assert.Equal(t, "sensor.grid_power", id)
	assert.Equal(t, types.State{Value: "1.5", Unit: "kW"}, st)

	// plain payloads are accepted for units too
	_, st, ok = f.apply("homeassistant/sensor/grid_power/unit_of_measurement", []byte("W"))
	assert.True(t, ok)
	assert.Equal(t, "W", st.Unit)

	_, st, ok = f.apply("homeassistant/sensor/grid_power/state", []byte("unavailable"))
	assert.True(t, ok)
	assert.Equal(t, types.State{Value: "unavailable", Unit: "W"}, st)

	for _, topic := range []string{
		"homeassistant/sensor/grid_power/friendly_name",
		"other/sensor/grid_power/state",
		"homeassistant/sensor/state",
		"homeassistant//grid_power/state",
	} {
		_, _, ok = f.apply(topic, []byte("1"))
		assert.False(t, ok, topic)
	}
}

func TestStatestreamOnMessage(t *testing.T) {
	f := NewStatestreamFeed("localhost", "hass", "", "", "test")
	sink := &recordingSink{}

	f.onMessage(sink, fakeMessage{topic: "hass/sensor/solar/unit_of_measurement", payload: []byte(`"W"`)})
	f.onMessage(sink, fakeMessage{topic: "hass/sensor/solar/state", payload: []byte(" 420 ")})
	f.onMessage(sink, fakeMessage{topic: "hass/sensor/solar/icon", payload: []byte(`"mdi:sun"`)})

	assert.Equal(t, []string{"sensor.solar", "sensor.solar"}, sink.ids)
	assert.Equal(t, []types.State{{Unit: "W"}, {Value: "420", Unit: "W"}}, sink.updates)
}

func TestStatestreamConfig(t *testing.T) {
	assert.False(t, (*StatestreamFeed)(nil).Enabled())
	assert.False(t, NewStatestreamFeed("", "hass", "", "", "").Enabled())

	f := NewStatestreamFeed("mqtt.local", "hass", "", "", "")
	assert.True(t, f.Enabled())
	assert.Equal(t, "tcp://mqtt.local:1883", f.brokerURL())
	assert.Equal(t, []string{"hass/+/+/state", "hass/+/+/unit_of_measurement"}, f.topics())

	f = NewStatestreamFeed("ssl://mqtt.local:8883", "hass", "", "", "")
	assert.Equal(t, "ssl://mqtt.local:8883", f.brokerURL())
}

func TestStatesStore(t *testing.T) {
	s := NewStates()
	in := types.States{"sensor.a": {Value: "1", Unit: "W"}}
	s.SetStates(in)
	in["sensor.b"] = types.State{Value: "2"}
	assert.Equal(t, 1, s.Len(), "SetStates must copy its input")

	s.UpdateState("sensor.c", types.State{Value: "3"})
	st, ok := s.State("sensor.c")
	assert.True(t, ok)
	assert.Equal(t, "3", st.Value)

	snap := s.Snapshot()
	snap["sensor.d"] = types.State{}
	_, ok = s.State("sensor.d")
	assert.False(t, ok)
}
