package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/log"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

const (
	attrState = "state"
	attrUnit  = "unit_of_measurement"
)

// StatestreamFeed follows entity states published by the Home Assistant
// mqtt_statestream integration. State and unit arrive on separate topics so
// the feed merges them per entity before forwarding.
type StatestreamFeed struct {
	broker   string
	prefix   string
	username string
	password string
	clientID string

	states *States
}

// NewStatestreamFeed returns a feed subscribing below prefix on broker.
func NewStatestreamFeed(broker, prefix, username, password, clientID string) *StatestreamFeed {
	return &StatestreamFeed{
		broker:   broker,
		prefix:   strings.TrimSuffix(prefix, "/"),
		username: username,
		password: password,
		clientID: clientID,
		states:   NewStates(),
	}
}

// ConfiguredStatestream sets up the feed based on flags. The feed is disabled
// when no broker is set.
func ConfiguredStatestream() *StatestreamFeed {
	broker := lflag.String("mqtt-broker", "", "MQTT broker (host or tcp://host:port) carrying the Home Assistant statestream, empty to disable")
	prefix := lflag.String("mqtt-prefix", "homeassistant", "Base topic of the Home Assistant statestream")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	clientID := lflag.String("mqtt-client-id", "electricity-flow-card", "MQTT client id")

	f := &StatestreamFeed{states: NewStates()}
	lflag.Do(func() {
		*f = *NewStatestreamFeed(*broker, *prefix, *username, *password, *clientID)
	})
	return f
}

// Enabled returns true if a broker was configured.
func (f *StatestreamFeed) Enabled() bool {
	return f != nil && f.broker != ""
}

func (f *StatestreamFeed) brokerURL() string {
	if strings.Contains(f.broker, "://") {
		return f.broker
	}
	return fmt.Sprintf("tcp://%s:1883", f.broker)
}

func (f *StatestreamFeed) topics() []string {
	return []string{
		f.prefix + "/+/+/" + attrState,
		f.prefix + "/+/+/" + attrUnit,
	}
}

// Run connects to the broker and forwards merged states to sink until ctx is
// done. The client reconnects on its own after a lost connection.
func (f *StatestreamFeed) Run(ctx context.Context, sink Sink) error {
	ctx = log.Component(ctx, "statestream")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(f.brokerURL())
	opts.SetClientID(f.clientID)
	opts.SetUsername(f.username)
	opts.SetPassword(f.password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Ctx(ctx).WarnContext(ctx, "mqtt connection lost", slog.Any("error", err))
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Ctx(ctx).InfoContext(ctx, "connected to mqtt broker", slog.String("broker", f.broker))
		for _, topic := range f.topics() {
			token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
				f.onMessage(sink, msg)
			})
			if token.Wait() && token.Error() != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to subscribe", slog.String("topic", topic), slog.Any("error", token.Error()))
			} else {
				log.Ctx(ctx).DebugContext(ctx, "subscribed", slog.String("topic", topic))
			}
		}
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker %s: %w", f.broker, token.Error())
	}

	<-ctx.Done()
	client.Disconnect(250)
	return nil
}

func (f *StatestreamFeed) onMessage(sink Sink, msg mqtt.Message) {
	id, st, ok := f.apply(msg.Topic(), msg.Payload())
	if !ok {
		return
	}
	sink.UpdateState(id, st)
}

// apply merges a statestream message into the entity's known state. It
// returns false for topics that are not an entity state or unit.
func (f *StatestreamFeed) apply(topic string, payload []byte) (string, types.State, bool) {
	rest, ok := strings.CutPrefix(topic, f.prefix+"/")
	if !ok {
		return "", types.State{}, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", types.State{}, false
	}
	id := parts[0] + "." + parts[1]

	st, _ := f.states.State(id)
	switch parts[2] {
	case attrState:
		st.Value = strings.TrimSpace(string(payload))
	case attrUnit:
		// attributes are published JSON encoded
		var unit string
		if err := json.Unmarshal(payload, &unit); err != nil {
			unit = strings.TrimSpace(string(payload))
		}
		st.Unit = unit
	default:
		return "", types.State{}, false
	}
	f.states.UpdateState(id, st)
	return id, st, true
}
