package modules

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/node"
)

const mqttDocument = `{
  "comms": [{"id": "broker", "type": "MqttComm", "broker": "10.0.0.2", "port": 1884, "username": "node", "password": "secret"}],
  "outputs": [
    {"id": "plug", "type": "MqttSwitch", "comm": "broker", "mqttTopic": "garden/plug"},
    {"id": "amp", "type": "MqttVolume", "comm": "broker", "mqttTopic": "lounge/amp"},
    {"id": "awning", "type": "MqttAwning", "comm": "broker", "mqttTopic": "patio/awning"}
  ],
  "inputs": [
    {"id": "remote", "type": "MqttInput", "comm": "broker", "mqttTopic": "garden/remote"},
    {"id": "bell", "type": "MqttButton", "comm": "broker", "mqttTopic": "door/bell", "doublePressDuration": 300}
  ]
}`

func TestMqttComm_BrokerConfig(t *testing.T) {
	defaults := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "workshop"},
		Auth:   config.MQTTAuthConfig{Username: "default", Password: "pw"},
		QoS:    1,
	}

	tests := []struct {
		name string
		frag mqttCommConfig
		want config.MQTTConfig
	}{
		{
			name: "defaults",
			frag: mqttCommConfig{Header: node.Header{ID: "m"}},
			want: config.MQTTConfig{
				Broker: config.MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "workshop-m"},
				Auth:   config.MQTTAuthConfig{Username: "default", Password: "pw"},
				QoS:    1,
			},
		},
		{
			name: "fragment overrides",
			frag: mqttCommConfig{Header: node.Header{ID: "m"}, Broker: "10.0.0.2", Port: 8883, Username: "u", Password: "p"},
			want: config.MQTTConfig{
				Broker: config.MQTTBrokerConfig{Host: "10.0.0.2", Port: 8883, ClientID: "workshop-m"},
				Auth:   config.MQTTAuthConfig{Username: "u", Password: "p"},
				QoS:    1,
			},
		},
	}
	for _, tt := range tests {
		if got := brokerConfig(defaults, tt.frag); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: brokerConfig() = %+v, want %+v", tt.name, got, tt.want)
		}
	}

	got := brokerConfig(config.MQTTConfig{}, mqttCommConfig{Header: node.Header{ID: "m"}, Broker: "b"})
	if got.Broker.Port != 1883 || got.Broker.ClientID != defaultClientID+"-m" {
		t.Errorf("brokerConfig() without defaults = %+v", got.Broker)
	}
}

func TestMqttComm_RequiresBroker(t *testing.T) {
	useFakeBroker(t)
	g, _, _ := newTestGraph(t)
	err := g.Apply([]byte(`{"comms": [{"id": "m", "type": "MqttComm"}]}`))
	if !errors.Is(err, node.ErrConfig) {
		t.Errorf("Apply() error = %v, want %v", err, node.ErrConfig)
	}
}

func TestMqttComm_ConnectFailure(t *testing.T) {
	orig := connectMQTT
	connectMQTT = func(config.MQTTConfig, ...mqtt.Option) (mqttClient, error) {
		return nil, errors.New("connection refused")
	}
	t.Cleanup(func() { connectMQTT = orig })

	g, _, _ := newTestGraph(t)
	err := g.Apply([]byte(`{"comms": [{"id": "m", "type": "MqttComm", "broker": "localhost"}]}`))
	if !errors.Is(err, node.ErrTransport) {
		t.Errorf("Apply() error = %v, want %v", err, node.ErrTransport)
	}
}

func TestMqttComm_SharedTopic(t *testing.T) {
	broker := useFakeBroker(t)
	g, _, _ := newTestGraph(t)
	mustApply(t, g, `{"comms": [{"id": "m", "type": "MqttComm", "broker": "localhost"}]}`)

	c, _ := g.Comm("m")
	comm := c.(*MqttComm)

	var first, second atomic.Int32
	t1, err := comm.Subscribe("stat/x", func([]byte) error { first.Add(1); return nil })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	t2, err := comm.Subscribe("stat/x", func([]byte) error { second.Add(1); return nil })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	broker.deliver("stat/x", "1")
	if first.Load() != 1 || second.Load() != 1 {
		t.Errorf("deliveries = %d, %d, want 1, 1", first.Load(), second.Load())
	}

	t1.Cancel()
	if !broker.subscribed("stat/x") {
		t.Error("broker subscription dropped while a subscriber remains")
	}
	broker.deliver("stat/x", "2")
	if first.Load() != 1 || second.Load() != 2 {
		t.Errorf("deliveries after cancel = %d, %d, want 1, 2", first.Load(), second.Load())
	}

	t2.Cancel()
	if broker.subscribed("stat/x") {
		t.Error("broker subscription kept after the last subscriber left")
	}
	if comm.Subscribers("stat/x") != 0 {
		t.Errorf("Subscribers() = %d, want 0", comm.Subscribers("stat/x"))
	}
}

func TestMqttComm_HealthAndClose(t *testing.T) {
	useFakeBroker(t)
	g, _, _ := newTestGraph(t)
	mustApply(t, g, `{"comms": [{"id": "m", "type": "MqttComm", "broker": "localhost"}]}`)

	c, _ := g.Comm("m")
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, node.ErrClosed) {
		t.Errorf("HealthCheck() after Close error = %v, want %v", err, node.ErrClosed)
	}
	if err := c.(*MqttComm).Publish("cmnd/x", "ON"); !errors.Is(err, node.ErrClosed) {
		t.Errorf("Publish() after Close error = %v, want %v", err, node.ErrClosed)
	}
}

func TestMqttInput_Messages(t *testing.T) {
	broker := useFakeBroker(t)
	g, _, _ := newTestGraph(t)
	mustApply(t, g, mqttDocument)

	if broker.cfg.Broker.Host != "10.0.0.2" || broker.cfg.Auth.Username != "node" {
		t.Errorf("connected with %+v", broker.cfg)
	}

	in, _ := g.Input("remote")
	steps := []struct {
		payload string
		want    int
	}{
		{"anything", 1},
		{"anything", 0},
		{"ON", 1},
		{"on", 1},
		{"OFF", 0},
		{"1", 1},
		{"", 0},
	}
	for _, s := range steps {
		broker.deliver("cmnd/garden/remote", s.payload)
		if in.Value() != s.want {
			t.Errorf("after %q Value() = %d, want %d", s.payload, in.Value(), s.want)
		}
	}
}

func TestMqttInput_CloseUnsubscribes(t *testing.T) {
	broker := useFakeBroker(t)
	g, _, _ := newTestGraph(t)
	mustApply(t, g, mqttDocument)

	if !broker.subscribed("cmnd/garden/remote") {
		t.Fatal("input did not subscribe to its command topic")
	}
	g.RemoveInput("remote")
	if broker.subscribed("cmnd/garden/remote") {
		t.Error("command topic still subscribed after removal")
	}
}

func TestMqttButton_DoublePress(t *testing.T) {
	broker := useFakeBroker(t)
	g, _, _ := newTestGraph(t)
	mustApply(t, g, mqttDocument)

	in, _ := g.Input("bell")
	btn := in.(Button)
	var doubles atomic.Int32
	tok := btn.OnDoublePress(func() { doubles.Add(1) })
	defer tok.Cancel()

	broker.deliver("cmnd/door/bell", "x")
	time.Sleep(50 * time.Millisecond)
	broker.deliver("cmnd/door/bell", "x")
	waitFor(t, "double press", func() bool { return doubles.Load() == 1 })

	if in.Value() != 0 {
		t.Errorf("Value() after two toggles = %d, want 0", in.Value())
	}
}

func TestMqttSwitch(t *testing.T) {
	broker := useFakeBroker(t)
	g, _, _ := newTestGraph(t)
	mustApply(t, g, mqttDocument)

	plug, _ := g.Output("plug")
	if err := plug.SetState(node.On); err != nil {
		t.Fatalf("SetState(On) error = %v", err)
	}
	if err := plug.SetValue(0); err != nil {
		t.Fatalf("SetValue(0) error = %v", err)
	}
	if err := plug.SetState(node.Toggle); err != nil {
		t.Fatalf("SetState(Toggle) error = %v", err)
	}
	want := []published{
		{"cmnd/garden/plug", "ON"},
		{"cmnd/garden/plug", "OFF"},
		{"cmnd/garden/plug", "ON"},
	}
	if got := broker.messages(); !reflect.DeepEqual(got, want) {
		t.Errorf("published %v, want %v", got, want)
	}
	if plug.Value() != 1 {
		t.Errorf("Value() = %d, want 1", plug.Value())
	}

	broker.deliver("stat/garden/plug", "OFF")
	if plug.Value() != 0 {
		t.Errorf("Value() after stat OFF = %d, want 0", plug.Value())
	}
	broker.deliver("stat/garden/plug", "bogus")
	if plug.Value() != 0 {
		t.Errorf("Value() after bogus stat = %d, want 0", plug.Value())
	}
}

func TestMqttVolume(t *testing.T) {
	broker := useFakeBroker(t)
	g, _, _ := newTestGraph(t)
	mustApply(t, g, mqttDocument)

	amp, _ := g.Output("amp")
	if err := amp.SetValue(150); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	if amp.Value() != 100 {
		t.Errorf("Value() = %d, want 100", amp.Value())
	}
	if got := broker.messages(); len(got) != 1 || got[0] != (published{"cmnd/lounge/amp", "100"}) {
		t.Errorf("published %v, want cmnd/lounge/amp 100", got)
	}

	tests := []struct {
		payload string
		want    int
	}{
		{"35", 35},
		{"off", 0},
		{"on", 100},
		{"-4", 0},
		{"50", 50},
		{"loud", 50},
	}
	for _, tt := range tests {
		broker.deliver("stat/lounge/amp", tt.payload)
		if amp.Value() != tt.want {
			t.Errorf("after stat %q Value() = %d, want %d", tt.payload, amp.Value(), tt.want)
		}
	}
}

func TestMqttVolume_CustomRange(t *testing.T) {
	useFakeBroker(t)
	g, _, _ := newTestGraph(t)
	mustApply(t, g, `{
	  "comms": [{"id": "m", "type": "MqttComm", "broker": "localhost"}],
	  "outputs": [{"id": "amp", "type": "MqttVolume", "comm": "m", "mqttTopic": "amp", "range_min": 10, "range_max": 60}]
	}`)

	amp, _ := g.Output("amp")
	if err := amp.SetState(node.On); err != nil {
		t.Fatalf("SetState(On) error = %v", err)
	}
	if amp.Value() != 60 {
		t.Errorf("Value() = %d, want 60", amp.Value())
	}
	raw, _ := json.Marshal(amp)
	var got map[string]any
	_ = json.Unmarshal(raw, &got)
	if got["range_min"] != 10.0 || got["range_max"] != 60.0 || got["mqttTopic"] != "amp" || got["comm"] != "m" {
		t.Errorf("MarshalJSON() = %s", raw)
	}
}

func TestMqttAwning(t *testing.T) {
	broker := useFakeBroker(t)
	g, _, _ := newTestGraph(t)
	mustApply(t, g, mqttDocument)

	out, _ := g.Output("awning")
	awning := out.(*MqttAwning)

	if err := awning.SetValue(60); err != nil {
		t.Fatalf("SetValue(60) error = %v", err)
	}
	if awning.Value() != 0 {
		t.Errorf("Value() = %d, want 0 until the device reports", awning.Value())
	}
	if target, moving := awning.Moving(); target != 60 || !moving {
		t.Errorf("Moving() = %d, %v, want 60, true", target, moving)
	}

	broker.deliver("stat/patio/awning", "30")
	broker.deliver("stat/patio/awning", "60")
	broker.deliver("stat/patio/awning", "60")
	if awning.Value() != 60 {
		t.Errorf("Value() = %d, want 60", awning.Value())
	}
	if _, moving := awning.Moving(); moving {
		t.Error("Moving() = true after reaching the target")
	}

	if err := awning.SetValue(60); err != nil {
		t.Fatalf("SetValue(60) at target error = %v", err)
	}
	if err := awning.SetState(node.Off); err != nil {
		t.Fatalf("SetState(Off) error = %v", err)
	}
	broker.deliver("stat/patio/awning", "0")

	want := []published{
		{"cmnd/patio/awning", AwningDown},
		{"cmnd/patio/awning", AwningStop},
		{"cmnd/patio/awning", AwningUp},
	}
	if got := broker.messages(); !reflect.DeepEqual(got, want) {
		t.Errorf("published %v, want %v", got, want)
	}
}

func TestMqttAwning_SteppedPositions(t *testing.T) {
	tests := []struct {
		name      string
		start     []string
		target    int
		positions []string
		wantMove  string
		wantValue int
	}{
		{"lowering past target", nil, 42, []string{"40", "45", "50"}, AwningDown, 50},
		{"raising past target", []string{"80"}, 33, []string{"60", "40", "30"}, AwningUp, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := useFakeBroker(t)
			g, _, _ := newTestGraph(t)
			mustApply(t, g, mqttDocument)

			out, _ := g.Output("awning")
			awning := out.(*MqttAwning)
			for _, p := range tt.start {
				broker.deliver("stat/patio/awning", p)
			}

			if err := awning.SetValue(tt.target); err != nil {
				t.Fatalf("SetValue(%d) error = %v", tt.target, err)
			}
			for _, p := range tt.positions {
				broker.deliver("stat/patio/awning", p)
			}

			if _, moving := awning.Moving(); moving {
				t.Error("Moving() = true after passing the target")
			}
			if awning.Value() != tt.wantValue {
				t.Errorf("Value() = %d, want %d", awning.Value(), tt.wantValue)
			}
			want := []published{
				{"cmnd/patio/awning", tt.wantMove},
				{"cmnd/patio/awning", AwningStop},
			}
			if got := broker.messages(); !reflect.DeepEqual(got, want) {
				t.Errorf("published %v, want %v", got, want)
			}
		})
	}
}

func TestMqtt_RoundTrip(t *testing.T) {
	useFakeBroker(t)
	g, _, _ := newTestGraph(t)
	mustApply(t, g, mqttDocument)

	doc, err := g.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	var parsed node.Document
	if err := json.Unmarshal(doc, &parsed); err != nil {
		t.Fatalf("ToJSON() output is not a document: %v", err)
	}
	var comm map[string]any
	_ = json.Unmarshal(parsed.Comms[0], &comm)
	if comm["broker"] != "10.0.0.2" || comm["port"] != 1884.0 || comm["username"] != "node" {
		t.Errorf("comm fragment = %v", comm)
	}

	g2, _, _ := newTestGraph(t)
	mustApply(t, g2, string(doc))
	comms, outputs, events, inputs := g2.Counts()
	if comms != 1 || outputs != 3 || events != 0 || inputs != 2 {
		t.Errorf("Counts() = %d, %d, %d, %d, want 1, 3, 0, 2", comms, outputs, events, inputs)
	}
	bell, _ := g2.Input("bell")
	raw, _ := json.Marshal(bell)
	var frag map[string]any
	_ = json.Unmarshal(raw, &frag)
	if frag["doublePressDuration"] != 300.0 {
		t.Errorf("bell fragment = %s", raw)
	}
}
