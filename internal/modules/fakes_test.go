package modules

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/gpio"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/serial"
	"github.com/nerrad567/gray-logic-node/internal/node"
	"github.com/nerrad567/gray-logic-node/internal/pin"
)

type published struct {
	topic   string
	payload string
}

// fakeBroker stands in for a connected MQTT client.
type fakeBroker struct {
	mu           sync.Mutex
	cfg          config.MQTTConfig
	handlers     map[string]mqtt.MessageHandler
	published    []published
	unsubscribed []string
	closed       bool
}

func (f *fakeBroker) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return mqtt.ErrNotConnected
	}
	f.published = append(f.published, published{topic, string(payload)})
	return nil
}

func (f *fakeBroker) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeBroker) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	f.unsubscribed = append(f.unsubscribed, topic)
	return nil
}

func (f *fakeBroker) HealthCheck(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return mqtt.ErrNotConnected
	}
	return nil
}

func (f *fakeBroker) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// deliver simulates a message arriving from the broker.
func (f *fakeBroker) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		_ = h(topic, []byte(payload))
	}
}

func (f *fakeBroker) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[topic]
	return ok
}

func (f *fakeBroker) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

// useFakeBroker routes MqttComm connections to a single fake client.
func useFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	f := &fakeBroker{handlers: make(map[string]mqtt.MessageHandler)}
	orig := connectMQTT
	connectMQTT = func(cfg config.MQTTConfig, _ ...mqtt.Option) (mqttClient, error) {
		f.mu.Lock()
		f.cfg = cfg
		f.mu.Unlock()
		return f, nil
	}
	t.Cleanup(func() { connectMQTT = orig })
	return f
}

// fakeLine stands in for an open serial port.
type fakeLine struct {
	mu        sync.Mutex
	written   []string
	incoming  chan string
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeLine() *fakeLine {
	return &fakeLine{incoming: make(chan string, 16), done: make(chan struct{})}
}

func (l *fakeLine) WriteLine(line string) error {
	select {
	case <-l.done:
		return serial.ErrClosed
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.written = append(l.written, line)
	return nil
}

func (l *fakeLine) ReadLines(ctx context.Context, fn func(string)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case line := <-l.incoming:
			fn(line)
		}
	}
}

func (l *fakeLine) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *fakeLine) lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.written...)
}

// useFakeSerial makes every SerialInterface open line.
func useFakeSerial(t *testing.T, line *fakeLine) *serial.Config {
	t.Helper()
	var opened serial.Config
	orig := openSerial
	openSerial = func(cfg serial.Config) (lineConn, error) {
		opened = cfg
		return line, nil
	}
	t.Cleanup(func() { openSerial = orig })
	return &opened
}

// newTestGraph returns a graph over simulated GPIO.
func newTestGraph(t *testing.T) (*node.Graph, *gpio.Memory, *pin.Guard) {
	t.Helper()
	mem := gpio.NewMemory()
	guard := pin.NewGuard(mem)
	g := node.New("test-node", node.WithGPIO(mem), node.WithPins(guard))
	t.Cleanup(func() { _ = g.Close() })
	return g, mem, guard
}

func mustApply(t *testing.T, g *node.Graph, doc string) {
	t.Helper()
	if err := g.Apply([]byte(doc)); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func timeout() <-chan time.Time {
	return time.After(2 * time.Second)
}
