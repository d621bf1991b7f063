package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the node.
const (
	MeasurementModuleValue = "module_value"
	MeasurementEventFired  = "event_fired"
	MeasurementPress       = "button_press"
	MeasurementNodeStats   = "node_stats"
)

// ValueChange describes one module value transition.
type ValueChange struct {
	Family     string // "input" or "output"
	ModuleID   string
	ModuleType string
	Value      int
	At         time.Time
}

// NewValuePoint builds the point recorded for a module value change.
// Module identity goes in tags; the value is the only field.
func NewValuePoint(vc ValueChange) *write.Point {
	at := vc.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		MeasurementModuleValue,
		map[string]string{
			"family":      vc.Family,
			"module_id":   vc.ModuleID,
			"module_type": vc.ModuleType,
		},
		map[string]interface{}{
			"value": vc.Value,
		},
		at,
	)
}

// NewEventPoint builds the point recorded when a programmed event fires.
func NewEventPoint(eventID string, actions int, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementEventFired,
		map[string]string{"event_id": eventID},
		map[string]interface{}{"actions": actions},
		at,
	)
}

// NewPressPoint builds the point recorded for a classified button press.
func NewPressPoint(inputID, kind string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPress,
		map[string]string{"input_id": inputID, "kind": kind},
		map[string]interface{}{"count": 1},
		at,
	)
}

// WriteValueChange records a module value change. The write is
// non-blocking; data is batched and sent asynchronously.
func (c *Client) WriteValueChange(vc ValueChange) {
	c.writeAPIPoint(NewValuePoint(vc))
}

// WriteEventFired records a programmed event trigger.
func (c *Client) WriteEventFired(eventID string, actions int) {
	c.writeAPIPoint(NewEventPoint(eventID, actions, time.Now()))
}

// WritePress records a double or long press on a button input.
func (c *Client) WritePress(inputID, kind string) {
	c.writeAPIPoint(NewPressPoint(inputID, kind, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
// The node uses it for periodic node_stats points.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.writeAPIPoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) writeAPIPoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
