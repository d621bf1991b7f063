// Package influxdb provides InfluxDB connectivity for a Gray Logic node.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, value-point writing and health monitoring.
//
// # Purpose
//
// The node writes three measurements:
//   - module_value: every input and output value change
//   - event_fired: programmed event triggers
//   - button_press: classified double and long presses
//
// Every point carries the node_id default tag passed to Connect.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, map[string]string{"node_id": g.ID()})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteValueChange(influxdb.ValueChange{
//	    Family: "output", ModuleID: "lamp", ModuleType: "DigitalOutput", Value: 1,
//	})
//
// # Error Handling
//
// Writes are non-blocking and batched; async failures are delivered to the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
