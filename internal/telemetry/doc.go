// Package telemetry records what a running node does.
//
// A Recorder subscribes to every input and output in a graph and forwards
// each value change to up to three sinks:
//   - the SQLite value history (history.Repository)
//   - InfluxDB points (influxdb.Client)
//   - a retained MQTT value topic per module (graylogic/node/<id>/value/<module>)
//
// Programmed event triggers and classified button presses go to InfluxDB.
//
// Module callbacks only enqueue; Run drains the queue on its own goroutine
// so a slow database never stalls a transport callback. When the queue is
// full the change is dropped and counted.
//
// # Usage
//
//	rec := telemetry.New(g.ID(),
//	    telemetry.WithHistory(history.NewRepository(db.DB)),
//	    telemetry.WithPoints(influx),
//	    telemetry.WithLogger(log),
//	)
//	rec.Attach(g)
//	go rec.Run(ctx)
//
// Call Attach again after re-applying a document to pick up new modules.
package telemetry
