// Package history persists module value changes and node snapshots in
// SQLite.
//
// Value rows are written by the telemetry recorder each time an input or
// output publishes a new value. Snapshots hold the node document produced
// by Graph.ToJSON, saved on shutdown or on demand, so the last known
// configuration can be inspected or restored after a restart.
package history
