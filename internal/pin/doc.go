// Package pin enforces exclusive ownership of GPIO lines.
//
// Every module that drives or reads a physical line acquires a Handle from
// the process-wide Guard during construction and releases it when closed.
// A second claim on a held index fails with ErrInUse, which the node graph
// surfaces as a resource conflict for that module.
//
// Released lines are reset to input with pull-down so a removed output never
// keeps driving its load.
package pin
