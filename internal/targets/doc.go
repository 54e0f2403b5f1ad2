// Package targets resolves the effective setpoints of a grow cycle: the
// single snapshot external automation software polls to decide what the
// hardware should be doing right now.
//
// Precedence, lowest first:
//
//	phase targets -> current step targets -> active overrides (oldest first)
//
// Each layer replaces whole field values; nothing is merged. Overrides on
// parameters outside the target field registry are ignored here.
//
// The resolver only reads and never holds a transaction. Batch resolution
// loads every zone's cycle, phase, steps and overrides with a fixed number
// of queries regardless of batch size.
package targets
