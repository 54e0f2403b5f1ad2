// Package growcycle runs grow cycles: one plant in one zone following a
// published recipe revision from planting to harvest.
//
// The Service owns three stores that always change together:
//
//   - grow_cycles holds the current status, phase, step and revision;
//   - grow_cycle_transitions is the append-only ledger of every change;
//   - grow_cycle_overrides holds manual parameter values scoped to a cycle.
//
// Every status, phase, step or revision change writes the cycle row and one
// ledger row in the same transaction. Phase advancement is gated by the
// phase's progress model; TIME models use wall-clock time since
// phase_started_at, the others consult a TelemetrySource.
//
// A zone holds at most one PLANNED, RUNNING or PAUSED cycle. The check runs
// inside the create transaction and is backed by a partial unique index.
package growcycle
