package growcycle

import "slices"

// allowedTransitions lists the legal status moves.
//
//	PLANNED ──► RUNNING ◄──► PAUSED
//	   │           │           │
//	   │           ├──► HARVESTED ◄┤
//	   └───────────┴──► ABORTED ◄──┘
var allowedTransitions = map[Status][]Status{
	StatusPlanned: {StatusRunning, StatusAborted},
	StatusRunning: {StatusPaused, StatusHarvested, StatusAborted},
	StatusPaused:  {StatusRunning, StatusHarvested, StatusAborted},
}

// CanTransition reports whether a cycle may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(allowedTransitions[from], to)
}

// checkTransition returns ErrInvalidTransition naming the attempted move.
func checkTransition(c *Cycle, to Status) error {
	if CanTransition(c.Status, to) {
		return nil
	}
	return ErrInvalidTransition.WithID(c.ID).Withf("cannot move grow cycle from %s to %s", c.Status, to)
}

// requireStatus returns ErrInvalidTransition unless the cycle is in one of statuses.
func requireStatus(c *Cycle, op string, statuses ...Status) error {
	if slices.Contains(statuses, c.Status) {
		return nil
	}
	return ErrInvalidTransition.WithID(c.ID).Withf("cannot %s a grow cycle in status %s", op, c.Status)
}
