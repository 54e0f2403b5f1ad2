// Package recipe implements the recipe catalog: recipes, their numbered
// revisions, and each revision's ordered phases and steps.
//
// A revision starts as a DRAFT and is frozen by publishing it. Published
// revisions, including their phase and step graph, never change; edits go
// into a new DRAFT cloned from the published one. Grow cycles only ever
// reference published revisions.
//
// The target field registry in targets.go is the single list of setpoint
// names known to the engine. Step target maps and grow-cycle overrides are
// validated against it, and the effective-targets resolver writes through it.
package recipe
