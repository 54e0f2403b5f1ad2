// Package location provides the greenhouse hierarchy the grow engine runs on.
//
// Greenhouses contain Zones; a grow cycle is bound to exactly one zone.
// Nodes (controllers with actuator channels) are owned either by a zone or
// by a whole greenhouse, modelled as the tagged Owner variant. Plants are
// the cultivars a cycle grows.
//
// # Thread Safety
//
// SQLiteRepository is safe for concurrent use from multiple goroutines.
package location
