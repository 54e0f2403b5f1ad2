// Package metrics exposes grow engine counters and histograms in the
// Prometheus text format.
//
// All collectors live in a private registry so tests and multiple engines in
// one process never collide on the global default registry. Every method is
// safe on a nil *Metrics, which is how components run with metrics disabled.
package metrics
