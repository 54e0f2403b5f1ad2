// Package events fans committed cycle transitions and command state
// changes out to the engine's side channels: MQTT announcements for
// subscribers on the greenhouse network, InfluxDB points for charting,
// and Prometheus counters.
//
// Every type here is a growcycle.EventSink, a command.EventSink, or both.
// Sinks run after the owning transaction has committed. A failing side
// channel is logged and never reaches the caller.
package events
