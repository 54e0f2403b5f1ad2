// Package influxdb provides InfluxDB connectivity for the grow engine.
//
// It wraps the official influxdb-client-go v2 library for two jobs:
//
//   - Reading zone climate history. Telemetry implements the accumulation
//     queries behind the temperature-corrected, GDD and DLI progress models
//     with Flux queries over the configured measurement.
//   - Recording cycle transitions and command state changes as points, so
//     engine activity can be charted next to the climate it produced.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	cycles.SetTelemetry(client.Telemetry())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch errors are delivered to the SetOnError callback.
package influxdb
