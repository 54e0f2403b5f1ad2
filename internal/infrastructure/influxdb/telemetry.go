package influxdb

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/config"
)

const (
	// sampleWindow is the aggregateWindow period applied to raw climate data.
	sampleWindow = 15 * time.Minute

	// maxSampleGap is the longest interval integrated between two samples.
	// Longer gaps are treated as sensor outages and contribute nothing.
	maxSampleGap = 2 * time.Hour

	defaultQueryTimeout = 10 * time.Second

	secondsPerDay = 86400.0
	microPerUnit  = 1e6
)

// Sample is one aggregated point of a climate series.
type Sample struct {
	At    time.Time
	Value float64
}

// sampleQuery runs a Flux query and returns its single value series.
type sampleQuery func(ctx context.Context, flux string) ([]Sample, error)

// Telemetry reads zone climate history for the accumulation-based progress
// models. Temperatures are °C and light is PPFD in µmol/m²/s.
type Telemetry struct {
	bucket  string
	cfg     config.TelemetryConfig
	timeout time.Duration
	query   sampleQuery
}

// Telemetry returns a telemetry reader backed by this client.
func (c *Client) Telemetry() *Telemetry {
	return newTelemetry(c.cfg.Bucket, c.cfg.Telemetry, c.querySamples)
}

func newTelemetry(bucket string, cfg config.TelemetryConfig, query sampleQuery) *Telemetry {
	timeout := time.Duration(cfg.QueryTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Telemetry{bucket: bucket, cfg: cfg, timeout: timeout, query: query}
}

// TemperatureFactor returns the time-weighted mean air temperature over the
// window divided by the reference temperature, clamped to the configured
// bounds. ErrNoData is returned when the window holds no samples.
func (t *Telemetry) TemperatureFactor(ctx context.Context, zoneID string, from, to time.Time) (float64, error) {
	samples, err := t.series(ctx, t.cfg.TemperatureField, zoneID, from, to)
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, noData(zoneID, t.cfg.TemperatureField)
	}
	if t.cfg.ReferenceTempC <= 0 {
		return 1, nil
	}
	factor := weightedMean(samples) / t.cfg.ReferenceTempC
	return clamp(factor, t.cfg.MinFactor, t.cfg.MaxFactor), nil
}

// GrowingDegreeDays integrates max(T - base, 0) over the window, in °C·d.
// A zero-length window accumulates nothing; a window with no samples
// returns ErrNoData.
func (t *Telemetry) GrowingDegreeDays(ctx context.Context, zoneID string, baseTempC float64, from, to time.Time) (float64, error) {
	if !to.After(from) {
		return 0, nil
	}
	samples, err := t.series(ctx, t.cfg.TemperatureField, zoneID, from, to)
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, noData(zoneID, t.cfg.TemperatureField)
	}
	excess := func(v float64) float64 { return math.Max(v-baseTempC, 0) }
	return integrate(samples, excess) / secondsPerDay, nil
}

// DailyLightIntegral integrates PPFD over the window, in mol/m².
// Empty windows behave as in GrowingDegreeDays.
func (t *Telemetry) DailyLightIntegral(ctx context.Context, zoneID string, from, to time.Time) (float64, error) {
	if !to.After(from) {
		return 0, nil
	}
	samples, err := t.series(ctx, t.cfg.PPFDField, zoneID, from, to)
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, noData(zoneID, t.cfg.PPFDField)
	}
	light := func(v float64) float64 { return math.Max(v, 0) }
	return integrate(samples, light) / microPerUnit, nil
}

func noData(zoneID, field string) error {
	return fmt.Errorf("%w: %s %s", ErrNoData, zoneID, field)
}

func (t *Telemetry) series(ctx context.Context, field, zoneID string, from, to time.Time) ([]Sample, error) {
	if !to.After(from) {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	flux := buildSeriesQuery(t.bucket, t.cfg.Measurement, field, zoneID, from, to, sampleWindow)
	samples, err := t.query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("reading %s for zone %s: %w", field, zoneID, err)
	}
	return samples, nil
}

// querySamples runs flux and collects every record's time and numeric value.
func (c *Client) querySamples(ctx context.Context, flux string) ([]Sample, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close() //nolint:errcheck // Read-only result

	var samples []Sample
	for result.Next() {
		rec := result.Record()
		if v, ok := toFloat(rec.Value()); ok {
			samples = append(samples, Sample{At: rec.Time(), Value: v})
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return samples, nil
}

// buildSeriesQuery renders the Flux query for one field of one zone,
// averaged into fixed windows and sorted by time.
func buildSeriesQuery(bucket, measurement, field, zoneID string, from, to time.Time, every time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n", fluxString(bucket))
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n",
		from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %s and r._field == %s and r.zone_id == %s)\n",
		fluxString(measurement), fluxString(field), fluxString(zoneID))
	fmt.Fprintf(&b, "  |> aggregateWindow(every: %ds, fn: mean, createEmpty: false)\n", int64(every.Seconds()))
	b.WriteString("  |> keep(columns: [\"_time\", \"_value\"])\n")
	b.WriteString("  |> sort(columns: [\"_time\"])")
	return b.String()
}

var fluxEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `${`, `\${`)

// fluxString quotes s as a Flux string literal.
func fluxString(s string) string {
	return `"` + fluxEscaper.Replace(s) + `"`
}

// integrate applies the trapezoid rule to f over consecutive samples and
// returns the result in value·seconds. Intervals longer than maxSampleGap
// are skipped.
func integrate(samples []Sample, f func(float64) float64) float64 {
	total := 0.0
	for i := 1; i < len(samples); i++ {
		dt := samples[i].At.Sub(samples[i-1].At)
		if dt <= 0 || dt > maxSampleGap {
			continue
		}
		total += (f(samples[i-1].Value) + f(samples[i].Value)) / 2 * dt.Seconds()
	}
	return total
}

// weightedMean is the time-weighted mean of samples, falling back to the
// arithmetic mean when they span no integrable time.
func weightedMean(samples []Sample) float64 {
	identity := func(v float64) float64 { return v }
	span := 0.0
	for i := 1; i < len(samples); i++ {
		dt := samples[i].At.Sub(samples[i-1].At)
		if dt > 0 && dt <= maxSampleGap {
			span += dt.Seconds()
		}
	}
	if span > 0 {
		return integrate(samples, identity) / span
	}
	sum := 0.0
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples))
}

func clamp(v, lo, hi float64) float64 {
	if lo > 0 && v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
