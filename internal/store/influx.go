package store

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"silicamon/internal/config"
	"silicamon/internal/logger"
	"silicamon/internal/models"
)

const measurement = "sensor_reading"

// InfluxBackend persists readings to InfluxDB as the durable store.
type InfluxBackend struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	org      string
	bucket   string
}

// NewInfluxBackend connects to InfluxDB using the given config.
func NewInfluxBackend(cfg config.InfluxConfig) (*InfluxBackend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx URL is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("influx bucket is required")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	b := &InfluxBackend{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		org:      cfg.Org,
		bucket:   cfg.Bucket,
	}

	log := logger.WithComponent("store")
	log.Info().
		Str("url", cfg.URL).
		Str("bucket", cfg.Bucket).
		Msg("influx backend initialized")
	return b, nil
}

// WriteReading writes one reading as a point: sequence plus every sensor
// channel as fields, timestamped with the arrival time.
func (b *InfluxBackend) WriteReading(ctx context.Context, r *models.SensorReading) error {
	fields := make(map[string]interface{}, len(r.Features)+2)
	fields["row_index"] = r.Sequence
	fields["observed_at"] = r.ObservedAt.Format(time.RFC3339Nano)
	for name, v := range r.Features {
		fields[name] = v
	}

	point := influxdb2.NewPoint(
		measurement,
		map[string]string{"source": "flotation"},
		fields,
		r.ReceivedAt,
	)

	if err := b.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write point: %w", err)
	}
	return nil
}

// RecentReadings loads persisted readings newer than since, ascending by
// time. Used to rehydrate the in-memory window after a restart.
func (b *InfluxBackend) RecentReadings(ctx context.Context, since time.Time) ([]*models.SensorReading, error) {
	query := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"])`,
		b.bucket, since.UTC().Format(time.RFC3339), measurement)

	result, err := b.client.QueryAPI(b.org).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer result.Close()

	columns := append(append([]string{}, models.FeatureColumns...), models.TargetColumn)

	var out []*models.SensorReading
	for result.Next() {
		values := result.Record().Values()

		r := &models.SensorReading{
			ReceivedAt: result.Record().Time(),
			Features:   make(map[string]float64, len(columns)),
		}
		seq, ok := values["row_index"].(int64)
		if !ok {
			continue // malformed point, skip
		}
		r.Sequence = seq
		if s, ok := values["observed_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				r.ObservedAt = t
			}
		}
		for _, name := range columns {
			if f, ok := values[name].(float64); ok {
				r.Features[name] = f
			}
		}
		out = append(out, r)
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("query readings: %w", result.Err())
	}
	return out, nil
}

// DeleteOlderThan removes persisted points older than cutoff.
func (b *InfluxBackend) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	deleteAPI := b.client.DeleteAPI()
	start := time.Unix(0, 0)
	predicate := fmt.Sprintf(`_measurement="%s"`, measurement)

	if err := deleteAPI.DeleteWithName(ctx, b.org, b.bucket, start, cutoff, predicate); err != nil {
		return fmt.Errorf("delete aged readings: %w", err)
	}
	return nil
}

// Purge deletes every persisted reading from the bucket.
func (b *InfluxBackend) Purge(ctx context.Context) error {
	deleteAPI := b.client.DeleteAPI()
	start := time.Unix(0, 0)
	stop := time.Now().Add(time.Hour)
	predicate := fmt.Sprintf(`_measurement="%s"`, measurement)

	if err := deleteAPI.DeleteWithName(ctx, b.org, b.bucket, start, stop, predicate); err != nil {
		return fmt.Errorf("delete readings: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (b *InfluxBackend) Close() {
	b.client.Close()
}
