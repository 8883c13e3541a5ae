package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayload(t *testing.T, seq int64) []byte {
	t.Helper()

	data := make(map[string]float64, len(FeatureColumns)+1)
	for i, col := range FeatureColumns {
		data[col] = float64(i) + 1.5
	}
	data[TargetColumn] = 2.3

	raw, err := json.Marshal(map[string]interface{}{
		"timestamp": "2024-03-01T10:30:00Z",
		"row_index": seq,
		"data":      data,
	})
	require.NoError(t, err)
	return raw
}

func TestDecodeReading(t *testing.T) {
	now := time.Now()
	reading, err := DecodeReading(validPayload(t, 7), now)
	require.NoError(t, err)

	assert.Equal(t, int64(7), reading.Sequence)
	assert.Equal(t, now.UTC(), reading.ReceivedAt)
	assert.Equal(t, 2024, reading.ObservedAt.Year())
	assert.Len(t, reading.Features, len(FeatureColumns)+1)

	target, ok := reading.Target()
	require.True(t, ok)
	assert.InDelta(t, 2.3, target, 1e-9)
}

func TestDecodeReadingMalformedJSON(t *testing.T) {
	_, err := DecodeReading([]byte("{not json"), time.Now())
	require.Error(t, err)
}

func TestDecodeReadingNullChannelDropped(t *testing.T) {
	payload := map[string]interface{}{
		"timestamp": "2024-03-01T10:30:00Z",
		"row_index": 1,
		"data":      map[string]interface{}{},
	}
	data := payload["data"].(map[string]interface{})
	for i, col := range FeatureColumns {
		data[col] = float64(i)
	}
	// A null target must not fail validation; it is simply absent.
	data[TargetColumn] = nil

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	reading, err := DecodeReading(raw, time.Now())
	require.NoError(t, err)

	_, ok := reading.Target()
	assert.False(t, ok)
}

func TestDecodeReadingMissingFeature(t *testing.T) {
	payload := map[string]interface{}{
		"timestamp": "2024-03-01T10:30:00Z",
		"row_index": 1,
		"data":      map[string]interface{}{},
	}
	data := payload["data"].(map[string]interface{})
	for _, col := range FeatureColumns {
		data[col] = 1.0
	}
	delete(data, "Ore Pulp pH")

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	_, err = DecodeReading(raw, time.Now())
	var missing *MissingFeatureError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "Ore Pulp pH", missing.Name)
}

func TestDecodeReadingBadTimestamp(t *testing.T) {
	raw := []byte(`{"timestamp":"yesterday","row_index":1,"data":{}}`)
	_, err := DecodeReading(raw, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTimestamp))
}

func TestParseTimestampFormats(t *testing.T) {
	for _, ts := range []string{
		"2024-03-01T10:30:00Z",
		"2024-03-01T10:30:00.123456",
		"2024-03-01 10:30:00",
	} {
		parsed, err := ParseTimestamp(ts)
		require.NoError(t, err, ts)
		assert.Equal(t, time.March, parsed.Month())
	}
}

func TestFeatureSnapshotIsCopy(t *testing.T) {
	reading, err := DecodeReading(validPayload(t, 1), time.Now())
	require.NoError(t, err)

	snap := reading.FeatureSnapshot()
	snap["% Iron Feed"] = -99

	assert.NotEqual(t, reading.Features["% Iron Feed"], snap["% Iron Feed"])
}
