package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silicamon/internal/evaluator"
	"silicamon/internal/models"
	"silicamon/internal/notify"
	"silicamon/internal/predictor"
	"silicamon/internal/settings"
	"silicamon/internal/store"
)

type recordingSender struct {
	sends int
	fail  bool
}

func (r *recordingSender) Send(ctx context.Context, to, subject, body string, html bool) error {
	r.sends++
	if r.fail {
		return context.DeadlineExceeded
	}
	return nil
}

type testEnv struct {
	server   *Server
	store    *store.Store
	settings *settings.Store
}

func newTestEnv(t *testing.T, adminToken string, notifier *notify.Notifier) *testEnv {
	t.Helper()

	st := store.New(nil, time.Hour)
	se, err := settings.Load(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	dir := t.TempDir()
	p := predictor.New(filepath.Join(dir, "missing.csv"), filepath.Join(dir, "model.json"))
	ev := evaluator.New(p, se, nil)

	srv := NewServer(Config{
		Addr:       ":0",
		AdminToken: adminToken,
		Store:      st,
		Settings:   se,
		Predictor:  p,
		Evaluator:  ev,
		Notifier:   notifier,
	})
	return &testEnv{server: srv, store: st, settings: se}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.httpServer.Handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func seedReading(t *testing.T, st *store.Store, seq int64) {
	t.Helper()

	features := make(map[string]float64, len(models.FeatureColumns)+1)
	for i, col := range models.FeatureColumns {
		features[col] = float64(i) + 1
	}
	features[models.TargetColumn] = 3.5
	_, err := st.Append(context.Background(), &models.SensorReading{
		Sequence:   seq,
		ObservedAt: time.Now(),
		Features:   features,
		ReceivedAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec, body := env.do(t, http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["degraded"])
}

func TestReadingsEmptyWindow(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec, body := env.do(t, http.MethodGet, "/api/readings", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusNoData, body["status"])
	assert.EqualValues(t, 0, body["count"])
}

func TestReadingsReturnsWindow(t *testing.T) {
	env := newTestEnv(t, "", nil)
	for seq := int64(1); seq <= 5; seq++ {
		seedReading(t, env.store, seq)
	}

	rec, body := env.do(t, http.MethodGet, "/api/readings?limit=3", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusCloudDataOK, body["status"])
	assert.EqualValues(t, 3, body["count"])

	docs := body["readings"].([]interface{})
	require.Len(t, docs, 3)
	first := docs[0].(map[string]interface{})
	assert.EqualValues(t, 3, first["row_index"])
	assert.NotEmpty(t, first["sensor_data"])
}

func TestReadingsRejectsBadLimit(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec, _ := env.do(t, http.MethodGet, "/api/readings?limit=zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/readings?limit=-5", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetThreshold(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec, body := env.do(t, http.MethodPost, "/api/settings/threshold",
		map[string]float64{"threshold": 2.5}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 2.5, env.settings.Threshold())
}

func TestGetThresholdIncludesLastUpdated(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec, body := env.do(t, http.MethodGet, "/api/settings/threshold", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, settings.DefaultThreshold, body["threshold"])
	assert.NotContains(t, body, "last_updated", "never-updated settings carry no timestamp")

	require.NoError(t, env.settings.SetThreshold(3.0))

	rec, body = env.do(t, http.MethodGet, "/api/settings/threshold", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, body["threshold"])
	assert.NotEmpty(t, body["last_updated"])
}

func TestSetThresholdOutOfRange(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec, body := env.do(t, http.MethodPost, "/api/settings/threshold",
		map[string]float64{"threshold": 11}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, settings.DefaultThreshold, env.settings.Threshold())
}

func TestSetThresholdInvalidBody(t *testing.T) {
	env := newTestEnv(t, "", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/settings/threshold", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	env.server.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestThresholdPreview(t *testing.T) {
	env := newTestEnv(t, "", nil)
	for seq := int64(1); seq <= 4; seq++ {
		seedReading(t, env.store, seq) // target fixed at 3.5
	}

	rec, body := env.do(t, http.MethodGet, "/api/settings/threshold-preview?threshold=3.0", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 4, body["affected_samples"])
	assert.EqualValues(t, 4, body["total_samples"])
	assert.EqualValues(t, 100, body["percentage"])

	rec, _ = env.do(t, http.MethodGet, "/api/settings/threshold-preview?threshold=42", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/settings/threshold-preview", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatistics(t *testing.T) {
	env := newTestEnv(t, "", nil)
	for seq := int64(1); seq <= 3; seq++ {
		seedReading(t, env.store, seq)
	}

	rec, body := env.do(t, http.MethodGet, "/api/settings/statistics", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusCloudDataOK, body["status"])
	assert.EqualValues(t, 3, body["total_samples"])
	assert.Equal(t, 3.5, body["avg_silica"])
}

func TestModelInfoNotAvailable(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec, body := env.do(t, http.MethodGet, "/api/model/info", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, predictor.StatusNotAvailable, body["status"])
}

func TestForecastNoData(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec, body := env.do(t, http.MethodGet, "/api/forecast", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusNoData, body["status"])
	assert.Empty(t, body["forecasts"])
}

func TestForecastHeuristicFallback(t *testing.T) {
	env := newTestEnv(t, "", nil)
	seedReading(t, env.store, 1)

	rec, body := env.do(t, http.MethodGet, "/api/forecast?steps=3", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	forecasts := body["forecasts"].([]interface{})
	require.Len(t, forecasts, 3)
	for _, f := range forecasts {
		step := f.(map[string]interface{})
		assert.Equal(t, string(models.SourceHeuristic), step["source"],
			"without a ready model every forecast must be labeled heuristic")
		assert.Equal(t, 3.5, step["predicted_value"])
	}
}

func TestForecastRejectsBadSteps(t *testing.T) {
	env := newTestEnv(t, "", nil)
	seedReading(t, env.store, 1)

	for _, q := range []string{"steps=0", "steps=25", "steps=soon"} {
		rec, _ := env.do(t, http.MethodGet, "/api/forecast?"+q, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestAdminRequiresToken(t *testing.T) {
	env := newTestEnv(t, "sekrit", nil)

	rec, _ := env.do(t, http.MethodPost, "/api/admin/clear-data", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/admin/clear-data", nil,
		map[string]string{"X-Admin-Token": "wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	seedReading(t, env.store, 1)
	rec, body := env.do(t, http.MethodPost, "/api/admin/clear-data", nil,
		map[string]string{"X-Admin-Token": "sekrit"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 0, env.store.Len())
}

func TestAdminDeniedWhenTokenUnset(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec, _ := env.do(t, http.MethodPost, "/api/admin/clear-data", nil,
		map[string]string{"X-Admin-Token": ""})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminRetrainFailure(t *testing.T) {
	env := newTestEnv(t, "sekrit", nil)

	// The predictor points at a missing dataset, so retraining must fail.
	rec, body := env.do(t, http.MethodPost, "/api/admin/retrain-model", nil,
		map[string]string{"X-Admin-Token": "sekrit"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, StatusError, body["status"])
}

func TestTestEmail(t *testing.T) {
	sender := &recordingSender{}
	env := newTestEnv(t, "", notify.NewWithSender(sender))

	rec, body := env.do(t, http.MethodPost, "/api/settings/test-email",
		map[string][]string{"recipients": {"ops@plant.example"}}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["sent_count"])
	assert.Equal(t, 1, sender.sends)
}

func TestTestEmailNoRecipients(t *testing.T) {
	env := newTestEnv(t, "", notify.NewWithSender(&recordingSender{}))

	rec, _ := env.do(t, http.MethodPost, "/api/settings/test-email",
		map[string][]string{"recipients": {}}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestEmailWithoutNotifier(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec, _ := env.do(t, http.MethodPost, "/api/settings/test-email",
		map[string][]string{"recipients": {"ops@plant.example"}}, nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNotificationStatsWithoutNotifier(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec, body := env.do(t, http.MethodGet, "/api/notifications/stats", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusNoData, body["status"])
}

func TestRecentAlertsEmpty(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec, body := env.do(t, http.MethodGet, "/api/alerts/recent", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusNoData, body["status"])
	assert.EqualValues(t, 0, body["count"])
}

func TestCurrentSettings(t *testing.T) {
	env := newTestEnv(t, "", nil)
	require.NoError(t, env.settings.SetThreshold(3.2))

	rec, body := env.do(t, http.MethodGet, "/api/settings/current", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.2, body["threshold"])
	assert.NotNil(t, body["email"])
}

func TestSetEmailConfig(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rec, body := env.do(t, http.MethodPost, "/api/settings/email",
		map[string]interface{}{
			"enabled":    true,
			"recipients": []string{" ops@plant.example ", ""},
		}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []string{"ops@plant.example"}, env.settings.NotificationConfig().Recipients)
}
