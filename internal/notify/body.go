package notify

import (
	"fmt"
	"time"

	"silicamon/internal/models"
)

// snapshotChannels are the sensor channels called out in alert bodies.
var snapshotChannels = []string{
	"% Iron Feed",
	"% Silica Feed",
	"Ore Pulp pH",
	"Starch Flow",
}

func snapshotValue(snap map[string]float64, name string) string {
	if v, ok := snap[name]; ok {
		return fmt.Sprintf("%.2f", v)
	}
	return "N/A"
}

func alertHTMLBody(event *models.AlertEvent) string {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body>
  <div style="background-color:#f8d7da;border:1px solid #f5c6cb;padding:20px;border-radius:5px">
    <h2 style="color:#721c24">FLOTATION PROCESS ALERT</h2>
    <p><strong>Timestamp:</strong> %s</p>
    <p style="color:#dc3545"><strong>Predicted %% Silica Concentrate: %.3f%%</strong></p>
    <p>Configured threshold: %.2f%%</p>
    <p><strong>Action required:</strong> check the flotation process immediately</p>
    <h3>Current sensor data:</h3>
    <ul>
`, event.FiredAt.Format("2006-01-02 15:04:05"), event.PredictedValue, event.ThresholdAtTime)

	for _, ch := range snapshotChannels {
		body += fmt.Sprintf("      <li>%s: %s</li>\n", ch, snapshotValue(event.SensorSnapshot, ch))
	}

	body += fmt.Sprintf(`    </ul>
    <p><small>Alert %s, reading sequence %d</small></p>
  </div>
</body>
</html>
`, event.ID, event.Sequence)
	return body
}

func alertTextBody(event *models.AlertEvent) string {
	body := fmt.Sprintf(`FLOTATION PROCESS ALERT
=======================

Timestamp: %s
Predicted %% Silica Concentrate: %.3f%%
Configured threshold: %.2f%%

ACTION REQUIRED: check the flotation process immediately

Sensor data:
`, event.FiredAt.Format("2006-01-02 15:04:05"), event.PredictedValue, event.ThresholdAtTime)

	for _, ch := range snapshotChannels {
		body += fmt.Sprintf("- %s: %s\n", ch, snapshotValue(event.SensorSnapshot, ch))
	}
	body += fmt.Sprintf("\nAlert %s, reading sequence %d\n", event.ID, event.Sequence)
	return body
}

func testHTMLBody(now time.Time, stats Stats) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body>
  <div style="background-color:#d1ecf1;border:1px solid #bee5eb;padding:20px;border-radius:5px">
    <h2 style="color:#0c5460">TEST NOTIFICATION - SILICA MONITOR</h2>
    <p><strong>Timestamp:</strong> %s</p>
    <p>This is a test message verifying that alert notifications are configured correctly.</p>
    <ul>
      <li>Notifications delivered: %d</li>
      <li>Notifications failed: %d</li>
    </ul>
  </div>
</body>
</html>
`, now.Format("2006-01-02 15:04:05"), stats.Sent, stats.Failed)
}

func testTextBody(now time.Time, stats Stats) string {
	return fmt.Sprintf(`TEST NOTIFICATION - SILICA MONITOR
==================================

Timestamp: %s

This is a test message verifying that alert notifications are
configured correctly.

Notifications delivered: %d
Notifications failed: %d
`, now.Format("2006-01-02 15:04:05"), stats.Sent, stats.Failed)
}
