package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silicamon/internal/models"
)

type fakeSender struct {
	failHTML  bool
	failPlain bool
	sends     []sentMail
}

type sentMail struct {
	to      string
	subject string
	body    string
	html    bool
}

func (f *fakeSender) Send(ctx context.Context, to, subject, body string, html bool) error {
	f.sends = append(f.sends, sentMail{to: to, subject: subject, body: body, html: html})
	if html && f.failHTML {
		return errors.New("html rejected")
	}
	if !html && f.failPlain {
		return errors.New("plain rejected")
	}
	return nil
}

func testEvent() *models.AlertEvent {
	return &models.AlertEvent{
		ID:              "evt-1",
		Sequence:        42,
		PredictedValue:  4.512,
		ThresholdAtTime: 4.0,
		SensorSnapshot: map[string]float64{
			"% Iron Feed":   58.3,
			"% Silica Feed": 19.2,
			"Ore Pulp pH":   10.1,
			"Starch Flow":   3010.4,
		},
		FiredAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatchRichFormat(t *testing.T) {
	sender := &fakeSender{}
	n := NewWithSender(sender)

	delivered := n.Dispatch(context.Background(), testEvent(), []string{"ops@plant.example"})

	assert.Equal(t, 1, delivered)
	require.Len(t, sender.sends, 1)
	assert.True(t, sender.sends[0].html)
	assert.Contains(t, sender.sends[0].subject, "4.51")
	assert.Contains(t, sender.sends[0].body, "Ore Pulp pH")

	stats := n.Stats()
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Equal(t, uint64(0), stats.Failed)
}

func TestDispatchFallsBackToPlain(t *testing.T) {
	sender := &fakeSender{failHTML: true}
	n := NewWithSender(sender)

	delivered := n.Dispatch(context.Background(), testEvent(), []string{"ops@plant.example"})

	assert.Equal(t, 1, delivered, "plain fallback counts as delivered")
	require.Len(t, sender.sends, 2)
	assert.True(t, sender.sends[0].html)
	assert.False(t, sender.sends[1].html)

	stats := n.Stats()
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Equal(t, uint64(0), stats.Failed)
}

func TestDispatchBothFormatsFail(t *testing.T) {
	sender := &fakeSender{failHTML: true, failPlain: true}
	n := NewWithSender(sender)

	delivered := n.Dispatch(context.Background(), testEvent(), []string{"a@plant.example", "b@plant.example"})

	assert.Equal(t, 0, delivered)
	stats := n.Stats()
	assert.Equal(t, uint64(0), stats.Sent)
	assert.Equal(t, uint64(2), stats.Failed)
	assert.Zero(t, stats.SuccessRate)
}

func TestDispatchMixedRecipients(t *testing.T) {
	sender := &fakeSender{}
	n := NewWithSender(sender)

	delivered := n.Dispatch(context.Background(), testEvent(), []string{"a@plant.example", "", "b@plant.example"})

	assert.Equal(t, 2, delivered, "empty recipients are skipped")
}

func TestSendTest(t *testing.T) {
	sender := &fakeSender{}
	n := NewWithSender(sender)

	delivered := n.SendTest(context.Background(), []string{"ops@plant.example"})

	assert.Equal(t, 1, delivered)
	require.Len(t, sender.sends, 1)
	assert.True(t, strings.Contains(sender.sends[0].subject, "Test"))
}

func TestAlertBodiesIncludeSnapshot(t *testing.T) {
	event := testEvent()
	for _, body := range []string{alertHTMLBody(event), alertTextBody(event)} {
		for _, field := range []string{"% Iron Feed", "% Silica Feed", "Ore Pulp pH", "Starch Flow"} {
			assert.Contains(t, body, field)
		}
		assert.Contains(t, body, "4.512")
		assert.Contains(t, body, "4.00")
	}
}

func TestAlertBodyMissingSnapshotChannel(t *testing.T) {
	event := testEvent()
	delete(event.SensorSnapshot, "Starch Flow")

	assert.Contains(t, alertTextBody(event), "Starch Flow: N/A")
}
