package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMapDisplay_RawStatuses(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-10 * time.Minute)

	tests := []struct {
		raw         Status
		deliveredAt *time.Time
		want        DisplayStatus
	}{
		{StatusPending, nil, DisplayPending},
		{StatusAccepted, nil, DisplayPreparing},
		{StatusRiderAssigned, nil, DisplayDelivering},
		{StatusPickedUp, nil, DisplayDelivering},
		{StatusDelivered, &recent, DisplayDelivered},
		{StatusRated, nil, DisplayCompleted},
		{StatusCancelled, nil, DisplayCompleted},
	}

	for _, tt := range tests {
		t.Run(string(tt.raw), func(t *testing.T) {
			assert.Equal(t, tt.want, MapDisplay(tt.raw, tt.deliveredAt, now))
		})
	}
}

func TestMapDisplay_DeliveredWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ago  time.Duration
		want DisplayStatus
	}{
		{"just delivered", time.Second, DisplayDelivered},
		{"inside window", 29*time.Minute + 59*time.Second, DisplayDelivered},
		{"exactly at boundary", 30 * time.Minute, DisplayCompleted},
		{"past window", 40 * time.Minute, DisplayCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := now.Add(-tt.ago)
			assert.Equal(t, tt.want, MapDisplay(StatusDelivered, &at, now))
		})
	}
}

func TestMapDisplay_DeliveredWithoutTimestamp(t *testing.T) {
	// A delivered status with no timestamp cannot satisfy the live window.
	now := time.Now()
	assert.Equal(t, DisplayCompleted, MapDisplay(StatusDelivered, nil, now))
}

func TestMapDisplay_UnrecognizedFailsOpen(t *testing.T) {
	now := time.Now()
	for _, raw := range []Status{"", "refunded", "DELIVERED", "unknown"} {
		assert.Equal(t, DisplayPending, MapDisplay(raw, nil, now), "raw=%q", raw)
	}
}

func TestMapDisplay_PureOverTime(t *testing.T) {
	// Same inputs, same output: the result depends only on (raw, deliveredAt, now).
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := at.Add(10 * time.Minute)
	for range 3 {
		assert.Equal(t, DisplayDelivered, MapDisplay(StatusDelivered, &at, now))
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusAccepted, true},
		{StatusAccepted, StatusRiderAssigned, true},
		{StatusRiderAssigned, StatusPickedUp, true},
		{StatusPickedUp, StatusDelivered, true},
		{StatusDelivered, StatusRated, true},
		{StatusPending, StatusCancelled, true},
		{StatusAccepted, StatusCancelled, true},
		{StatusRiderAssigned, StatusCancelled, true},
		{StatusPickedUp, StatusCancelled, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusPending, StatusDelivered, false},
		{StatusAccepted, StatusPending, false},
		{StatusDelivered, StatusPickedUp, false},
		{StatusRated, StatusDelivered, false},
		{StatusCancelled, StatusAccepted, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, canTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
