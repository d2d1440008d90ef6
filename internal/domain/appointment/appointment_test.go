package appointment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medibook/go-appointments/internal/domain"
)

var allStatuses = []Status{StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted}

func TestTransitionFromTerminalAlwaysFails(t *testing.T) {
	for _, from := range []Status{StatusCancelled, StatusCompleted} {
		for _, to := range allStatuses {
			a := &Appointment{Status: from}
			err := a.Transition(to)
			assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "%s -> %s", from, to)
			assert.Equal(t, from, a.Status)
		}
	}
}

func TestTransitionForwardEdges(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusPending, false},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusPending, false},
		{StatusConfirmed, StatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			a := &Appointment{Status: tt.from}
			err := a.Transition(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, a.Status)
				return
			}
			assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
			assert.Equal(t, tt.from, a.Status)
		})
	}
}

func TestTransitionMessage(t *testing.T) {
	a := &Appointment{Status: StatusCompleted}
	assert.EqualError(t, a.Transition(StatusCancelled), "cannot update a completed appointment")
}

func TestParseStatus(t *testing.T) {
	for _, s := range allStatuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseStatus("pending")
	assert.True(t, errors.Is(err, domain.ErrValidation))
	_, err = ParseStatus("Rescheduled")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestEventRoundTripThroughOutboxEntry(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := &Appointment{ID: 7, PatientID: 3, DoctorID: 2, Time: at, Status: StatusConfirmed}
	ev := NewEvent(EventStatusChanged, a, at)
	ev.PreviousStatus = StatusPending

	entry, err := ev.OutboxEntry()
	require.NoError(t, err)
	assert.Equal(t, "appointment.events", entry.KafkaTopic)
	assert.Equal(t, "7", entry.KafkaKey)
	assert.Equal(t, "appointment.status_changed", entry.EventType)

	got, err := DecodeEvent(entry.Payload)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, StatusPending, got.PreviousStatus)
	assert.True(t, at.Equal(got.AppointmentTime))

	_, err = DecodeEvent([]byte(`{"appointment_id":1}`))
	assert.Error(t, err)
}
