package appointment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/go-appointments/internal/infrastructure/postgres"
	"github.com/medibook/go-appointments/internal/infrastructure/redpanda"
)

// EventType names an appointment domain event.
type EventType string

const (
	EventBooked        EventType = "appointment.booked"
	EventStatusChanged EventType = "appointment.status_changed"
)

// Event is published to the appointment events topic through the outbox.
type Event struct {
	ID              string    `json:"id"`
	Type            EventType `json:"type"`
	AppointmentID   int64     `json:"appointment_id"`
	PatientID       int64     `json:"patient_id"`
	DoctorID        int64     `json:"doctor_id"`
	Status          Status    `json:"status"`
	PreviousStatus  Status    `json:"previous_status,omitempty"`
	AppointmentTime time.Time `json:"appointment_time"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// NewEvent creates an event of type t describing a's current state.
func NewEvent(t EventType, a *Appointment, at time.Time) *Event {
	return &Event{
		ID:              uuid.NewString(),
		Type:            t,
		AppointmentID:   a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		Status:          a.Status,
		AppointmentTime: a.Time.UTC(),
		OccurredAt:      at.UTC(),
	}
}

// OutboxEntry serializes the event for the outbox table. The appointment id
// is the partition key so events for one appointment stay ordered.
func (e *Event) OutboxEntry() (*postgres.OutboxEntry, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	id := strconv.FormatInt(e.AppointmentID, 10)
	return &postgres.OutboxEntry{
		AggregateID:   id,
		AggregateType: "Appointment",
		EventType:     string(e.Type),
		Payload:       payload,
		KafkaTopic:    redpanda.TopicAppointmentEvents,
		KafkaKey:      id,
	}, nil
}

// DecodeEvent parses an event published on the appointment events topic.
func DecodeEvent(b []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("decode appointment event: %w", err)
	}
	if e.ID == "" || e.Type == "" {
		return nil, fmt.Errorf("decode appointment event: missing id or type")
	}
	return &e, nil
}
