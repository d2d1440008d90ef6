// Package appointment implements booking, the appointment status lifecycle
// and role-scoped listing.
package appointment

import (
	"strings"
	"time"

	"github.com/medibook/go-appointments/internal/domain"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusCancelled Status = "Cancelled"
	StatusCompleted Status = "Completed"
)

// ParseStatus accepts the exact status names.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return st, nil
	}
	return "", domain.Errorf(domain.ErrValidation,
		"status must be one of Pending, Confirmed, Cancelled, Completed")
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether to is a forward edge from s.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Party is the joined summary of a patient or doctor in listings.
type Party struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// Appointment links one patient to one doctor at a scheduled time.
type Appointment struct {
	ID              int64
	PatientID       int64
	DoctorID        int64
	Time            time.Time
	Notes           string
	Status          Status
	ConsultationFee *float64
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Patient *Party
	Doctor  *Party
}

// Transition moves the appointment to status to.
func (a *Appointment) Transition(to Status) error {
	if a.Status.Terminal() {
		return domain.Errorf(domain.ErrInvalidTransition,
			"cannot update a %s appointment", strings.ToLower(string(a.Status)))
	}
	if !a.Status.CanTransition(to) {
		return domain.Errorf(domain.ErrInvalidTransition,
			"cannot move appointment from %s to %s", a.Status, to)
	}
	a.Status = to
	return nil
}
