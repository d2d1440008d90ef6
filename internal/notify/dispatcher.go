package notify

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/domain"
	"github.com/medibook/go-appointments/internal/domain/appointment"
	"github.com/medibook/go-appointments/internal/domain/user"
	"github.com/medibook/go-appointments/internal/infrastructure/redpanda"
	"github.com/medibook/go-appointments/pkg/idempotency"
)

// UserLookup resolves users by id. *user.Service satisfies it.
type UserLookup interface {
	Get(ctx context.Context, id int64) (*user.User, error)
}

// Deduplicator runs a handler at most once per key. *idempotency.Inbox satisfies it.
type Deduplicator interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

const handlerName = "appointment-notifications"

// Dispatcher turns appointment events into emails: new bookings go to the
// doctor and status changes go to the patient.
type Dispatcher struct {
	users  UserLookup
	sender EmailSender
	inbox  Deduplicator
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. inbox may be nil, in which case
// redelivered events send again.
func NewDispatcher(users UserLookup, sender EmailSender, inbox Deduplicator, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{users: users, sender: sender, inbox: inbox, logger: logger}
}

// HandleMessage is a redpanda.MessageHandler for the appointment events topic.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	ev, err := appointment.DecodeEvent(msg.Value)
	if err != nil {
		d.logger.Warn("dropping undecodable event",
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	if d.inbox == nil {
		return d.Handle(ctx, ev)
	}

	_, err = d.inbox.Process(ctx, idempotency.GenerateKey(handlerName, ev.ID), handlerName, msg.Value,
		func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return nil, d.Handle(ctx, ev)
		})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, idempotency.ErrDuplicateMessage), errors.Is(err, idempotency.ErrMessageInProgress):
		d.logger.Debug("event already handled", zap.String("event_id", ev.ID))
		return nil
	case errors.Is(err, idempotency.ErrPermanent):
		d.logger.Warn("event permanently failed", zap.String("event_id", ev.ID), zap.Error(err))
		return nil
	}
	return err
}

// Handle sends the email for one event. Missing recipients are skipped.
func (d *Dispatcher) Handle(ctx context.Context, ev *appointment.Event) error {
	switch ev.Type {
	case appointment.EventBooked:
		doctor, err := d.lookup(ctx, ev, ev.DoctorID, "doctor")
		if doctor == nil {
			return err
		}
		patient, err := d.lookup(ctx, ev, ev.PatientID, "patient")
		if err != nil {
			return err
		}
		var patientName string
		if patient != nil {
			patientName = patient.FullName
		}
		return d.sender.Send(ctx, BookingReceivedEmail(doctor.Email, doctor.FullName, patientName, ev.AppointmentTime))

	case appointment.EventStatusChanged:
		patient, err := d.lookup(ctx, ev, ev.PatientID, "patient")
		if patient == nil {
			return err
		}
		doctor, err := d.lookup(ctx, ev, ev.DoctorID, "doctor")
		if err != nil {
			return err
		}
		var doctorName string
		if doctor != nil {
			doctorName = doctor.FullName
		}
		return d.sender.Send(ctx, StatusChangedEmail(patient.Email, patient.FullName, doctorName, string(ev.Status), ev.AppointmentTime))
	}

	d.logger.Debug("ignoring event", zap.String("type", string(ev.Type)))
	return nil
}

// lookup returns (nil, nil) when the user no longer exists.
func (d *Dispatcher) lookup(ctx context.Context, ev *appointment.Event, id int64, role string) (*user.User, error) {
	u, err := d.users.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		d.logger.Warn("notification recipient missing",
			zap.String("event_id", ev.ID),
			zap.Int64("appointment_id", ev.AppointmentID),
			zap.String("role", role),
			zap.Int64("user_id", id))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}
