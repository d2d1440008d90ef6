package appointment

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/domain"
	"github.com/medibook/go-appointments/internal/domain/user"
	"github.com/medibook/go-appointments/internal/observability/metrics"
)

// DoctorLookup resolves doctor-role users. *user.Service satisfies it.
type DoctorLookup interface {
	GetDoctor(ctx context.Context, id int64) (*user.User, error)
}

// BookingRequest is a patient's request for a slot with a doctor.
type BookingRequest struct {
	DoctorID int64     `json:"doctor_id"`
	Time     time.Time `json:"appointment_time"`
	Notes    string    `json:"notes,omitempty"`
}

// Service implements booking, status updates and listings.
type Service struct {
	store   Store
	doctors DoctorLookup
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates an appointment service. m may be nil.
func NewService(store Store, doctors DoctorLookup, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		doctors: doctors,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Book creates a Pending appointment for the calling patient. Overlapping
// bookings of the same slot are not detected.
func (s *Service) Book(ctx context.Context, actor user.Identity, req BookingRequest) (*Appointment, error) {
	if actor.Role != user.RolePatient {
		return nil, domain.Errorf(domain.ErrForbidden, "only patients can book appointments")
	}

	doctor, err := s.doctors.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	at := req.Time.UTC()
	if at.Before(now) {
		return nil, domain.Errorf(domain.ErrValidation, "appointment time cannot be in the past")
	}
	// slots are matched on the clock time the patient asked for
	if !doctor.Doctor.Timeslots.Offers(req.Time) {
		return nil, domain.Errorf(domain.ErrValidation, "appointment time does not match doctor's availability")
	}

	fee := doctor.Doctor.ConsultationFee
	a := &Appointment{
		PatientID:       actor.UserID,
		DoctorID:        doctor.ID,
		Time:            at,
		Notes:           strings.TrimSpace(req.Notes),
		Status:          StatusPending,
		ConsultationFee: &fee,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}

	s.metrics.Booked()
	s.logger.Info("appointment booked",
		zap.Int64("appointment_id", a.ID),
		zap.Int64("patient_id", a.PatientID),
		zap.Int64("doctor_id", a.DoctorID),
		zap.Time("appointment_time", a.Time))
	return a, nil
}

// UpdateStatus moves one of the calling doctor's appointments to status.
func (s *Service) UpdateStatus(ctx context.Context, actor user.Identity, id int64, status string) (*Appointment, error) {
	if actor.Role != user.RoleDoctor {
		return nil, domain.Errorf(domain.ErrForbidden, "only doctors can update appointment status")
	}
	to, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	a, from, err := s.store.UpdateStatus(ctx, id, actor.UserID, to, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.metrics.Transitioned(string(a.Status))
	s.logger.Info("appointment status changed",
		zap.Int64("appointment_id", a.ID),
		zap.String("from", string(from)),
		zap.String("to", string(a.Status)))
	return a, nil
}

// List returns the appointments actor may see that match f, by id.
func (s *Service) List(ctx context.Context, actor user.Identity, f Filter) ([]Appointment, error) {
	scope, err := ScopeFor(actor)
	if err != nil {
		return nil, err
	}
	if f.Status != "" {
		if _, err := ParseStatus(string(f.Status)); err != nil {
			return nil, err
		}
	}
	f.DoctorName = strings.TrimSpace(f.DoctorName)
	f.PatientName = strings.TrimSpace(f.PatientName)
	return s.store.List(ctx, scope, f)
}
