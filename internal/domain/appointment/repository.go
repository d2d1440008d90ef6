package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/domain"
	"github.com/medibook/go-appointments/internal/infrastructure/postgres"
)

// Store persists appointments together with their outbox events.
type Store interface {
	Create(ctx context.Context, a *Appointment) error
	UpdateStatus(ctx context.Context, id, doctorID int64, to Status, at time.Time) (*Appointment, Status, error)
	List(ctx context.Context, scope Scope, f Filter) ([]Appointment, error)
}

// Repository is the PostgreSQL Store. It also serves the read models of
// the periodic jobs.
type Repository struct {
	db     postgres.DB
	logger *zap.Logger
}

// NewRepository creates a new appointment repository
func NewRepository(db postgres.DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger}
}

// Create inserts a and its booked event in one transaction.
func (r *Repository) Create(ctx context.Context, a *Appointment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO appointments
		(patient_id, doctor_id, appointment_time, notes, status, consultation_fee, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	var notes any
	if a.Notes != "" {
		notes = a.Notes
	}
	err = tx.QueryRow(ctx, query,
		a.PatientID, a.DoctorID, a.Time, notes, string(a.Status),
		a.ConsultationFee, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	if err := writeEvent(ctx, tx, NewEvent(EventBooked, a, a.CreatedAt)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// UpdateStatus locks the doctor's appointment, applies the transition and
// records a status_changed event. It returns the updated appointment and
// the status it left.
func (r *Repository) UpdateStatus(ctx context.Context, id, doctorID int64, to Status, at time.Time) (*Appointment, Status, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT id, patient_id, doctor_id, appointment_time, COALESCE(notes, ''),
		       status, consultation_fee, created_at, updated_at
		FROM appointments
		WHERE id = $1 AND doctor_id = $2
		FOR UPDATE
	`
	var (
		a      Appointment
		status string
	)
	err = tx.QueryRow(ctx, query, id, doctorID).Scan(
		&a.ID, &a.PatientID, &a.DoctorID, &a.Time, &a.Notes,
		&status, &a.ConsultationFee, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", domain.Errorf(domain.ErrNotFound, "appointment not found or not authorized")
	}
	if err != nil {
		return nil, "", fmt.Errorf("load appointment %d: %w", id, err)
	}
	a.Status = Status(status)
	from := a.Status

	if err := a.Transition(to); err != nil {
		return nil, "", err
	}
	a.UpdatedAt = at

	_, err = tx.Exec(ctx,
		`UPDATE appointments SET status = $1, updated_at = $2 WHERE id = $3`,
		string(a.Status), a.UpdatedAt, a.ID)
	if err != nil {
		return nil, "", fmt.Errorf("update appointment %d: %w", id, err)
	}

	ev := NewEvent(EventStatusChanged, &a, at)
	ev.PreviousStatus = from
	if err := writeEvent(ctx, tx, ev); err != nil {
		return nil, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("commit: %w", err)
	}

	r.logger.Debug("appointment status updated",
		zap.Int64("appointment_id", a.ID),
		zap.String("from", string(from)),
		zap.String("to", string(a.Status)))
	return &a, from, nil
}

func writeEvent(ctx context.Context, tx pgx.Tx, ev *Event) error {
	entry, err := ev.OutboxEntry()
	if err != nil {
		return err
	}
	if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
		return fmt.Errorf("write %s to outbox: %w", ev.Type, err)
	}
	return nil
}

// List returns the appointments visible in scope that match f.
func (r *Repository) List(ctx context.Context, scope Scope, f Filter) ([]Appointment, error) {
	query, args := buildListQuery(scope, f)
	return r.query(ctx, query, args...)
}

// ListInWindow returns appointments with status in statuses whose time falls
// in [from, to], optionally limited to one doctor.
func (r *Repository) ListInWindow(ctx context.Context, doctorID int64, from, to time.Time, statuses ...Status) ([]Appointment, error) {
	var w whereBuilder
	if doctorID != 0 {
		w.add("a.doctor_id = $%d", doctorID)
	}
	w.add("a.appointment_time >= $%d", from)
	w.add("a.appointment_time <= $%d", to)
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	w.add("a.status = ANY($%d)", names)

	return r.query(ctx, `SELECT `+listColumns+listFrom+w.String()+` ORDER BY a.id ASC`, w.args...)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var (
			a               Appointment
			status          string
			patientID       *int64
			doctorID        *int64
			patient, doctor Party
		)
		err := rows.Scan(
			&a.ID, &a.PatientID, &a.DoctorID, &a.Time, &a.Notes,
			&status, &a.ConsultationFee, &a.CreatedAt, &a.UpdatedAt,
			&patientID, &patient.FullName, &patient.Email,
			&doctorID, &doctor.FullName, &doctor.Email,
		)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		a.Status = Status(status)
		if patientID != nil {
			patient.ID = *patientID
			a.Patient = &patient
		}
		if doctorID != nil {
			doctor.ID = *doctorID
			a.Doctor = &doctor
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
