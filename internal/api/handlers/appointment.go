package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/api/middleware"
	"github.com/medibook/go-appointments/internal/domain"
	"github.com/medibook/go-appointments/internal/domain/appointment"
	"github.com/medibook/go-appointments/internal/domain/user"
	"github.com/medibook/go-appointments/internal/jobs"
)

// AppointmentService is the part of appointment.Service the HTTP layer needs.
type AppointmentService interface {
	Book(ctx context.Context, actor user.Identity, req appointment.BookingRequest) (*appointment.Appointment, error)
	UpdateStatus(ctx context.Context, actor user.Identity, id int64, status string) (*appointment.Appointment, error)
	List(ctx context.Context, actor user.Identity, f appointment.Filter) ([]appointment.Appointment, error)
}

// JobTrigger starts a registered job outside its schedule.
type JobTrigger interface {
	Trigger(name string) error
}

// AppointmentHandler handles booking, status updates, listings and the
// on-demand report trigger.
type AppointmentHandler struct {
	appointments AppointmentService
	jobs         JobTrigger
	logger       *zap.Logger
}

// NewAppointmentHandler creates the handler. jobs may be nil, in which case
// the report trigger answers 503.
func NewAppointmentHandler(svc AppointmentService, trigger JobTrigger, logger *zap.Logger) *AppointmentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppointmentHandler{appointments: svc, jobs: trigger, logger: logger}
}

// Routes returns the appointment router. Callers must mount it behind
// middleware.Authenticate.
func (h *AppointmentHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/appointments", h.Book)
	r.Get("/appointments", h.List)
	r.Patch("/appointments/{id}/status", h.UpdateStatus)
	r.With(middleware.RequireRole(user.RoleAdmin)).Get("/report/test", h.TriggerReport)

	return r
}

// AppointmentView is the JSON form of an appointment.
type AppointmentView struct {
	ID              int64              `json:"id"`
	PatientID       int64              `json:"patient_id"`
	DoctorID        int64              `json:"doctor_id"`
	AppointmentTime time.Time          `json:"appointment_time"`
	Notes           string             `json:"notes,omitempty"`
	Status          appointment.Status `json:"status"`
	ConsultationFee *float64           `json:"consultation_fee,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	Patient         *appointment.Party `json:"patient,omitempty"`
	Doctor          *appointment.Party `json:"doctor,omitempty"`
}

func appointmentView(a *appointment.Appointment) AppointmentView {
	return AppointmentView{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		AppointmentTime: a.Time.UTC(),
		Notes:           a.Notes,
		Status:          a.Status,
		ConsultationFee: a.ConsultationFee,
		CreatedAt:       a.CreatedAt.UTC(),
		UpdatedAt:       a.UpdatedAt.UTC(),
		Patient:         a.Patient,
		Doctor:          a.Doctor,
	}
}

func caller(w http.ResponseWriter, r *http.Request) (user.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		jsonError(w, "could not validate credentials", http.StatusUnauthorized)
	}
	return id, ok
}

// Book creates a Pending appointment for the calling patient.
func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "AppointmentHandler.Book")
	defer span.End()

	actor, ok := caller(w, r)
	if !ok {
		return
	}

	var body bookingBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req, err := body.request()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	span.SetAttributes(attribute.Int64("doctor.id", req.DoctorID))

	a, err := h.appointments.Book(ctx, actor, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	span.SetAttributes(attribute.Int64("appointment.id", a.ID))
	writeJSON(w, http.StatusCreated, appointmentView(a))
}

type bookingBody struct {
	DoctorID        int64  `json:"doctor_id"`
	AppointmentTime string `json:"appointment_time"`
	Notes           string `json:"notes"`
}

// Timestamps without an offset are read as UTC.
var naiveLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"}

func (b bookingBody) request() (appointment.BookingRequest, error) {
	req := appointment.BookingRequest{DoctorID: b.DoctorID, Notes: b.Notes}
	if b.DoctorID <= 0 {
		return req, domain.Errorf(domain.ErrValidation, "doctor_id is required")
	}
	if b.AppointmentTime == "" {
		return req, domain.Errorf(domain.ErrValidation, "appointment_time is required")
	}
	if t, err := time.Parse(time.RFC3339, b.AppointmentTime); err == nil {
		req.Time = t
		return req, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, b.AppointmentTime, time.UTC); err == nil {
			req.Time = t
			return req, nil
		}
	}
	return req, domain.Errorf(domain.ErrValidation, "appointment_time must be an ISO 8601 timestamp")
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus moves an appointment of the calling doctor to a new status.
func (h *AppointmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "AppointmentHandler.UpdateStatus")
	defer span.End()

	actor, ok := caller(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		jsonError(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int64("appointment.id", id))

	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	a, err := h.appointments.UpdateStatus(ctx, actor, id, req.Status)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentView(a))
}

// List returns the caller's appointments, narrowed by query filters.
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "AppointmentHandler.List")
	defer span.End()

	actor, ok := caller(w, r)
	if !ok {
		return
	}

	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	list, err := h.appointments.List(ctx, actor, f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out := make([]AppointmentView, 0, len(list))
	for i := range list {
		out = append(out, appointmentView(&list[i]))
	}
	span.SetAttributes(attribute.Int("appointments.count", len(out)))
	writeJSON(w, http.StatusOK, out)
}

func filterFromQuery(r *http.Request) (appointment.Filter, error) {
	q := r.URL.Query()
	f := appointment.Filter{
		Status:      appointment.Status(q.Get("status")),
		DoctorName:  q.Get("doctor_name"),
		PatientName: q.Get("patient_name"),
	}
	if v := q.Get("date_from"); v != "" {
		t, err := appointment.ParseDateFrom(v)
		if err != nil {
			return f, err
		}
		f.DateFrom = &t
	}
	if v := q.Get("date_to"); v != "" {
		t, err := appointment.ParseDateTo(v)
		if err != nil {
			return f, err
		}
		f.DateTo = &t
	}
	return f, nil
}

// TriggerReport starts the monthly report in the background.
func (h *AppointmentHandler) TriggerReport(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		jsonError(w, "report generation is not available", http.StatusServiceUnavailable)
		return
	}

	err := h.jobs.Trigger(jobs.JobMonthlyReport)
	if errors.Is(err, jobs.ErrUnknownJob) {
		jsonError(w, "report generation is not available", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	actor, _ := middleware.IdentityFrom(r.Context())
	h.logger.Info("monthly report triggered", zap.Int64("user_id", actor.UserID))
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Monthly report generation triggered"})
}
