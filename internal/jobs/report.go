package jobs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/domain/appointment"
	"github.com/medibook/go-appointments/internal/domain/user"
	"github.com/medibook/go-appointments/internal/notify"
	"github.com/medibook/go-appointments/pkg/workerpool"
)

// DoctorSource lists doctors. *user.Service satisfies it.
type DoctorSource interface {
	ListDoctors(ctx context.Context, name string) ([]user.User, error)
}

// AppointmentSource reads appointments in a time window.
// *appointment.Repository satisfies it.
type AppointmentSource interface {
	ListInWindow(ctx context.Context, doctorID int64, from, to time.Time, statuses ...appointment.Status) ([]appointment.Appointment, error)
}

// Report is one doctor's activity since the start of the month.
type Report struct {
	DoctorName   string
	Patients     int
	Appointments int
	Earnings     float64
	GeneratedAt  time.Time
}

// Summarize aggregates the doctor's qualifying appointments. A missing
// consultation fee counts as zero.
func Summarize(doctorName string, appts []appointment.Appointment, at time.Time) Report {
	patients := make(map[int64]struct{}, len(appts))
	var earnings float64
	for _, a := range appts {
		patients[a.PatientID] = struct{}{}
		if a.ConsultationFee != nil {
			earnings += *a.ConsultationFee
		}
	}
	return Report{
		DoctorName:   doctorName,
		Patients:     len(patients),
		Appointments: len(appts),
		Earnings:     earnings,
		GeneratedAt:  at,
	}
}

const reportRule = "----------------------------------------------"

// Body renders the report as plain text.
func (r Report) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Monthly Report for Dr. %s\n", r.DoctorName)
	b.WriteString(reportRule + "\n")
	fmt.Fprintf(&b, "Total Patients Seen: %d\n", r.Patients)
	fmt.Fprintf(&b, "Total Appointments : %d\n", r.Appointments)
	fmt.Fprintf(&b, "Total Earnings     : BDT %.2f\n", r.Earnings)
	b.WriteString(reportRule + "\n")
	fmt.Fprintf(&b, "Generated on: %s\n", r.GeneratedAt.UTC().Format("2006-01-02"))
	return b.String()
}

// MonthStart returns midnight UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthlyReport emails every doctor a summary of the current month's
// confirmed and completed appointments. Doctors without appointments still
// receive a report.
type MonthlyReport struct {
	doctors DoctorSource
	appts   AppointmentSource
	sender  notify.EmailSender
	pool    workerpool.Config
	logger  *zap.Logger
	now     func() time.Time
}

func NewMonthlyReport(doctors DoctorSource, appts AppointmentSource, sender notify.EmailSender, pool workerpool.Config, logger *zap.Logger) *MonthlyReport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonthlyReport{
		doctors: doctors,
		appts:   appts,
		sender:  sender,
		pool:    pool,
		logger:  logger,
		now:     time.Now,
	}
}

// Run reports on every doctor. One doctor's failure never stops the others;
// only failing to list doctors is an error.
func (m *MonthlyReport) Run(ctx context.Context) (RunSummary, error) {
	now := m.now().UTC()
	from := MonthStart(now)

	doctors, err := m.doctors.ListDoctors(ctx, "")
	if err != nil {
		return RunSummary{}, fmt.Errorf("list doctors: %w", err)
	}

	tasks := make([]*workerpool.Task, len(doctors))
	for i := range doctors {
		tasks[i] = &workerpool.Task{ID: strconv.FormatInt(doctors[i].ID, 10), Payload: &doctors[i]}
	}

	summary, err := fanOut(ctx, m.pool, tasks, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		doctor := task.Payload.(*user.User)
		appts, err := m.appts.ListInWindow(ctx, doctor.ID, from, now,
			appointment.StatusConfirmed, appointment.StatusCompleted)
		if err != nil {
			return failed(task, fmt.Errorf("load appointments for doctor %d: %w", doctor.ID, err))
		}

		report := Summarize(doctor.FullName, appts, now)
		if err := m.sender.Send(ctx, notify.MonthlyReportEmail(doctor.Email, doctor.FullName, report.Body())); err != nil {
			return failed(task, fmt.Errorf("send report to doctor %d: %w", doctor.ID, err))
		}
		return sent(task)
	}, m.logger)

	m.logger.Info("monthly report run complete",
		zap.Time("from", from),
		zap.Int("doctors", summary.Total),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed))
	return summary, err
}

// Job adapts Run to the runner.
func (m *MonthlyReport) Job() Job {
	return func(ctx context.Context) error {
		_, err := m.Run(ctx)
		return err
	}
}
