package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/domain/appointment"
	"github.com/medibook/go-appointments/internal/notify"
	"github.com/medibook/go-appointments/pkg/workerpool"
)

// TomorrowWindow returns [tomorrow 00:00, tomorrow 23:59:59.999] in UTC.
func TomorrowWindow(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return start, start.Add(24*time.Hour - time.Millisecond)
}

// Reminders emails patients about their confirmed appointments tomorrow.
type Reminders struct {
	appts  AppointmentSource
	sender notify.EmailSender
	pool   workerpool.Config
	logger *zap.Logger
	now    func() time.Time
}

func NewReminders(appts AppointmentSource, sender notify.EmailSender, pool workerpool.Config, logger *zap.Logger) *Reminders {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reminders{appts: appts, sender: sender, pool: pool, logger: logger, now: time.Now}
}

// Run sends one reminder per appointment. Appointments whose patient no
// longer exists are skipped; a missing doctor is named "your doctor".
func (r *Reminders) Run(ctx context.Context) (RunSummary, error) {
	from, to := TomorrowWindow(r.now())

	appts, err := r.appts.ListInWindow(ctx, 0, from, to, appointment.StatusConfirmed)
	if err != nil {
		return RunSummary{}, fmt.Errorf("load tomorrow's appointments: %w", err)
	}

	tasks := make([]*workerpool.Task, len(appts))
	for i := range appts {
		tasks[i] = &workerpool.Task{ID: strconv.FormatInt(appts[i].ID, 10), Payload: &appts[i]}
	}

	summary, err := fanOut(ctx, r.pool, tasks, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		a := task.Payload.(*appointment.Appointment)
		if a.Patient == nil {
			r.logger.Warn("reminder skipped: patient missing",
				zap.Int64("appointment_id", a.ID),
				zap.Int64("patient_id", a.PatientID))
			return skipped(task)
		}

		var doctorName string
		if a.Doctor != nil {
			doctorName = a.Doctor.FullName
		} else {
			r.logger.Warn("reminder without doctor name: doctor missing",
				zap.Int64("appointment_id", a.ID),
				zap.Int64("doctor_id", a.DoctorID))
		}

		msg := notify.ReminderEmail(a.Patient.Email, a.Patient.FullName, doctorName, a.Time)
		if err := r.sender.Send(ctx, msg); err != nil {
			return failed(task, fmt.Errorf("send reminder for appointment %d: %w", a.ID, err))
		}
		return sent(task)
	}, r.logger)

	r.logger.Info("reminder run complete",
		zap.Time("from", from),
		zap.Int("appointments", summary.Total),
		zap.Int("sent", summary.Sent),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	return summary, err
}

// Job adapts Run to the runner.
func (r *Reminders) Job() Job {
	return func(ctx context.Context) error {
		_, err := r.Run(ctx)
		return err
	}
}
