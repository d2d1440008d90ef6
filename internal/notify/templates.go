package notify

import (
	"fmt"
	"time"
)

const timeLayout = "2006-01-02 15:04 UTC"

func doctorLabel(name string) string {
	if name == "" {
		return "your doctor"
	}
	return "Dr. " + name
}

// ReminderEmail tells a patient about tomorrow's appointment. An empty
// doctorName renders as "your doctor".
func ReminderEmail(to, toName, doctorName string, at time.Time) EmailMessage {
	return EmailMessage{
		To:      to,
		ToName:  toName,
		Subject: "Appointment Reminder",
		Body: fmt.Sprintf("Reminder: Appointment with %s at %s",
			doctorLabel(doctorName), at.UTC().Format(timeLayout)),
	}
}

// MonthlyReportEmail carries a rendered monthly report to a doctor.
func MonthlyReportEmail(to, toName, body string) EmailMessage {
	return EmailMessage{
		To:      to,
		ToName:  toName,
		Subject: "Your Monthly Appointment Report",
		Body:    body,
	}
}

// BookingReceivedEmail tells a doctor a patient booked a slot.
func BookingReceivedEmail(to, toName, patientName string, at time.Time) EmailMessage {
	if patientName == "" {
		patientName = "A patient"
	}
	return EmailMessage{
		To:      to,
		ToName:  toName,
		Subject: "New Appointment Request",
		Body: fmt.Sprintf("%s requested an appointment at %s. It is pending your confirmation.",
			patientName, at.UTC().Format(timeLayout)),
	}
}

// StatusChangedEmail tells a patient their appointment changed status.
func StatusChangedEmail(to, toName, doctorName, status string, at time.Time) EmailMessage {
	return EmailMessage{
		To:      to,
		ToName:  toName,
		Subject: "Appointment " + status,
		Body: fmt.Sprintf("Your appointment with %s at %s is now %s.",
			doctorLabel(doctorName), at.UTC().Format(timeLayout), status),
	}
}
