package appointment

import (
	"fmt"
	"strings"
	"time"

	"github.com/medibook/go-appointments/internal/domain"
	"github.com/medibook/go-appointments/internal/domain/user"
)

const dateLayout = "2006-01-02"

// Filter narrows a listing. Zero fields are ignored; the rest are ANDed.
type Filter struct {
	Status      Status
	DateFrom    *time.Time
	DateTo      *time.Time
	DoctorName  string
	PatientName string
}

// ParseDateFrom parses an inclusive lower bound: RFC 3339 or YYYY-MM-DD
// (midnight UTC).
func ParseDateFrom(s string) (time.Time, error) {
	return parseBound(s, "date_from", false)
}

// ParseDateTo parses an inclusive upper bound. A bare YYYY-MM-DD covers
// the whole day.
func ParseDateTo(s string) (time.Time, error) {
	return parseBound(s, "date_to", true)
}

func parseBound(s, field string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, domain.Errorf(domain.ErrValidation,
			"%s must be YYYY-MM-DD or an RFC 3339 timestamp", field)
	}
	if endOfDay {
		return d.Add(24*time.Hour - time.Microsecond), nil
	}
	return d, nil
}

// Scope restricts a listing to what the caller may see. Zero means all.
type Scope struct {
	PatientID int64
	DoctorID  int64
}

// ScopeFor returns the listing scope of actor's role.
func ScopeFor(actor user.Identity) (Scope, error) {
	switch actor.Role {
	case user.RoleDoctor:
		return Scope{DoctorID: actor.UserID}, nil
	case user.RolePatient:
		return Scope{PatientID: actor.UserID}, nil
	case user.RoleAdmin:
		return Scope{}, nil
	}
	return Scope{}, domain.Errorf(domain.ErrForbidden, "unauthorized")
}

const listColumns = `
	a.id, a.patient_id, a.doctor_id, a.appointment_time, COALESCE(a.notes, ''),
	a.status, a.consultation_fee, a.created_at, a.updated_at,
	p.id, COALESCE(p.full_name, ''), COALESCE(p.email, ''),
	d.id, COALESCE(d.full_name, ''), COALESCE(d.email, '')`

const listFrom = `
	FROM appointments a
	LEFT JOIN users p ON p.id = a.patient_id
	LEFT JOIN users d ON d.id = a.doctor_id`

// whereBuilder accumulates positional predicates.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func buildListQuery(scope Scope, f Filter) (string, []any) {
	var w whereBuilder
	if scope.DoctorID != 0 {
		w.add("a.doctor_id = $%d", scope.DoctorID)
	}
	if scope.PatientID != 0 {
		w.add("a.patient_id = $%d", scope.PatientID)
	}
	if f.Status != "" {
		w.add("a.status = $%d", string(f.Status))
	}
	if f.DateFrom != nil {
		w.add("a.appointment_time >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		w.add("a.appointment_time <= $%d", *f.DateTo)
	}
	if f.DoctorName != "" {
		w.add("d.full_name ILIKE $%d", "%"+user.EscapeLike(f.DoctorName)+"%")
	}
	if f.PatientName != "" {
		w.add("p.full_name ILIKE $%d", "%"+user.EscapeLike(f.PatientName)+"%")
	}
	return `SELECT ` + listColumns + listFrom + w.String() + ` ORDER BY a.id ASC`, w.args
}
