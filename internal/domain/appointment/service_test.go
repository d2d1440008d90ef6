package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medibook/go-appointments/internal/domain"
	"github.com/medibook/go-appointments/internal/domain/user"
)

type memStore struct {
	mu     sync.Mutex
	rows   []Appointment
	events []*Event
}

func (m *memStore) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, *a)
	m.events = append(m.events, NewEvent(EventBooked, a, a.CreatedAt))
	return nil
}

func (m *memStore) UpdateStatus(_ context.Context, id, doctorID int64, to Status, at time.Time) (*Appointment, Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		a := m.rows[i]
		if a.ID != id || a.DoctorID != doctorID {
			continue
		}
		from := a.Status
		if err := a.Transition(to); err != nil {
			return nil, "", err
		}
		a.UpdatedAt = at
		m.rows[i] = a
		ev := NewEvent(EventStatusChanged, &a, at)
		ev.PreviousStatus = from
		m.events = append(m.events, ev)
		return &a, from, nil
	}
	return nil, "", domain.Errorf(domain.ErrNotFound, "appointment not found or not authorized")
}

func (m *memStore) List(_ context.Context, scope Scope, f Filter) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.rows {
		if scope.DoctorID != 0 && a.DoctorID != scope.DoctorID {
			continue
		}
		if scope.PatientID != 0 && a.PatientID != scope.PatientID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type doctorMap map[int64]*user.User

func (d doctorMap) GetDoctor(_ context.Context, id int64) (*user.User, error) {
	u, ok := d[id]
	if !ok || !u.IsDoctor() {
		return nil, domain.Errorf(domain.ErrNotFound, "doctor not found")
	}
	return u, nil
}

var (
	fixedNow = time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	tomorrow = time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)

	patient   = user.Identity{UserID: 3, Email: "patient@example.com", Role: user.RolePatient}
	doctor    = user.Identity{UserID: 2, Email: "doctor@example.com", Role: user.RoleDoctor}
	otherDoc  = user.Identity{UserID: 4, Email: "other@example.com", Role: user.RoleDoctor}
	adminUser = user.Identity{UserID: 1, Email: "admin@example.com", Role: user.RoleAdmin}
)

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	slots, err := user.ParseTimeslots("10:00-11:00,11:00-12:00")
	require.NoError(t, err)

	doctors := doctorMap{
		2: {ID: 2, FullName: "Dr. John", Role: user.RoleDoctor, Doctor: &user.DoctorProfile{
			ConsultationFee: 500, Timeslots: slots,
		}},
		3: {ID: 3, FullName: "Patient One", Role: user.RolePatient},
	}
	store := &memStore{}
	svc := NewService(store, doctors, nil, nil)
	svc.now = func() time.Time { return fixedNow }
	return svc, store
}

func TestBookingLifecycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	a, err := svc.Book(ctx, patient, BookingRequest{DoctorID: 2, Time: tomorrow.Add(10 * time.Hour), Notes: " checkup "})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, int64(3), a.PatientID)
	assert.Equal(t, int64(2), a.DoctorID)
	assert.Equal(t, "checkup", a.Notes)
	require.NotNil(t, a.ConsultationFee)
	assert.Equal(t, 500.0, *a.ConsultationFee)

	a, err = svc.UpdateStatus(ctx, doctor, a.ID, "Confirmed")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, a.Status)

	a, err = svc.UpdateStatus(ctx, doctor, a.ID, "Completed")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, a.Status)

	_, err = svc.UpdateStatus(ctx, doctor, a.ID, "Cancelled")
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))

	require.Len(t, store.events, 3)
	assert.Equal(t, EventBooked, store.events[0].Type)
	assert.Equal(t, StatusConfirmed, store.events[2].PreviousStatus)
	assert.Equal(t, StatusCompleted, store.events[2].Status)
}

func TestBookOutsideTimeslot(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Book(context.Background(), patient, BookingRequest{DoctorID: 2, Time: tomorrow.Add(9 * time.Hour)})
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.EqualError(t, err, "appointment time does not match doctor's availability")

	_, err = svc.Book(context.Background(), patient, BookingRequest{DoctorID: 2, Time: tomorrow.Add(10*time.Hour + 30*time.Minute)})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestBookMatchesSlotInCallerOffset(t *testing.T) {
	svc, store := newTestService(t)
	dhaka := time.FixedZone("BST", 6*60*60)

	a, err := svc.Book(context.Background(), patient, BookingRequest{DoctorID: 2, Time: time.Date(2026, 3, 11, 10, 0, 0, 0, dhaka)})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 4, 0, 0, 0, time.UTC), a.Time)
	assert.Equal(t, time.UTC, a.Time.Location())
	require.Len(t, store.events, 1)

	_, err = svc.Book(context.Background(), patient, BookingRequest{DoctorID: 2, Time: time.Date(2026, 3, 11, 16, 0, 0, 0, dhaka)})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestBookInPast(t *testing.T) {
	svc, _ := newTestService(t)

	yesterday := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	_, err := svc.Book(context.Background(), patient, BookingRequest{DoctorID: 2, Time: yesterday})
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.EqualError(t, err, "appointment time cannot be in the past")
}

func TestBookRequiresPatientAndDoctor(t *testing.T) {
	svc, store := newTestService(t)
	at := tomorrow.Add(10 * time.Hour)

	_, err := svc.Book(context.Background(), doctor, BookingRequest{DoctorID: 2, Time: at})
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = svc.Book(context.Background(), adminUser, BookingRequest{DoctorID: 2, Time: at})
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = svc.Book(context.Background(), patient, BookingRequest{DoctorID: 3, Time: at})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = svc.Book(context.Background(), patient, BookingRequest{DoctorID: 99, Time: at})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	assert.Empty(t, store.rows)
}

func TestUpdateStatusAuthorization(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	a, err := svc.Book(ctx, patient, BookingRequest{DoctorID: 2, Time: tomorrow.Add(11 * time.Hour)})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, patient, a.ID, "Confirmed")
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = svc.UpdateStatus(ctx, otherDoc, a.ID, "Confirmed")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = svc.UpdateStatus(ctx, doctor, a.ID, "Done")
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = svc.UpdateStatus(ctx, doctor, a.ID, "Completed")
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestListScopedByRole(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	store.rows = []Appointment{
		{ID: 1, PatientID: 3, DoctorID: 2, Status: StatusPending},
		{ID: 2, PatientID: 5, DoctorID: 2, Status: StatusConfirmed},
		{ID: 3, PatientID: 3, DoctorID: 4, Status: StatusPending},
	}

	got, err := svc.List(ctx, doctor, Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = svc.List(ctx, patient, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(got))

	got, err = svc.List(ctx, adminUser, Filter{Status: StatusPending})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(got))

	_, err = svc.List(ctx, user.Identity{UserID: 9, Role: "guest"}, Filter{})
	assert.True(t, errors.Is(err, domain.ErrForbidden))

	_, err = svc.List(ctx, adminUser, Filter{Status: "Done"})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func ids(as []Appointment) []int64 {
	out := make([]int64, len(as))
	for i, a := range as {
		out[i] = a.ID
	}
	return out
}
