package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/api/middleware"
	"github.com/medibook/go-appointments/internal/domain"
	"github.com/medibook/go-appointments/internal/domain/appointment"
	"github.com/medibook/go-appointments/internal/domain/user"
	"github.com/medibook/go-appointments/internal/jobs"
)

type fakeUsers struct {
	registered user.Registration
	image      *user.Image
	err        error
	users      map[int64]*user.User
	doctorsFor string
}

func (f *fakeUsers) Register(_ context.Context, reg user.Registration, image *user.Image) (*user.User, error) {
	f.registered, f.image = reg, image
	if f.err != nil {
		return nil, f.err
	}
	return &user.User{ID: 11, FullName: reg.FullName, Email: reg.Email, Mobile: reg.Mobile, Role: reg.Role, PasswordHash: "hash"}, nil
}

func (f *fakeUsers) Authenticate(_ context.Context, email, password string) (*user.User, error) {
	if email == "pat@example.com" && password == "Passw0rd!" {
		return &user.User{ID: 3, Email: email, Role: user.RolePatient}, nil
	}
	return nil, domain.Errorf(domain.ErrUnauthenticated, "invalid credentials")
}

func (f *fakeUsers) Get(_ context.Context, id int64) (*user.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, domain.Errorf(domain.ErrNotFound, "user not found")
}

func (f *fakeUsers) ListDoctors(_ context.Context, name string) ([]user.User, error) {
	f.doctorsFor = name
	slots, _ := user.ParseTimeslots("10:00-11:00,11:00-12:00")
	return []user.User{{
		ID: 2, FullName: "Dr. Ann", Role: user.RoleDoctor,
		Doctor: &user.DoctorProfile{ConsultationFee: 500, Timeslots: slots},
	}}, nil
}

type fakeTokens struct{}

func (fakeTokens) Issue(userID int64, email, userType string) (string, error) {
	return "tok-" + userType, nil
}

type fakeAppointments struct {
	booked   appointment.BookingRequest
	filter   appointment.Filter
	status   string
	err      error
	listed   []appointment.Appointment
	statusID int64
}

func (f *fakeAppointments) Book(_ context.Context, actor user.Identity, req appointment.BookingRequest) (*appointment.Appointment, error) {
	f.booked = req
	if f.err != nil {
		return nil, f.err
	}
	return &appointment.Appointment{ID: 1, PatientID: actor.UserID, DoctorID: req.DoctorID, Time: req.Time, Status: appointment.StatusPending}, nil
}

func (f *fakeAppointments) UpdateStatus(_ context.Context, _ user.Identity, id int64, status string) (*appointment.Appointment, error) {
	f.statusID, f.status = id, status
	if f.err != nil {
		return nil, f.err
	}
	return &appointment.Appointment{ID: id, Status: appointment.Status(status)}, nil
}

func (f *fakeAppointments) List(_ context.Context, _ user.Identity, filter appointment.Filter) ([]appointment.Appointment, error) {
	f.filter = filter
	return f.listed, f.err
}

type fakeTrigger struct {
	names []string
	err   error
}

func (f *fakeTrigger) Trigger(name string) error {
	f.names = append(f.names, name)
	return f.err
}

func as(r *http.Request, id user.Identity) *http.Request {
	return r.WithContext(middleware.WithIdentity(r.Context(), id))
}

var patient = user.Identity{UserID: 3, Email: "pat@example.com", Role: user.RolePatient}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.Errorf(domain.ErrValidation, "x"):        http.StatusBadRequest,
		domain.Errorf(domain.ErrInvalidTransition, "x"): http.StatusBadRequest,
		domain.Errorf(domain.ErrUnauthenticated, "x"):   http.StatusUnauthorized,
		domain.Errorf(domain.ErrForbidden, "x"):         http.StatusForbidden,
		domain.Errorf(domain.ErrNotFound, "x"):          http.StatusNotFound,
		domain.Errorf(domain.ErrConflict, "x"):          http.StatusConflict,
		errors.New("db down"):                           0,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), zap.NewNop(), errors.New("pq: password leaked"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRegisterJSON(t *testing.T) {
	users := &fakeUsers{}
	h := NewUserHandler(users, fakeTokens{}, nil)

	body := `{"full_name":"Pat","email":"pat@example.com","mobile_number":"+8801712345678","password":"Passw0rd!","user_type":"patient"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.Register(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "+8801712345678", users.registered.Mobile)
	assert.Nil(t, users.image)
	assert.NotContains(t, rec.Body.String(), "hash")
	assert.NotContains(t, rec.Body.String(), "password")

	var v UserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, int64(11), v.ID)
	assert.Equal(t, user.RolePatient, v.UserType)
}

func TestRegisterMultipartFields(t *testing.T) {
	users := &fakeUsers{}
	h := NewUserHandler(users, fakeTokens{}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"full_name":           "Dr. Ann",
		"email":               "ann@example.com",
		"mobile_number":       "+8801712345679",
		"password":            "Passw0rd!",
		"user_type":           "doctor",
		"license_number":      "LIC-1",
		"experience_years":    "7",
		"consultation_fee":    "500.50",
		"available_timeslots": "10:00-11:00",
	} {
		require.NoError(t, mw.WriteField(k, v))
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="profile_image"; filename="me.png"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\nrest"))
	require.NoError(t, mw.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/users/register", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	h.Register(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, users.registered.ExperienceYears)
	assert.Equal(t, 7, *users.registered.ExperienceYears)
	assert.InDelta(t, 500.50, *users.registered.ConsultationFee, 0.001)
	require.NotNil(t, users.image)
	assert.Equal(t, "image/png", users.image.ContentType)
	assert.Equal(t, "me.png", users.image.Filename)
}

func TestRegisterMultipartDataField(t *testing.T) {
	users := &fakeUsers{}
	h := NewUserHandler(users, fakeTokens{}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("data", `{"full_name":"Pat","email":"pat@example.com","user_type":"patient"}`))
	require.NoError(t, mw.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/register", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	h.Register(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "pat@example.com", users.registered.Email)
	assert.Nil(t, users.image)
}

func TestRegisterErrors(t *testing.T) {
	users := &fakeUsers{err: domain.Errorf(domain.ErrConflict, "email already registered")}
	h := NewUserHandler(users, fakeTokens{}, nil)

	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":"a@b.c"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"email already registered"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("experience_years", "many"))
	require.NoError(t, mw.Close())
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/register", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	h.Register(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "experience_years")
}

func TestLogin(t *testing.T) {
	h := NewUserHandler(&fakeUsers{}, fakeTokens{}, nil)

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"pat@example.com","password":"Passw0rd!"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"access_token":"tok-patient","token_type":"bearer","user_type":"patient","email":"pat@example.com"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"pat@example.com","password":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"pat@example.com"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMe(t *testing.T) {
	slots, _ := user.ParseTimeslots("10:00-11:00")
	users := &fakeUsers{users: map[int64]*user.User{
		2: {ID: 2, FullName: "Dr. Ann", Email: "ann@example.com", Role: user.RoleDoctor,
			Doctor: &user.DoctorProfile{LicenseNumber: "LIC-1", ExperienceYears: 7, ConsultationFee: 500, Timeslots: slots}},
	}}
	h := NewUserHandler(users, fakeTokens{}, nil)

	rec := httptest.NewRecorder()
	h.Me(rec, as(httptest.NewRequest(http.MethodGet, "/users/me", nil), user.Identity{UserID: 2, Role: user.RoleDoctor}))
	require.Equal(t, http.StatusOK, rec.Code)
	var v UserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "10:00-11:00", v.AvailableTimeslots)
	assert.Equal(t, 7, *v.ExperienceYears)

	rec = httptest.NewRecorder()
	h.Me(rec, as(httptest.NewRequest(http.MethodGet, "/users/me", nil), user.Identity{UserID: 99}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDoctors(t *testing.T) {
	users := &fakeUsers{}
	h := NewUserHandler(users, fakeTokens{}, nil)

	rec := httptest.NewRecorder()
	h.Doctors(rec, httptest.NewRequest(http.MethodGet, "/users/doctors?name=ann", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ann", users.doctorsFor)
	assert.JSONEq(t, `[{"id":2,"full_name":"Dr. Ann","available_timeslots":"10:00-11:00,11:00-12:00","consultation_fee":500}]`, rec.Body.String())
}

func appointmentRouter(svc AppointmentService, trigger JobTrigger, id user.Identity) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, as(r, id))
		})
	})
	r.Mount("/", NewAppointmentHandler(svc, trigger, nil).Routes())
	return r
}

func TestBook(t *testing.T) {
	svc := &fakeAppointments{}
	h := appointmentRouter(svc, nil, patient)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/appointments",
		strings.NewReader(`{"doctor_id":2,"appointment_time":"2026-03-11T10:00:00","notes":"cough"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC), svc.booked.Time)
	assert.Equal(t, "cough", svc.booked.Notes)

	var v AppointmentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, appointment.StatusPending, v.Status)
	assert.Equal(t, int64(3), v.PatientID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/appointments",
		strings.NewReader(`{"doctor_id":2,"appointment_time":"2026-03-11T12:00:00+06:00"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC).Equal(svc.booked.Time))
	assert.Equal(t, "12:00", svc.booked.Time.Format("15:04"))

	for _, body := range []string{
		`{"appointment_time":"2026-03-11T10:00:00"}`,
		`{"doctor_id":2}`,
		`{"doctor_id":2,"appointment_time":"tomorrow"}`,
	} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	svc.err = domain.Errorf(domain.ErrForbidden, "only patients can book appointments")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/appointments",
		strings.NewReader(`{"doctor_id":2,"appointment_time":"2026-03-11T10:00:00Z"}`)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUpdateStatus(t *testing.T) {
	svc := &fakeAppointments{}
	h := appointmentRouter(svc, nil, user.Identity{UserID: 2, Role: user.RoleDoctor})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/appointments/5/status", strings.NewReader(`{"status":"Confirmed"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(5), svc.statusID)
	assert.Equal(t, "Confirmed", svc.status)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/appointments/abc/status", strings.NewReader(`{"status":"Confirmed"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = domain.Errorf(domain.ErrInvalidTransition, "cannot update a completed appointment")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/appointments/5/status", strings.NewReader(`{"status":"Cancelled"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"cannot update a completed appointment"}`, rec.Body.String())

	svc.err = domain.Errorf(domain.ErrNotFound, "appointment not found or not authorized")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/appointments/6/status", strings.NewReader(`{"status":"Cancelled"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListFilters(t *testing.T) {
	svc := &fakeAppointments{listed: []appointment.Appointment{
		{ID: 1, Status: appointment.StatusPending, Doctor: &appointment.Party{ID: 2, FullName: "Dr. Ann"}},
	}}
	h := appointmentRouter(svc, nil, patient)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/appointments?status=Pending&date_from=2026-03-01&date_to=2026-03-31&doctor_name=ann", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appointment.StatusPending, svc.filter.Status)
	assert.Equal(t, "ann", svc.filter.DoctorName)
	require.NotNil(t, svc.filter.DateFrom)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *svc.filter.DateFrom)
	assert.True(t, svc.filter.DateTo.After(time.Date(2026, 3, 31, 23, 59, 0, 0, time.UTC)))

	var out []AppointmentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "Dr. Ann", out[0].Doctor.FullName)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments?date_from=March", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.listed = nil
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments", nil))
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestTriggerReport(t *testing.T) {
	trigger := &fakeTrigger{}
	admin := user.Identity{UserID: 1, Role: user.RoleAdmin}

	rec := httptest.NewRecorder()
	appointmentRouter(&fakeAppointments{}, trigger, admin).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/test", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{jobs.JobMonthlyReport}, trigger.names)

	rec = httptest.NewRecorder()
	appointmentRouter(&fakeAppointments{}, trigger, patient).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/test", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	appointmentRouter(&fakeAppointments{}, &fakeTrigger{err: jobs.ErrUnknownJob}, admin).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/test", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	appointmentRouter(&fakeAppointments{}, nil, admin).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report/test", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
