package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/api/middleware"
	"github.com/medibook/go-appointments/internal/domain"
	"github.com/medibook/go-appointments/internal/domain/user"
)

var tracer = otel.Tracer("appointment-api")

// UserService is the part of user.Service the HTTP layer needs.
type UserService interface {
	Register(ctx context.Context, reg user.Registration, image *user.Image) (*user.User, error)
	Authenticate(ctx context.Context, email, password string) (*user.User, error)
	Get(ctx context.Context, id int64) (*user.User, error)
	ListDoctors(ctx context.Context, name string) ([]user.User, error)
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(userID int64, email, userType string) (string, error)
}

// UserHandler handles registration, login and user lookups.
type UserHandler struct {
	users  UserService
	tokens TokenIssuer
	logger *zap.Logger
}

func NewUserHandler(users UserService, tokens TokenIssuer, logger *zap.Logger) *UserHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserHandler{users: users, tokens: tokens, logger: logger}
}

// UserView is the public projection of a user. It never carries the
// password hash or image bytes.
type UserView struct {
	ID           int64     `json:"id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	Mobile       string    `json:"mobile_number"`
	UserType     user.Role `json:"user_type"`
	Division     string    `json:"division,omitempty"`
	District     string    `json:"district,omitempty"`
	Thana        string    `json:"thana,omitempty"`
	ProfileImage string    `json:"profile_image,omitempty"`

	LicenseNumber      string   `json:"license_number,omitempty"`
	ExperienceYears    *int     `json:"experience_years,omitempty"`
	ConsultationFee    *float64 `json:"consultation_fee,omitempty"`
	AvailableTimeslots string   `json:"available_timeslots,omitempty"`
}

func viewOf(u *user.User) UserView {
	v := UserView{
		ID:           u.ID,
		FullName:     u.FullName,
		Email:        u.Email,
		Mobile:       u.Mobile,
		UserType:     u.Role,
		Division:     u.Address.Division,
		District:     u.Address.District,
		Thana:        u.Address.Thana,
		ProfileImage: u.ProfileImageKey,
	}
	if d := u.Doctor; d != nil {
		years, fee := d.ExperienceYears, d.ConsultationFee
		v.LicenseNumber = d.LicenseNumber
		v.ExperienceYears = &years
		v.ConsultationFee = &fee
		v.AvailableTimeslots = d.Timeslots.String()
	}
	return v
}

// DoctorView is one entry of the public doctor directory.
type DoctorView struct {
	ID                 int64   `json:"id"`
	FullName           string  `json:"full_name"`
	AvailableTimeslots string  `json:"available_timeslots"`
	ConsultationFee    float64 `json:"consultation_fee"`
}

// Register creates a user from a JSON body or a multipart form.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "UserHandler.Register")
	defer span.End()

	reg, image, err := h.readRegistration(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	span.SetAttributes(attribute.String("user.type", string(reg.Role)))

	u, err := h.users.Register(ctx, reg, image)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info("user registered",
		zap.Int64("user_id", u.ID),
		zap.String("user_type", string(u.Role)),
	)
	writeJSON(w, http.StatusCreated, viewOf(u))
}

func (h *UserHandler) readRegistration(w http.ResponseWriter, r *http.Request) (user.Registration, *user.Image, error) {
	var reg user.Registration

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		err := decodeJSON(w, r, &reg)
		return reg, nil, err
	}

	r.Body = http.MaxBytesReader(w, r.Body, user.MaxImageSize+maxJSONBody)
	if err := r.ParseMultipartForm(user.MaxImageSize + maxJSONBody); err != nil {
		return reg, nil, domain.Errorf(domain.ErrValidation, "invalid multipart form: %v", err)
	}

	if data := r.FormValue("data"); data != "" {
		if err := json.Unmarshal([]byte(data), &reg); err != nil {
			return reg, nil, domain.Errorf(domain.ErrValidation, "invalid data field: %v", err)
		}
	} else if err := formRegistration(r, &reg); err != nil {
		return reg, nil, err
	}

	image, err := readImage(r)
	return reg, image, err
}

func formRegistration(r *http.Request, reg *user.Registration) error {
	reg.FullName = r.FormValue("full_name")
	reg.Email = r.FormValue("email")
	reg.Mobile = r.FormValue("mobile_number")
	reg.Password = r.FormValue("password")
	reg.Role = user.Role(r.FormValue("user_type"))
	reg.Division = r.FormValue("division")
	reg.District = r.FormValue("district")
	reg.Thana = r.FormValue("thana")
	reg.LicenseNumber = r.FormValue("license_number")
	reg.AvailableTimeslots = r.FormValue("available_timeslots")

	if v := strings.TrimSpace(r.FormValue("experience_years")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.Errorf(domain.ErrValidation, "experience_years must be an integer")
		}
		reg.ExperienceYears = &n
	}
	if v := strings.TrimSpace(r.FormValue("consultation_fee")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return domain.Errorf(domain.ErrValidation, "consultation_fee must be a number")
		}
		reg.ConsultationFee = &f
	}
	return nil
}

func readImage(r *http.Request) (*user.Image, error) {
	f, hdr, err := r.FormFile("profile_image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Errorf(domain.ErrValidation, "invalid profile_image: %v", err)
	}
	defer f.Close()

	// one extra byte so oversize files still fail validation
	data, err := io.ReadAll(io.LimitReader(f, user.MaxImageSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	ct := hdr.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	return &user.Image{
		Filename:    hdr.Filename,
		ContentType: ct,
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	UserType    user.Role `json:"user_type"`
	Email       string    `json:"email"`
}

// Login exchanges credentials for a bearer token.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "UserHandler.Login")
	defer span.End()

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		jsonError(w, "email and password are required", http.StatusBadRequest)
		return
	}

	u, err := h.users.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	token, err := h.tokens.Issue(u.ID, u.Email, string(u.Role))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		UserType:    u.Role,
		Email:       u.Email,
	})
}

// Me returns the authenticated caller.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		jsonError(w, "could not validate credentials", http.StatusUnauthorized)
		return
	}

	u, err := h.users.Get(r.Context(), id.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		// token outlived its user
		jsonError(w, "could not validate credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(u))
}

// Doctors lists doctors, optionally filtered by ?name=.
func (h *UserHandler) Doctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.users.ListDoctors(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out := make([]DoctorView, 0, len(doctors))
	for _, d := range doctors {
		v := DoctorView{ID: d.ID, FullName: d.FullName}
		if d.Doctor != nil {
			v.AvailableTimeslots = d.Doctor.Timeslots.String()
			v.ConsultationFee = d.Doctor.ConsultationFee
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}
