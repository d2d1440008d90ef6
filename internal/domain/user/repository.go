package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/domain"
	"github.com/medibook/go-appointments/internal/infrastructure/postgres"
)

// Store persists users.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	MobileExists(ctx context.Context, mobile string) (bool, error)
	ListDoctors(ctx context.Context, name string) ([]User, error)
}

// Repository is the PostgreSQL Store.
type Repository struct {
	db     postgres.DB
	logger *zap.Logger
}

// NewRepository creates a new user repository
func NewRepository(db postgres.DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger}
}

const userColumns = `
	id, full_name, email, mobile_number, hashed_password, user_type,
	COALESCE(division, ''), COALESCE(district, ''), COALESCE(thana, ''),
	COALESCE(profile_image_key, ''),
	COALESCE(license_number, ''), COALESCE(experience_years, 0),
	COALESCE(consultation_fee, 0), COALESCE(available_timeslots, ''),
	created_at`

type scanner interface {
	Scan(dest ...any) error
}

// scanUser reads one row. A doctor whose stored timeslots do not parse is
// kept with no timeslots, so it can never be booked but still appears in
// listings and reports.
func (r *Repository) scanUser(row scanner) (*User, error) {
	var (
		u         User
		role      string
		profile   DoctorProfile
		timeslots string
	)
	err := row.Scan(
		&u.ID, &u.FullName, &u.Email, &u.Mobile, &u.PasswordHash, &role,
		&u.Address.Division, &u.Address.District, &u.Address.Thana,
		&u.ProfileImageKey,
		&profile.LicenseNumber, &profile.ExperienceYears,
		&profile.ConsultationFee, &timeslots,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Role = Role(role)
	if u.Role == RoleDoctor {
		if timeslots != "" {
			slots, err := ParseTimeslots(timeslots)
			if err != nil {
				r.logger.Warn("doctor has malformed timeslots",
					zap.Int64("user_id", u.ID),
					zap.String("available_timeslots", timeslots),
					zap.Error(err))
			}
			profile.Timeslots = slots
		}
		u.Doctor = &profile
	}
	return &u, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Create inserts u and fills in its ID and CreatedAt.
func (r *Repository) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (
			full_name, email, mobile_number, hashed_password, user_type,
			division, district, thana, profile_image_key,
			license_number, experience_years, consultation_fee, available_timeslots
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`

	var (
		license   any
		years     any
		fee       any
		timeslots any
	)
	if u.Doctor != nil {
		license = u.Doctor.LicenseNumber
		years = u.Doctor.ExperienceYears
		fee = u.Doctor.ConsultationFee
		timeslots = u.Doctor.Timeslots.String()
	}

	err := r.db.QueryRow(ctx, query,
		u.FullName, u.Email, u.Mobile, u.PasswordHash, string(u.Role),
		nullable(u.Address.Division), nullable(u.Address.District), nullable(u.Address.Thana),
		nullable(u.ProfileImageKey),
		license, years, fee, timeslots,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if constraint, ok := postgres.UniqueViolation(err); ok {
			if strings.Contains(constraint, "mobile") {
				return domain.Errorf(domain.ErrConflict, "mobile number already registered")
			}
			return domain.Errorf(domain.ErrConflict, "email already registered")
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID returns the user with the given id.
func (r *Repository) GetByID(ctx context.Context, id int64) (*User, error) {
	u, err := r.scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Errorf(domain.ErrNotFound, "user %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// GetByEmail returns the user registered with email (case-sensitive).
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := r.scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Errorf(domain.ErrNotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (r *Repository) EmailExists(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email)
}

func (r *Repository) MobileExists(ctx context.Context, mobile string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE mobile_number = $1)`, mobile)
}

func (r *Repository) exists(ctx context.Context, query, arg string) (bool, error) {
	var ok bool
	if err := r.db.QueryRow(ctx, query, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return ok, nil
}

// ListDoctors returns doctors whose name contains name (case-insensitive), by id.
func (r *Repository) ListDoctors(ctx context.Context, name string) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_type = 'doctor'`
	var args []any
	if name != "" {
		query += ` AND full_name ILIKE $1`
		args = append(args, "%"+EscapeLike(name)+"%")
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan doctor: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes LIKE wildcards so s matches literally.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}
