package user

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/auth"
	"github.com/medibook/go-appointments/internal/domain"
)

// MaxImageSize is the largest accepted profile image.
const MaxImageSize = 5 << 20

// ImageStore keeps profile images outside the database.
type ImageStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	Delete(ctx context.Context, key string) error
}

// Service implements registration, authentication and user lookups.
type Service struct {
	store  Store
	images ImageStore
	logger *zap.Logger
	newKey func(ext string) string
}

// NewService creates a user service. images may be nil, in which case
// registrations carrying a profile image are rejected.
func NewService(store Store, images ImageStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		images: images,
		logger: logger,
		newKey: func(ext string) string { return "profile-images/" + uuid.NewString() + ext },
	}
}

// Register validates reg, enforces unique email and mobile, stores the
// optional profile image and creates the user.
func (s *Service) Register(ctx context.Context, reg Registration, image *Image) (*User, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	if image != nil {
		if err := validateImage(image); err != nil {
			return nil, err
		}
		if s.images == nil {
			return nil, domain.Errorf(domain.ErrValidation, "profile images are not accepted")
		}
	}

	exists, err := s.store.EmailExists(ctx, reg.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		s.logger.Info("registration rejected: email taken", zap.String("email", reg.Email))
		return nil, domain.Errorf(domain.ErrConflict, "email already registered")
	}

	exists, err = s.store.MobileExists(ctx, reg.Mobile)
	if err != nil {
		return nil, err
	}
	if exists {
		s.logger.Info("registration rejected: mobile taken", zap.String("email", reg.Email))
		return nil, domain.Errorf(domain.ErrConflict, "mobile number already registered")
	}

	hash, err := auth.HashPassword(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		FullName:     strings.TrimSpace(reg.FullName),
		Email:        reg.Email,
		Mobile:       reg.Mobile,
		Role:         reg.Role,
		Address:      Address{Division: reg.Division, District: reg.District, Thana: reg.Thana},
		Doctor:       reg.doctorProfile(),
		PasswordHash: hash,
	}

	if image != nil {
		key := s.newKey(strings.ToLower(filepath.Ext(image.Filename)))
		if err := s.images.Put(ctx, key, image.ContentType, bytes.NewReader(image.Data)); err != nil {
			return nil, fmt.Errorf("store profile image: %w", err)
		}
		u.ProfileImageKey = key
	}

	if err := s.store.Create(ctx, u); err != nil {
		if u.ProfileImageKey != "" {
			if delErr := s.images.Delete(ctx, u.ProfileImageKey); delErr != nil {
				s.logger.Warn("failed to remove orphaned profile image",
					zap.String("key", u.ProfileImageKey), zap.Error(delErr))
			}
		}
		return nil, err
	}

	s.logger.Info("user registered",
		zap.Int64("user_id", u.ID),
		zap.String("role", string(u.Role)))
	return u, nil
}

func validateImage(img *Image) error {
	if len(img.Data) == 0 {
		return domain.Errorf(domain.ErrValidation, "profile_image is empty")
	}
	if len(img.Data) > MaxImageSize {
		return domain.Errorf(domain.ErrValidation, "profile_image exceeds %d bytes", MaxImageSize)
	}
	if !strings.HasPrefix(img.ContentType, "image/") {
		return domain.Errorf(domain.ErrValidation, "profile_image must be an image")
	}
	return nil
}

// Authenticate returns the user whose credentials match.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.store.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Errorf(domain.ErrUnauthenticated, "invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, domain.Errorf(domain.ErrUnauthenticated, "invalid credentials")
	}
	return u, nil
}

// Get returns the user with the given id.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.store.GetByID(ctx, id)
}

// GetDoctor returns the doctor with the given id, or ErrNotFound when id does
// not reference a doctor.
func (s *Service) GetDoctor(ctx context.Context, id int64) (*User, error) {
	u, err := s.store.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Errorf(domain.ErrNotFound, "doctor not found")
	}
	if err != nil {
		return nil, err
	}
	if !u.IsDoctor() {
		return nil, domain.Errorf(domain.ErrNotFound, "doctor not found")
	}
	return u, nil
}

// ListDoctors returns doctors filtered by a case-insensitive name substring.
func (s *Service) ListDoctors(ctx context.Context, name string) ([]User, error) {
	return s.store.ListDoctors(ctx, strings.TrimSpace(name))
}
