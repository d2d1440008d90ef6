// Package main creates demo accounts for local development: one admin, one
// doctor and one patient. Accounts that already exist are left alone.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/bootstrap"
	"github.com/medibook/go-appointments/internal/config"
	"github.com/medibook/go-appointments/internal/domain"
	"github.com/medibook/go-appointments/internal/domain/user"
)

func main() {
	cfg := config.Load()

	logger, err := bootstrap.Logger(cfg, "seed")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := bootstrap.Postgres(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	users := user.NewService(user.NewRepository(pool, logger), nil, logger)

	password := os.Getenv("SEED_PASSWORD")
	if password == "" {
		password = "Medibook@2024"
	}

	for _, reg := range demoUsers(password) {
		u, err := users.Register(ctx, reg, nil)
		switch {
		case errors.Is(err, domain.ErrConflict):
			logger.Info("already seeded", zap.String("email", reg.Email))
		case err != nil:
			logger.Fatal("seed user", zap.String("email", reg.Email), zap.Error(err))
		default:
			logger.Info("seeded user", zap.Int64("id", u.ID), zap.String("email", u.Email), zap.String("user_type", string(u.Role)))
		}
	}
}

func demoUsers(password string) []user.Registration {
	years, fee := 12, 800.0
	base := func(name, email, mobile string, role user.Role) user.Registration {
		return user.Registration{
			FullName: name,
			Email:    email,
			Mobile:   mobile,
			Password: password,
			Role:     role,
			Division: "Dhaka",
			District: "Dhaka",
			Thana:    "Dhanmondi",
		}
	}

	doctor := base("Dr. Nusrat Karim", "doctor@medibook.local", "+8801700000002", user.RoleDoctor)
	doctor.LicenseNumber = "BMDC-A-10234"
	doctor.ExperienceYears = &years
	doctor.ConsultationFee = &fee
	doctor.AvailableTimeslots = "09:00-12:00,16:00-20:00"

	return []user.Registration{
		base("MediBook Admin", "admin@medibook.local", "+8801700000001", user.RoleAdmin),
		doctor,
		base("Rahim Uddin", "patient@medibook.local", "+8801700000003", user.RolePatient),
	}
}
