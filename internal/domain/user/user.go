// Package user implements identities, roles and doctor profiles.
package user

import (
	"time"
)

// Role is the fixed user category that determines permissions.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RolePatient:
		return true
	}
	return false
}

// Address is the optional postal location of a user.
type Address struct {
	Division string `json:"division,omitempty"`
	District string `json:"district,omitempty"`
	Thana    string `json:"thana,omitempty"`
}

// DoctorProfile holds the fields only doctors carry.
type DoctorProfile struct {
	LicenseNumber   string    `json:"license_number"`
	ExperienceYears int       `json:"experience_years"`
	ConsultationFee float64   `json:"consultation_fee"`
	Timeslots       Timeslots `json:"available_timeslots"`
}

// User is a registered identity. Doctor is non-nil iff Role is RoleDoctor.
type User struct {
	ID              int64
	FullName        string
	Email           string
	Mobile          string
	Role            Role
	Address         Address
	ProfileImageKey string
	Doctor          *DoctorProfile
	PasswordHash    string
	CreatedAt       time.Time
}

// IsDoctor reports whether the user is a doctor with a profile.
func (u *User) IsDoctor() bool {
	return u.Role == RoleDoctor && u.Doctor != nil
}

// Identity is the authenticated caller of an operation.
type Identity struct {
	UserID int64
	Email  string
	Role   Role
}

// Image is an uploaded profile picture.
type Image struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}
