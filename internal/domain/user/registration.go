package user

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/medibook/go-appointments/internal/domain"
)

var mobilePattern = regexp.MustCompile(`^\+88\d{11}$`)

const passwordSpecials = "@$!%*?&"

// Registration is the input of Service.Register.
type Registration struct {
	FullName string `json:"full_name" validate:"notblank"`
	Email    string `json:"email" validate:"required,email"`
	Mobile   string `json:"mobile_number" validate:"mobile"`
	Password string `json:"password" validate:"min=8,maxbytes=72,password"`
	Role     Role   `json:"user_type" validate:"oneof=admin doctor patient"`
	Division string `json:"division,omitempty"`
	District string `json:"district,omitempty"`
	Thana    string `json:"thana,omitempty"`

	LicenseNumber      string   `json:"license_number,omitempty" validate:"required_if=Role doctor"`
	ExperienceYears    *int     `json:"experience_years,omitempty" validate:"required_if=Role doctor,nonnegative"`
	ConsultationFee    *float64 `json:"consultation_fee,omitempty" validate:"required_if=Role doctor,nonnegative"`
	AvailableTimeslots string   `json:"available_timeslots,omitempty" validate:"required_if=Role doctor,timeslots"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})

	must := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
	must("notblank", validators.NotBlank)
	must("mobile", func(fl validator.FieldLevel) bool {
		return mobilePattern.MatchString(fl.Field().String())
	})
	must("maxbytes", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= n
	})
	must("password", func(fl validator.FieldLevel) bool {
		var upper, digit, special bool
		for _, c := range fl.Field().String() {
			switch {
			case unicode.IsUpper(c):
				upper = true
			case unicode.IsDigit(c):
				digit = true
			case strings.ContainsRune(passwordSpecials, c):
				special = true
			}
		}
		return upper && digit && special
	})
	// nil pointers are left to required_if
	must("nonnegative", func(fl validator.FieldLevel) bool {
		f := fl.Field()
		switch f.Kind() {
		case reflect.Int, reflect.Int64:
			return f.Int() >= 0
		case reflect.Float64:
			return f.Float() >= 0
		}
		return true
	})
	must("timeslots", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if strings.TrimSpace(s) == "" {
			return true
		}
		_, err := ParseTimeslots(s)
		return err == nil
	})
	return v
}

// Validate checks the registration. Failures wrap domain.ErrValidation.
func (r *Registration) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate registration: %w", err)
	}

	first := verrs[0]
	if first.Tag() == "required_if" {
		var missing []string
		for _, fe := range verrs {
			if fe.Tag() == "required_if" {
				missing = append(missing, fe.Field())
			}
		}
		return domain.Errorf(domain.ErrValidation, "the following fields are required for doctors: %s", strings.Join(missing, ", "))
	}
	return r.fieldError(first)
}

func (r *Registration) fieldError(fe validator.FieldError) error {
	switch fe.Tag() {
	case "notblank", "required":
		return domain.Errorf(domain.ErrValidation, "%s is required", fe.Field())
	case "email":
		return domain.Errorf(domain.ErrValidation, "email is not a valid address")
	case "mobile":
		return domain.Errorf(domain.ErrValidation, "mobile_number must match pattern +88 followed by 11 digits")
	case "min":
		return domain.Errorf(domain.ErrValidation, "password must be at least 8 characters")
	case "maxbytes":
		return domain.Errorf(domain.ErrValidation, "password must be at most %s bytes", fe.Param())
	case "password":
		return domain.Errorf(domain.ErrValidation, "password must include 1 uppercase, 1 digit, 1 special char")
	case "oneof":
		return domain.Errorf(domain.ErrValidation, "user_type must be one of admin, doctor, patient")
	case "nonnegative":
		return domain.Errorf(domain.ErrValidation, "%s must not be negative", fe.Field())
	case "timeslots":
		_, err := ParseTimeslots(r.AvailableTimeslots)
		return err
	}
	return domain.Errorf(domain.ErrValidation, "%s is invalid", fe.Field())
}

// doctorProfile builds the profile of a validated doctor registration.
func (r *Registration) doctorProfile() *DoctorProfile {
	if r.Role != RoleDoctor {
		return nil
	}
	slots, _ := ParseTimeslots(r.AvailableTimeslots)
	return &DoctorProfile{
		LicenseNumber:   strings.TrimSpace(r.LicenseNumber),
		ExperienceYears: *r.ExperienceYears,
		ConsultationFee: *r.ConsultationFee,
		Timeslots:       slots,
	}
}
