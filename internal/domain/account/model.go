package account

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/auth"
)

const minPasswordLength = 8

// User is a stored account. PasswordHash never leaves the package in responses.
type User struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	Role            auth.Role `json:"role"`
	IsActive        bool      `json:"is_active"`
	PasswordHash    string    `json:"-"`
	PathologistCode string    `json:"pathologist_code,omitempty"`
	ResidentCode    string    `json:"resident_code,omitempty"`
	AuxiliaryCode   string    `json:"auxiliary_code,omitempty"`
	BillingCode     string    `json:"billing_code,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (u *User) Identity() *auth.Identity {
	return &auth.Identity{
		UserID:          u.ID.String(),
		Email:           u.Email,
		Name:            u.Name,
		Role:            u.Role,
		PathologistCode: u.PathologistCode,
		ResidentCode:    u.ResidentCode,
		AuxiliaryCode:   u.AuxiliaryCode,
		BillingCode:     u.BillingCode,
	}
}

type LoginResult struct {
	Token auth.Token `json:"token"`
	User  *User      `json:"user"`
}

type CreateUserInput struct {
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	Role            auth.Role `json:"role"`
	Password        string    `json:"password"`
	PathologistCode string    `json:"pathologist_code"`
	ResidentCode    string    `json:"resident_code"`
	AuxiliaryCode   string    `json:"auxiliary_code"`
	BillingCode     string    `json:"billing_code"`
}

func (in *CreateUserInput) normalize() {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	in.PathologistCode = strings.TrimSpace(in.PathologistCode)
	in.ResidentCode = strings.TrimSpace(in.ResidentCode)
	in.AuxiliaryCode = strings.TrimSpace(in.AuxiliaryCode)
	in.BillingCode = strings.TrimSpace(in.BillingCode)
}

func (in CreateUserInput) validate() error {
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return apperr.BadParameter("invalid email %q", in.Email)
	}
	if in.Name == "" {
		return apperr.BadParameter("name is required")
	}
	if !in.Role.Valid() {
		return apperr.BadParameter("invalid role %q", in.Role)
	}
	if len(in.Password) < minPasswordLength {
		return apperr.BadParameter("password must have at least %d characters", minPasswordLength)
	}
	// pathologist ownership checks use the code, so it cannot be missing
	if in.Role == auth.RolePathologist && in.PathologistCode == "" {
		return apperr.BadParameter("pathologist_code is required for pathologists")
	}
	return nil
}

type ListFilter struct {
	Role     auth.Role
	IsActive *bool
}
