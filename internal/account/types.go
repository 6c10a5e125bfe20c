package account

import (
	"strings"
	"time"
)

// Role is the closed set of account roles. The zero value is not a valid role.
type Role string

const (
	RolePatient       Role = "Patient"
	RolePendingDoctor Role = "PendingDoctor"
	RoleDoctor        Role = "Doctor"
	RoleAdmin         Role = "Admin"
)

// ParseRole maps a stored string onto the closed role set.
func ParseRole(s string) (Role, error) {
	switch Role(strings.TrimSpace(s)) {
	case RolePatient:
		return RolePatient, nil
	case RolePendingDoctor:
		return RolePendingDoctor, nil
	case RoleDoctor:
		return RoleDoctor, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrInvalidRole
	}
}

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Account statuses. A pending account exists but may not sign in until an
// administrator clears it.
const (
	StatusActive  = "active"
	StatusPending = "pending"
)

// DoctorCredentials is the professional-verification payload submitted by a
// patient requesting the Doctor role. Present only while the role is
// PendingDoctor or Doctor.
type DoctorCredentials struct {
	LicenseNumber   string `json:"license_number"`
	InstitutionName string `json:"institution_name"`
	DocumentRef     string `json:"document_ref"`
}

// Complete reports whether every credential field is non-empty.
func (c DoctorCredentials) Complete() bool {
	return strings.TrimSpace(c.LicenseNumber) != "" &&
		strings.TrimSpace(c.InstitutionName) != "" &&
		strings.TrimSpace(c.DocumentRef) != ""
}

// Account is the authenticated identity. WalletAddress is stored lowercase and
// unique across accounts; Challenge holds the at-most-one outstanding sign-in
// nonce token.
type Account struct {
	ID             string             `json:"id"`
	WalletAddress  string             `json:"wallet_address,omitempty"`
	Name           string             `json:"name,omitempty"`
	Email          string             `json:"email,omitempty"`
	PasswordHash   string             `json:"-"`
	Role           Role               `json:"role"`
	Status         string             `json:"status"`
	Challenge      string             `json:"-"`
	ChallengeSetAt time.Time          `json:"-"`
	Doctor         *DoctorCredentials `json:"doctor,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// NormalizeWallet lowercases a wallet address for storage and comparison.
func NormalizeWallet(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
