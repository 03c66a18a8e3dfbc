package model

import "time"

// Buyer is an end customer with credentials independent from staff
// accounts. Buyers place orders and own tickets.
type Buyer struct {
	ID           uint64    // buyers.id
	NationalID   string    // buyers.national_id
	FirstName    string    // buyers.first_name
	LastName     string    // buyers.last_name
	Email        string    // buyers.email
	Phone        string    // buyers.phone
	PasswordHash string    // buyers.password_hash
	CreatedAt    time.Time // buyers.created_at
}

// FullName joins first and last name for display and email salutations.
func (b *Buyer) FullName() string { return b.FirstName + " " + b.LastName }

// Staff is a door/admin account. Staff validate tickets and read
// dashboards; they never purchase.
type Staff struct {
	ID           uint64    // staff.id
	Email        string    // staff.email
	PasswordHash string    // staff.password_hash
	IsAdmin      bool      // staff.is_admin
	CreatedAt    time.Time // staff.created_at
}

// PrincipalKind tags the variant carried by a Principal.
type PrincipalKind string

const (
	KindBuyer PrincipalKind = "BUYER"
	KindStaff PrincipalKind = "STAFF"
)

// Principal identifies the authenticated caller. Exactly one variant is
// meaningful depending on Kind; downstream code switches on Kind instead
// of probing for attributes.
type Principal struct {
	Kind    PrincipalKind
	BuyerID uint64 // set when Kind == KindBuyer
	StaffID uint64 // set when Kind == KindStaff
}

// IsBuyer reports whether the principal is an end customer.
func (p Principal) IsBuyer() bool { return p.Kind == KindBuyer }

// IsStaff reports whether the principal is a staff account.
func (p Principal) IsStaff() bool { return p.Kind == KindStaff }
