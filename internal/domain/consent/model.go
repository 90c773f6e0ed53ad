package consent

import (
	"time"

	"github.com/google/uuid"

	"github.com/careledger/careledger/internal/domain/sensitivity"
)

// Type categorizes the broad area of policy a directive covers.
type Type string

const (
	TypeTreatment  Type = "treatment"
	TypeResearch   Type = "research"
	TypeDisclosure Type = "disclosure"
	TypeOptOut     Type = "opt-out"
)

func (t Type) Valid() bool {
	switch t {
	case TypeTreatment, TypeResearch, TypeDisclosure, TypeOptOut:
		return true
	}
	return false
}

// Status represents the lifecycle status of a consent directive.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusRejected Status = "rejected"
	StatusRevoked  Status = "revoked"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusRejected, StatusRevoked:
		return true
	}
	return false
}

// Directive is a patient-authorized rule constraining access to categories of
// their data. Directives change only through explicit record, verify and
// revoke actions; the validity period is evaluated at read time and never
// flips the stored status.
type Directive struct {
	ID         uuid.UUID              `json:"id"`
	PatientID  string                 `json:"patient_id"`
	Type       Type                   `json:"type"`
	Status     Status                 `json:"status"`
	Scope      string                 `json:"scope"`
	Categories []sensitivity.Category `json:"categories"`
	// PermittedRoles is the actor scope of a disclosure directive: the roles
	// the patient has authorized to see the covered data. Empty means no
	// actor constraint.
	PermittedRoles []string   `json:"permitted_roles,omitempty"`
	ValidFrom      *time.Time `json:"valid_from,omitempty"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	Verified       bool       `json:"verified"`
	VerifiedBy     *string    `json:"verified_by,omitempty"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	RevokedBy      *string    `json:"revoked_by,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// InPeriodAt reports whether now falls within the directive's validity
// period. A nil bound means the period is open-ended in that direction.
func (d *Directive) InPeriodAt(now time.Time) bool {
	if d.ValidFrom != nil && now.Before(*d.ValidFrom) {
		return false
	}
	if d.ValidUntil != nil && now.After(*d.ValidUntil) {
		return false
	}
	return true
}

// ActiveAt reports whether the directive currently applies: stored status is
// active and now is within the validity period.
func (d *Directive) ActiveAt(now time.Time) bool {
	return d.Status == StatusActive && d.InPeriodAt(now)
}

// Covers reports whether the directive applies to the given data category.
// A directive with no categories covers every category.
func (d *Directive) Covers(category sensitivity.Category) bool {
	if len(d.Categories) == 0 {
		return true
	}
	for _, c := range d.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// PermitsRole reports whether an actor holding the given role falls inside
// the directive's actor scope. A directive without a role list places no
// actor constraint.
func (d *Directive) PermitsRole(role string) bool {
	if len(d.PermittedRoles) == 0 {
		return true
	}
	for _, r := range d.PermittedRoles {
		if r == role {
			return true
		}
	}
	return false
}
