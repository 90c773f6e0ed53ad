package breakglass

import (
	"time"

	"github.com/google/uuid"
)

// ReasonCategory classifies why emergency access was requested.
type ReasonCategory string

const (
	ReasonEmergencyTreatment   ReasonCategory = "emergency-treatment"
	ReasonPatientIncapacitated ReasonCategory = "patient-incapacitated"
	ReasonImminentThreat       ReasonCategory = "imminent-threat"
	ReasonLegalMandate         ReasonCategory = "legal-mandate"
)

// Valid reports whether c is a recognized reason category.
func (c ReasonCategory) Valid() bool {
	switch c {
	case ReasonEmergencyTreatment, ReasonPatientIncapacitated,
		ReasonImminentThreat, ReasonLegalMandate:
		return true
	}
	return false
}

// State is the derived lifecycle state of a grant. Only REVOKED is stored;
// ACTIVE and EXPIRED are computed from the timestamps at read time.
type State string

const (
	StateActive  State = "ACTIVE"
	StateExpired State = "EXPIRED"
	StateRevoked State = "REVOKED"
)

// ResourceRef identifies a clinical resource touched under a grant.
type ResourceRef struct {
	Type string `db:"resource_type" json:"resource_type"`
	ID   string `db:"resource_id" json:"resource_id"`
}

// Grant is an emergency access override for one clinician and one patient.
// Grants are never deleted; they are mutated only by recording accessed
// resources, the retrospective approval annotation, and the one-way revoke.
type Grant struct {
	ID                uuid.UUID      `db:"id" json:"id"`
	UserID            string         `db:"user_id" json:"user_id"`
	PatientID         string         `db:"patient_id" json:"patient_id"`
	Reason            string         `db:"reason" json:"reason"`
	ReasonCategory    ReasonCategory `db:"reason_category" json:"reason_category"`
	ApprovedBy        *string        `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt        *time.Time     `db:"approved_at" json:"approved_at,omitempty"`
	AccessGrantedAt   time.Time      `db:"access_granted_at" json:"access_granted_at"`
	AccessExpiresAt   time.Time      `db:"access_expires_at" json:"access_expires_at"`
	Revoked           bool           `db:"revoked" json:"revoked"`
	RevokedBy         *string        `db:"revoked_by" json:"revoked_by,omitempty"`
	RevokedAt         *time.Time     `db:"revoked_at" json:"revoked_at,omitempty"`
	ResourcesAccessed []ResourceRef  `db:"-" json:"resources_accessed"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// StateAt returns the grant's lifecycle state at the given instant.
// Revocation is terminal and takes precedence over expiry.
func (g *Grant) StateAt(now time.Time) State {
	if g.Revoked {
		return StateRevoked
	}
	if !now.Before(g.AccessExpiresAt) {
		return StateExpired
	}
	return StateActive
}

// ActiveAt reports whether the grant authorizes access at the given instant:
// not revoked and access_granted_at <= now < access_expires_at.
func (g *Grant) ActiveAt(now time.Time) bool {
	if g.Revoked {
		return false
	}
	return !now.Before(g.AccessGrantedAt) && now.Before(g.AccessExpiresAt)
}

// HasAccessed reports whether the resource was already recorded on the grant.
func (g *Grant) HasAccessed(ref ResourceRef) bool {
	for _, r := range g.ResourcesAccessed {
		if r == ref {
			return true
		}
	}
	return false
}
