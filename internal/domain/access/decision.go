package access

import (
	"time"

	"github.com/google/uuid"

	"github.com/careledger/careledger/internal/domain/consent"
	"github.com/careledger/careledger/internal/domain/sensitivity"
)

// Decision is the outcome of evaluating an access request.
type Decision string

const (
	DecisionAllow             Decision = "ALLOW"
	DecisionDeny              Decision = "DENY"
	DecisionRequireBreakGlass Decision = "REQUIRE_BREAK_GLASS"
)

// Result carries a decision together with what it was decided on, so callers
// can drive an override flow without re-deriving context.
type Result struct {
	Decision     Decision             `json:"decision"`
	PatientID    string               `json:"patient_id"`
	ResourceType string               `json:"resource_type"`
	ResourceID   string               `json:"resource_id"`
	Level        sensitivity.Level    `json:"level,omitempty"`
	Category     sensitivity.Category `json:"category,omitempty"`
	DirectiveID  *uuid.UUID           `json:"directive_id,omitempty"`
	GrantID      *uuid.UUID           `json:"grant_id,omitempty"`
	EvaluatedAt  time.Time            `json:"evaluated_at"`
}

// Precedence reports whether directive a takes precedence over directive b
// when both apply to the same request.
type Precedence func(a, b *consent.Directive) bool

// scope specificity, narrowest wins.
var scopeRank = map[string]int{
	"":         0,
	"patient":  1,
	"category": 2,
	"resource": 3,
}

// DefaultPrecedence prefers the directive with the most specific scope and
// breaks ties by most recent update.
func DefaultPrecedence(a, b *consent.Directive) bool {
	ra, rb := scopeRank[a.Scope], scopeRank[b.Scope]
	if ra != rb {
		return ra > rb
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

// SelectDirective picks the single directive governing a request for the
// given data category. Directives that do not cover the category are
// ignored. Returns nil when none apply.
func SelectDirective(directives []*consent.Directive, category sensitivity.Category, precedence Precedence) *consent.Directive {
	if precedence == nil {
		precedence = DefaultPrecedence
	}
	var selected *consent.Directive
	for _, d := range directives {
		if !d.Covers(category) {
			continue
		}
		if selected == nil || precedence(d, selected) {
			selected = d
		}
	}
	return selected
}

// Restricts reports whether the directive forbids ordinary access by an
// actor with the given role. Opt-out directives restrict every actor. A
// disclosure directive restricts actors outside its permitted-role list;
// treatment and research directives grant access and never restrict on
// their own.
func Restricts(d *consent.Directive, actorRole string) bool {
	if d == nil {
		return false
	}
	switch d.Type {
	case consent.TypeOptOut:
		return true
	case consent.TypeDisclosure:
		return !d.PermitsRole(actorRole)
	}
	return false
}
