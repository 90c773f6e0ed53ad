package consent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careledger/careledger/internal/domain/audit"
)

// Service manages consent directives. Every mutation appends a ledger event
// before the directive change is persisted; if the append fails, the
// directive is unchanged.
type Service struct {
	repo   Repository
	ledger *audit.Ledger
	log    zerolog.Logger
	nowFn  func() time.Time
}

func NewService(repo Repository, ledger *audit.Ledger, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		log:    log.With().Str("component", "consent").Logger(),
		nowFn:  time.Now,
	}
}

// Record validates and stores a new consent directive.
func (s *Service) Record(ctx context.Context, actor audit.Actor, d *Directive) error {
	if d.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if !d.Type.Valid() {
		return fmt.Errorf("unknown consent type %q", d.Type)
	}
	if d.Status == "" {
		d.Status = StatusActive
	}
	if !d.Status.Valid() {
		return fmt.Errorf("unknown consent status %q", d.Status)
	}
	for _, c := range d.Categories {
		if !c.Valid() {
			return fmt.Errorf("unknown data category %q", c)
		}
	}
	if len(d.PermittedRoles) > 0 && d.Type != TypeDisclosure {
		return fmt.Errorf("permitted_roles applies only to disclosure directives")
	}
	if d.ValidFrom != nil && d.ValidUntil != nil && d.ValidUntil.Before(*d.ValidFrom) {
		return fmt.Errorf("valid_until precedes valid_from")
	}

	now := s.nowFn().UTC()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = now
	d.UpdatedAt = now

	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode directive: %w", err)
	}

	_, err = s.ledger.Append(ctx, audit.Draft{
		Actor:           actor,
		Action:          audit.ActionCreate,
		ResourceType:    "ConsentDirective",
		ResourceID:      d.ID.String(),
		NewValue:        body,
		ClinicalContext: fmt.Sprintf("consent %s recorded for patient %s", d.Type, d.PatientID),
	})
	if err != nil {
		return fmt.Errorf("audit consent record: %w", err)
	}

	if err := s.repo.Create(ctx, d); err != nil {
		return fmt.Errorf("create directive: %w", err)
	}

	s.log.Info().
		Str("directive_id", d.ID.String()).
		Str("patient_id", d.PatientID).
		Str("type", string(d.Type)).
		Msg("consent_recorded")
	return nil
}

// Verify marks a directive as verified by the acting user. Verification is
// idempotent; the first verifier is kept.
func (s *Service) Verify(ctx context.Context, actor audit.Actor, id uuid.UUID) (*Directive, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.nowFn().UTC()

	_, err = s.ledger.Append(ctx, audit.Draft{
		Actor:           actor,
		Action:          audit.ActionUpdate,
		ResourceType:    "ConsentDirective",
		ResourceID:      id.String(),
		ClinicalContext: fmt.Sprintf("consent verified for patient %s", d.PatientID),
	})
	if err != nil {
		return nil, fmt.Errorf("audit consent verify: %w", err)
	}

	if err := s.repo.Verify(ctx, id, actor.ID, now); err != nil {
		return nil, fmt.Errorf("verify directive: %w", err)
	}
	return s.repo.GetByID(ctx, id)
}

// Revoke sets the directive status to revoked. The transition is one-way.
func (s *Service) Revoke(ctx context.Context, actor audit.Actor, id uuid.UUID) (*Directive, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.nowFn().UTC()

	_, err = s.ledger.Append(ctx, audit.Draft{
		Actor:           actor,
		Action:          audit.ActionUpdate,
		ResourceType:    "ConsentDirective",
		ResourceID:      id.String(),
		ClinicalContext: fmt.Sprintf("consent revoked for patient %s", d.PatientID),
	})
	if err != nil {
		return nil, fmt.Errorf("audit consent revoke: %w", err)
	}

	if err := s.repo.Revoke(ctx, id, actor.ID, now); err != nil {
		return nil, fmt.Errorf("revoke directive: %w", err)
	}

	s.log.Warn().
		Str("directive_id", id.String()).
		Str("patient_id", d.PatientID).
		Str("revoked_by", actor.ID).
		Msg("consent_revoked")
	return s.repo.GetByID(ctx, id)
}

// ActiveForPatient returns the directives that currently apply to the
// patient. The validity period is evaluated against now, not against any
// stored state.
func (s *Service) ActiveForPatient(ctx context.Context, patientID string, now time.Time) ([]*Directive, error) {
	return s.repo.ListActive(ctx, patientID, now)
}

// Get returns a directive by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Directive, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByPatient returns all of a patient's directives, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID string) ([]*Directive, error) {
	return s.repo.ListByPatient(ctx, patientID)
}
