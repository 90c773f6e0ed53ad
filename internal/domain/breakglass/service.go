package breakglass

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careledger/careledger/internal/domain/audit"
	"github.com/careledger/careledger/internal/platform/metrics"
)

const (
	// minReasonLength is the shortest acceptable justification text.
	minReasonLength = 10

	// DefaultTTL is how long a grant stays active unless configured otherwise.
	DefaultTTL = 4 * time.Hour

	// DefaultMaxPerHour caps break-glass requests per user per hour.
	DefaultMaxPerHour = 10
)

// Service manages the lifecycle of emergency access grants. Every grant
// creation appends an EMERGENCY event to the audit ledger before the grant is
// persisted; if the append fails, no grant exists.
type Service struct {
	repo    Repository
	ledger  *audit.Ledger
	limiter RateLimiter
	ttl     time.Duration
	log     zerolog.Logger
	nowFn   func() time.Time
	metrics *metrics.Metrics
}

// SetMetrics enables the issued-grant counter. A nil Metrics disables
// instrumentation.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// NewService creates a break-glass service. ttl <= 0 selects DefaultTTL;
// a nil limiter disables rate limiting.
func NewService(repo Repository, ledger *audit.Ledger, limiter RateLimiter, ttl time.Duration, log zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		repo:    repo,
		ledger:  ledger,
		limiter: limiter,
		ttl:     ttl,
		log:     log.With().Str("component", "break_glass").Logger(),
		nowFn:   time.Now,
	}
}

// Request validates and creates an emergency access grant for the actor over
// the patient's records. The grant is active immediately; approval is a
// retrospective annotation, never a gate.
func (s *Service) Request(ctx context.Context, actor audit.Actor, patientID, reason string, category ReasonCategory) (*Grant, error) {
	if actor.ID == "" {
		return nil, &ValidationError{Field: "user", Message: "authenticated user is required"}
	}
	if patientID == "" {
		return nil, &ValidationError{Field: "patient_id", Message: "patient id is required"}
	}
	if len(strings.TrimSpace(reason)) < minReasonLength {
		return nil, &ValidationError{
			Field:   "reason",
			Message: fmt.Sprintf("justification must be at least %d characters", minReasonLength),
		}
	}
	if !category.Valid() {
		return nil, &ValidationError{Field: "reason_category", Message: "unrecognized reason category"}
	}

	now := s.nowFn().UTC()

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, actor.ID, now)
		if err != nil {
			return nil, fmt.Errorf("rate limit check: %w", err)
		}
		if !ok {
			return nil, ErrRateLimited
		}
	}

	g := &Grant{
		ID:              uuid.New(),
		UserID:          actor.ID,
		PatientID:       patientID,
		Reason:          reason,
		ReasonCategory:  category,
		AccessGrantedAt: now,
		AccessExpiresAt: now.Add(s.ttl),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// The EMERGENCY audit event precedes the grant: if the ledger write
	// fails, no emergency access exists.
	_, err := s.ledger.Append(ctx, audit.Draft{
		Actor:           actor,
		Action:          audit.ActionEmergency,
		ResourceType:    "Patient",
		ResourceID:      patientID,
		ClinicalContext: fmt.Sprintf("break-glass requested (%s): %s", category, reason),
	})
	if err != nil {
		return nil, fmt.Errorf("audit break-glass request: %w", err)
	}

	if err := s.repo.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("create grant: %w", err)
	}

	if s.metrics != nil {
		s.metrics.BreakGlassGrants.WithLabelValues(string(category)).Inc()
	}

	s.log.Warn().
		Str("grant_id", g.ID.String()).
		Str("user_id", g.UserID).
		Str("patient_id", g.PatientID).
		Str("reason_category", string(category)).
		Time("access_expires_at", g.AccessExpiresAt).
		Msg("break_glass_granted")

	return g, nil
}

// IsGranted reports whether the user holds an active grant over the patient
// at the given instant, returning the grant when one exists. Expiry is
// computed here, never swept in the background.
func (s *Service) IsGranted(ctx context.Context, userID, patientID string, now time.Time) (bool, *Grant, error) {
	g, err := s.repo.FindActive(ctx, userID, patientID, now)
	if err != nil {
		if err == ErrNotFound {
			return false, nil, nil
		}
		return false, nil, err
	}
	return true, g, nil
}

// RecordAccess appends the resource reference to the grant's accessed set.
// Recording against a revoked or expired grant fails with ExpiredGrantError;
// recording the same resource twice is a no-op.
func (s *Service) RecordAccess(ctx context.Context, grantID uuid.UUID, resourceType, resourceID string) error {
	g, err := s.repo.GetByID(ctx, grantID)
	if err != nil {
		return err
	}

	now := s.nowFn().UTC()
	if state := g.StateAt(now); state != StateActive {
		return &ExpiredGrantError{GrantID: grantID, State: state, At: now}
	}

	return s.repo.AddResource(ctx, grantID, ResourceRef{Type: resourceType, ID: resourceID})
}

// Revoke terminates the grant ahead of its natural expiry. The transition is
// one-way; previously recorded resource accesses are preserved.
func (s *Service) Revoke(ctx context.Context, grantID uuid.UUID, revokedBy string) error {
	now := s.nowFn().UTC()
	if err := s.repo.Revoke(ctx, grantID, revokedBy, now); err != nil {
		return err
	}

	s.log.Warn().
		Str("grant_id", grantID.String()).
		Str("revoked_by", revokedBy).
		Msg("break_glass_revoked")
	return nil
}

// Approve records the retrospective compliance sign-off on a grant. It does
// not change whether the grant is or was active.
func (s *Service) Approve(ctx context.Context, grantID uuid.UUID, approvedBy string) error {
	return s.repo.Approve(ctx, grantID, approvedBy, s.nowFn().UTC())
}

// Get returns a grant with its accessed resources.
func (s *Service) Get(ctx context.Context, grantID uuid.UUID) (*Grant, error) {
	return s.repo.GetByID(ctx, grantID)
}

// List returns grants newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Grant, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// ListByPatient returns the patient's grants newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Grant, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
