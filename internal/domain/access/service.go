package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/careledger/careledger/internal/domain/audit"
	"github.com/careledger/careledger/internal/domain/breakglass"
	"github.com/careledger/careledger/internal/domain/consent"
	"github.com/careledger/careledger/internal/domain/sensitivity"
	"github.com/careledger/careledger/internal/platform/metrics"
)

// Engine decides whether an actor may access a clinical resource, joining
// the resource's sensitivity classification, the patient's active consent
// directives and any break-glass grant the actor holds. Every evaluation
// appends a ledger event; if the append fails the evaluation fails with it,
// so an unaudited ALLOW can never be returned.
type Engine struct {
	tags       *sensitivity.Service
	consents   *consent.Service
	grants     *breakglass.Service
	ledger     *audit.Ledger
	precedence Precedence
	deny       map[sensitivity.Category]bool
	metrics    *metrics.Metrics
	log        zerolog.Logger
	nowFn      func() time.Time
}

func NewEngine(tags *sensitivity.Service, consents *consent.Service, grants *breakglass.Service, ledger *audit.Ledger, log zerolog.Logger) *Engine {
	return &Engine{
		tags:       tags,
		consents:   consents,
		grants:     grants,
		ledger:     ledger,
		precedence: DefaultPrecedence,
		deny:       make(map[sensitivity.Category]bool),
		log:        log.With().Str("component", "access").Logger(),
		nowFn:      time.Now,
	}
}

// SetMetrics enables the decision-outcome counter. A nil Metrics disables
// instrumentation.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// SetPrecedence replaces the directive precedence policy.
func (e *Engine) SetPrecedence(p Precedence) {
	if p != nil {
		e.precedence = p
	}
}

// SetNonOverridable marks categories whose restrictions break-glass cannot
// bypass; a restricting directive on one of these yields DENY instead of
// REQUIRE_BREAK_GLASS.
func (e *Engine) SetNonOverridable(categories ...sensitivity.Category) {
	e.deny = make(map[sensitivity.Category]bool, len(categories))
	for _, c := range categories {
		e.deny[c] = true
	}
}

// Evaluate produces an access decision for the actor over one resource.
func (e *Engine) Evaluate(ctx context.Context, actor audit.Actor, patientID, resourceType, resourceID string) (*Result, error) {
	if actor.ID == "" {
		return nil, fmt.Errorf("authenticated user is required")
	}
	if patientID == "" || resourceType == "" || resourceID == "" {
		return nil, fmt.Errorf("patient_id, resource_type and resource_id are required")
	}

	now := e.nowFn().UTC()
	res := &Result{
		PatientID:    patientID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		EvaluatedAt:  now,
	}

	if err := e.decide(ctx, actor, res, now); err != nil {
		return nil, err
	}

	if err := e.audit(ctx, actor, res); err != nil {
		return nil, fmt.Errorf("audit access decision: %w", err)
	}

	if e.metrics != nil {
		e.metrics.ObserveDecision(string(res.Decision))
	}

	if res.Decision != DecisionAllow {
		e.log.Warn().
			Str("decision", string(res.Decision)).
			Str("user_id", actor.ID).
			Str("patient_id", patientID).
			Str("resource", resourceType+"/"+resourceID).
			Str("category", string(res.Category)).
			Msg("access_restricted")
	}
	return res, nil
}

func (e *Engine) decide(ctx context.Context, actor audit.Actor, res *Result, now time.Time) error {
	tag, err := e.tags.Lookup(ctx, res.ResourceType, res.ResourceID)
	if err != nil {
		return fmt.Errorf("lookup sensitivity tag: %w", err)
	}
	if tag == nil || tag.Level == sensitivity.LevelNormal {
		res.Decision = DecisionAllow
		return nil
	}
	res.Level = tag.Level
	res.Category = tag.Category

	directives, err := e.consents.ActiveForPatient(ctx, res.PatientID, now)
	if err != nil {
		return fmt.Errorf("load consent directives: %w", err)
	}

	selected := SelectDirective(directives, tag.Category, e.precedence)
	if !Restricts(selected, actor.Role) {
		res.Decision = DecisionAllow
		return nil
	}
	id := selected.ID
	res.DirectiveID = &id

	if e.deny[tag.Category] {
		res.Decision = DecisionDeny
		return nil
	}

	granted, grant, err := e.grants.IsGranted(ctx, actor.ID, res.PatientID, now)
	if err != nil {
		return fmt.Errorf("check break-glass grant: %w", err)
	}
	if !granted {
		res.Decision = DecisionRequireBreakGlass
		return nil
	}

	err = e.grants.RecordAccess(ctx, grant.ID, res.ResourceType, res.ResourceID)
	if err != nil {
		var lapsed *breakglass.ExpiredGrantError
		if errors.As(err, &lapsed) {
			res.Decision = DecisionRequireBreakGlass
			return nil
		}
		return fmt.Errorf("record break-glass access: %w", err)
	}

	gid := grant.ID
	res.GrantID = &gid
	res.Decision = DecisionAllow
	return nil
}

func (e *Engine) audit(ctx context.Context, actor audit.Actor, res *Result) error {
	clinical := fmt.Sprintf("access decision %s", res.Decision)
	if res.Category != "" {
		clinical = fmt.Sprintf("access decision %s (category %s)", res.Decision, res.Category)
	}
	_, err := e.ledger.Append(ctx, audit.Draft{
		Timestamp:       res.EvaluatedAt,
		Actor:           actor,
		Action:          audit.ActionRead,
		ResourceType:    res.ResourceType,
		ResourceID:      res.ResourceID,
		ClinicalContext: clinical,
	})
	return err
}
