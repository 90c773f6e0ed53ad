package consent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careledger/careledger/internal/domain/audit"
	"github.com/careledger/careledger/internal/domain/sensitivity"
	"github.com/careledger/careledger/internal/platform/crypto"
)

func newTestService(t *testing.T) (*Service, audit.Repository) {
	t.Helper()
	key, err := crypto.RandomKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	auditRepo := audit.NewMemoryRepo()
	ledger := audit.NewLedger(auditRepo, cipher, zerolog.Nop())
	return NewService(NewMemoryRepo(), ledger, zerolog.Nop()), auditRepo
}

func testActor() audit.Actor {
	return audit.Actor{ID: "dr-jones", Role: "physician", IPAddress: "10.0.0.1", SessionID: "sess-1"}
}

func optOutDirective(patientID string, categories ...sensitivity.Category) *Directive {
	return &Directive{
		PatientID:  patientID,
		Type:       TypeOptOut,
		Scope:      "category",
		Categories: categories,
	}
}

func TestRecordValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		directive *Directive
	}{
		{"missing patient", &Directive{Type: TypeOptOut}},
		{"unknown type", &Directive{PatientID: "patient-1", Type: "blanket"}},
		{"unknown status", &Directive{PatientID: "patient-1", Type: TypeOptOut, Status: "pending"}},
		{"unknown category", &Directive{PatientID: "patient-1", Type: TypeOptOut,
			Categories: []sensitivity.Category{"gossip"}}},
		{"roles on non-disclosure", &Directive{PatientID: "patient-1", Type: TypeOptOut,
			PermittedRoles: []string{"physician"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Record(ctx, testActor(), tt.directive); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	t.Run("inverted period", func(t *testing.T) {
		from := time.Now()
		until := from.Add(-time.Hour)
		d := optOutDirective("patient-1", sensitivity.CategoryMentalHealth)
		d.ValidFrom = &from
		d.ValidUntil = &until
		if err := svc.Record(ctx, testActor(), d); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestRecordDefaultsToActiveAndAudits(t *testing.T) {
	svc, auditRepo := newTestService(t)
	ctx := context.Background()

	d := optOutDirective("patient-1", sensitivity.CategorySubstanceAbuse)
	if err := svc.Record(ctx, testActor(), d); err != nil {
		t.Fatalf("record: %v", err)
	}
	if d.Status != StatusActive {
		t.Errorf("status = %s, want active", d.Status)
	}

	head, err := auditRepo.Head(ctx)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Seq != 1 {
		t.Fatalf("ledger seq = %d, want 1", head.Seq)
	}
	events, err := auditRepo.ListRange(ctx, 1, 1, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if events[0].Action != audit.ActionCreate || events[0].ResourceType != "ConsentDirective" {
		t.Errorf("unexpected audit event %s on %s", events[0].Action, events[0].ResourceType)
	}
}

// failingAuditRepo breaks the ledger so appends cannot succeed.
type failingAuditRepo struct {
	audit.Repository
}

func (r *failingAuditRepo) Append(context.Context, *audit.Event, audit.Head) error {
	return errors.New("store down")
}

func TestRecordFailsClosedWhenAuditFails(t *testing.T) {
	key, _ := crypto.RandomKey()
	cipher, _ := crypto.NewCipher(key)
	ledger := audit.NewLedger(&failingAuditRepo{Repository: audit.NewMemoryRepo()}, cipher, zerolog.Nop())
	svc := NewService(NewMemoryRepo(), ledger, zerolog.Nop())
	ctx := context.Background()

	d := optOutDirective("patient-1", sensitivity.CategorySubstanceAbuse)
	if err := svc.Record(ctx, testActor(), d); err == nil {
		t.Fatal("expected error when audit append fails")
	}

	items, err := svc.ListByPatient(ctx, "patient-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("directive persisted despite audit failure")
	}
}

func TestActiveForPatientHonorsPeriodAtReadTime(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-48 * time.Hour)
	lapsed := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	current := optOutDirective("patient-1", sensitivity.CategoryMentalHealth)
	current.ValidFrom = &past
	current.ValidUntil = &future
	if err := svc.Record(ctx, testActor(), current); err != nil {
		t.Fatalf("record current: %v", err)
	}

	expired := optOutDirective("patient-1", sensitivity.CategoryHIVSTI)
	expired.ValidFrom = &past
	expired.ValidUntil = &lapsed
	if err := svc.Record(ctx, testActor(), expired); err != nil {
		t.Fatalf("record expired: %v", err)
	}

	notYet := optOutDirective("patient-1", sensitivity.CategoryGenetic)
	notYet.ValidFrom = &future
	if err := svc.Record(ctx, testActor(), notYet); err != nil {
		t.Fatalf("record future: %v", err)
	}

	openEnded := optOutDirective("patient-1", sensitivity.CategoryReproductive)
	if err := svc.Record(ctx, testActor(), openEnded); err != nil {
		t.Fatalf("record open-ended: %v", err)
	}

	active, err := svc.ActiveForPatient(ctx, "patient-1", now)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active directives = %d, want 2", len(active))
	}
	for _, d := range active {
		if d.ID == expired.ID || d.ID == notYet.ID {
			t.Errorf("directive %s should not be active", d.ID)
		}
	}

	// The lapsed directive keeps its stored status; only the read-time
	// evaluation excludes it.
	got, err := svc.Get(ctx, expired.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("lapsed directive status = %s, want active", got.Status)
	}
}

func TestRevokeIsOneWayAndKeepsFirstRevoker(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d := optOutDirective("patient-1", sensitivity.CategorySubstanceAbuse)
	if err := svc.Record(ctx, testActor(), d); err != nil {
		t.Fatalf("record: %v", err)
	}

	revoked, err := svc.Revoke(ctx, testActor(), d.ID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.Status != StatusRevoked {
		t.Errorf("status = %s, want revoked", revoked.Status)
	}
	if revoked.RevokedBy == nil || *revoked.RevokedBy != "dr-jones" {
		t.Errorf("revoked_by = %v, want dr-jones", revoked.RevokedBy)
	}

	second := audit.Actor{ID: "dr-smith", Role: "physician"}
	again, err := svc.Revoke(ctx, second, d.ID)
	if err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if again.RevokedBy == nil || *again.RevokedBy != "dr-jones" {
		t.Errorf("second revoke replaced revoker: %v", again.RevokedBy)
	}

	active, err := svc.ActiveForPatient(ctx, "patient-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("revoked directive still active")
	}
}

func TestVerifyKeepsFirstVerifier(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	d := optOutDirective("patient-1", sensitivity.CategoryMentalHealth)
	if err := svc.Record(ctx, testActor(), d); err != nil {
		t.Fatalf("record: %v", err)
	}

	verified, err := svc.Verify(ctx, testActor(), d.ID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !verified.Verified || verified.VerifiedBy == nil || *verified.VerifiedBy != "dr-jones" {
		t.Errorf("unexpected verification state: %+v", verified)
	}

	again, err := svc.Verify(ctx, audit.Actor{ID: "dr-smith", Role: "physician"}, d.ID)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if again.VerifiedBy == nil || *again.VerifiedBy != "dr-jones" {
		t.Errorf("second verify replaced verifier: %v", again.VerifiedBy)
	}
}

func TestDirectiveCoverage(t *testing.T) {
	d := Directive{Categories: []sensitivity.Category{sensitivity.CategorySubstanceAbuse}}
	if !d.Covers(sensitivity.CategorySubstanceAbuse) {
		t.Error("directive should cover its own category")
	}
	if d.Covers(sensitivity.CategoryMentalHealth) {
		t.Error("directive should not cover other categories")
	}

	blanket := Directive{}
	if !blanket.Covers(sensitivity.CategoryGenetic) {
		t.Error("directive with no categories should cover everything")
	}
}

func TestDirectivePermitsRole(t *testing.T) {
	scoped := Directive{Type: TypeDisclosure, PermittedRoles: []string{"physician", "nurse"}}
	if !scoped.PermitsRole("nurse") {
		t.Error("listed role should be permitted")
	}
	if scoped.PermitsRole("registrar") {
		t.Error("unlisted role should not be permitted")
	}

	open := Directive{Type: TypeDisclosure}
	if !open.PermitsRole("registrar") {
		t.Error("directive without a role list should permit any role")
	}
}

func TestVerifyUnknownDirective(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Verify(context.Background(), testActor(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
