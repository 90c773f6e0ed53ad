package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careledger/careledger/internal/platform/crypto"
	"github.com/careledger/careledger/internal/platform/metrics"
)

// maxAppendAttempts bounds the optimistic-concurrency retry loop. Exhausting
// it means the head is under heavier contention than a single-writer chain
// should ever see, so the caller gets a ChainConflictError instead of another
// silent retry.
const maxAppendAttempts = 5

// defaultVerifyBatch is how many events a Verifier pulls per repository call.
const defaultVerifyBatch = 500

// Ledger appends to and verifies the hash-chained audit trail. It is the only
// writer path for audit events; callers hand it plaintext Drafts and it takes
// care of encryption, sequencing, and chain hashing.
type Ledger struct {
	repo    Repository
	cipher  *crypto.Cipher
	log     zerolog.Logger
	nowFn   func() time.Time
	metrics *metrics.Metrics
}

// NewLedger creates a Ledger writing through repo and encrypting event
// values with cipher.
func NewLedger(repo Repository, cipher *crypto.Cipher, log zerolog.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		cipher: cipher,
		log:    log.With().Str("component", "audit_ledger").Logger(),
		nowFn:  time.Now,
	}
}

// SetMetrics enables append and conflict counters. A nil Metrics disables
// instrumentation.
func (l *Ledger) SetMetrics(m *metrics.Metrics) {
	l.metrics = m
}

// Append encrypts the draft's values, links it to the current chain head and
// stores it. On a head conflict it re-reads the head and retries with fresh
// sequence, previous hash and id, up to maxAppendAttempts times; past that it
// returns a *ChainConflictError. Any error means nothing was persisted.
func (l *Ledger) Append(ctx context.Context, d Draft) (*Event, error) {
	if !d.Action.Valid() {
		return nil, fmt.Errorf("audit: unknown action %q", d.Action)
	}
	if d.Actor.ID == "" {
		return nil, errors.New("audit: actor id is required")
	}

	oldEnv, err := l.encrypt(d.OldValue)
	if err != nil {
		return nil, fmt.Errorf("encrypt old value: %w", err)
	}
	newEnv, err := l.encrypt(d.NewValue)
	if err != nil {
		return nil, fmt.Errorf("encrypt new value: %w", err)
	}

	ts := d.Timestamp
	if ts.IsZero() {
		ts = l.nowFn()
	}

	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		head, err := l.repo.Head(ctx)
		if err != nil {
			return nil, fmt.Errorf("read chain head: %w", err)
		}

		e := &Event{
			ID:              uuid.New(),
			Seq:             head.Seq + 1,
			Timestamp:       ts.UTC(),
			ActorID:         d.Actor.ID,
			ActorRole:       d.Actor.Role,
			IPAddress:       d.Actor.IPAddress,
			Action:          d.Action,
			ResourceType:    d.ResourceType,
			ResourceID:      d.ResourceID,
			Endpoint:        d.Endpoint,
			HTTPMethod:      d.HTTPMethod,
			StatusCode:      d.StatusCode,
			OldValue:        oldEnv,
			NewValue:        newEnv,
			OldValueHash:    valueDigest(d.OldValue),
			NewValueHash:    valueDigest(d.NewValue),
			ClinicalContext: d.ClinicalContext,
			SessionID:       d.Actor.SessionID,
			HashPrevious:    head.Hash,
			CreatedAt:       l.nowFn().UTC(),
		}
		e.Hash = ComputeHash(head.Hash, e)

		err = l.repo.Append(ctx, e, head)
		if err == nil {
			if l.metrics != nil {
				l.metrics.LedgerAppends.Inc()
			}
			return e, nil
		}
		if !errors.Is(err, ErrHeadConflict) {
			return nil, fmt.Errorf("append audit event: %w", err)
		}
		if l.metrics != nil {
			l.metrics.ChainConflicts.Inc()
		}
		l.log.Debug().Int("attempt", attempt).Int64("seq", e.Seq).
			Msg("audit append lost head race, retrying")
	}

	conflict := &ChainConflictError{Attempts: maxAppendAttempts}
	l.log.Error().Int("attempts", maxAppendAttempts).Msg("audit append exhausted retries")
	return nil, conflict
}

// valueDigest is the SHA-256 of a plaintext value, empty when the value is
// absent. The digest is what the chain hash covers, since the envelope's GCM
// IV is fresh on every encryption.
func valueDigest(plaintext []byte) string {
	if plaintext == nil {
		return ""
	}
	return crypto.HashHex(plaintext)
}

func (l *Ledger) encrypt(plaintext []byte) (*crypto.Envelope, error) {
	if plaintext == nil {
		return nil, nil
	}
	env, err := l.cipher.EncryptField(plaintext)
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// DecryptValues returns the plaintext old and new values of an event. A nil
// envelope yields a nil slice. Tampered ciphertext surfaces as a
// *crypto.DecryptionError.
func (l *Ledger) DecryptValues(e *Event) (oldValue, newValue []byte, err error) {
	if e.OldValue != nil {
		oldValue, err = l.cipher.DecryptField(*e.OldValue)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt old value: %w", err)
		}
	}
	if e.NewValue != nil {
		newValue, err = l.cipher.DecryptField(*e.NewValue)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt new value: %w", err)
		}
	}
	return oldValue, newValue, nil
}

// Head returns the current chain head.
func (l *Ledger) Head(ctx context.Context) (Head, error) {
	return l.repo.Head(ctx)
}

// List returns stored events newest first along with the total count.
func (l *Ledger) List(ctx context.Context, limit, offset int) ([]*Event, int, error) {
	return l.repo.List(ctx, limit, offset)
}

// GetByID returns a single stored event.
func (l *Ledger) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	return l.repo.GetByID(ctx, id)
}

// Checkpoint is a resumable position in a verification pass. NextSeq is the
// first unverified sequence number and PrevHash the stored hash of the event
// before it, empty when starting from the beginning.
type Checkpoint struct {
	NextSeq  int64  `json:"next_seq"`
	PrevHash string `json:"prev_hash"`
}

// Verifier walks the chain in batches, recomputing every hash and checking
// every predecessor link. It holds only a cursor, so verification of an
// arbitrarily long chain runs in constant memory, and it can resume from a
// persisted Checkpoint after interruption.
type Verifier struct {
	repo     Repository
	batch    int
	nextSeq  int64
	prevHash string
	checked  int64
	fromSeq  int64
	toSeq    int64 // 0 means through the end of the chain
	firstBad *int64
	done     bool
}

// NewVerifier creates a verifier resuming at cp. Use the zero Checkpoint to
// verify from the first event.
func NewVerifier(repo Repository, cp Checkpoint) *Verifier {
	next := cp.NextSeq
	if next < 1 {
		next = 1
	}
	return &Verifier{
		repo:     repo,
		batch:    defaultVerifyBatch,
		nextSeq:  next,
		prevHash: cp.PrevHash,
		fromSeq:  next,
	}
}

// Next verifies one batch of events and returns the per-event results. done
// is true once the verifier has consumed the whole chain. A divergence does
// not stop the walk; the report records where the chain first broke.
func (v *Verifier) Next(ctx context.Context) (results []VerifyResult, done bool, err error) {
	if v.done {
		return nil, true, nil
	}
	if v.toSeq > 0 && v.nextSeq > v.toSeq {
		v.done = true
		return nil, true, nil
	}

	hi := v.nextSeq + int64(v.batch) - 1
	if v.toSeq > 0 && hi > v.toSeq {
		hi = v.toSeq
	}
	want := int(hi - v.nextSeq + 1)

	events, err := v.repo.ListRange(ctx, v.nextSeq, hi, v.batch)
	if err != nil {
		return nil, false, fmt.Errorf("load chain range: %w", err)
	}
	if len(events) == 0 {
		v.done = true
		return nil, true, nil
	}

	for _, e := range events {
		res := VerifyResult{
			Seq:          e.Seq,
			EventID:      e.ID,
			StoredHash:   e.Hash,
			ComputedHash: ComputeHash(e.HashPrevious, e),
			LinkOK:       e.HashPrevious == v.prevHash,
		}
		res.HashOK = res.ComputedHash == res.StoredHash
		if !res.OK() && v.firstBad == nil {
			seq := e.Seq
			v.firstBad = &seq
		}
		results = append(results, res)

		v.prevHash = e.Hash
		v.nextSeq = e.Seq + 1
		v.checked++
	}
	if len(events) < want {
		v.done = true
	}
	if v.toSeq > 0 && v.nextSeq > v.toSeq {
		v.done = true
	}
	return results, v.done, nil
}

// Checkpoint returns the verifier's current resumable position.
func (v *Verifier) Checkpoint() Checkpoint {
	return Checkpoint{NextSeq: v.nextSeq, PrevHash: v.prevHash}
}

// Report summarizes everything verified so far.
func (v *Verifier) Report() IntegrityReport {
	return IntegrityReport{
		FromSeq:         v.fromSeq,
		ToSeq:           v.nextSeq - 1,
		Checked:         v.checked,
		Valid:           v.firstBad == nil,
		FirstDivergence: v.firstBad,
	}
}

// VerifyChain runs a full verification pass from the first event and returns
// the report. Long chains are walked batch by batch; use a Verifier directly
// to checkpoint between batches.
func (l *Ledger) VerifyChain(ctx context.Context) (IntegrityReport, error) {
	return l.VerifyRange(ctx, 1, 0)
}

// VerifyRange verifies the chain slice [fromSeq, toSeq]. A toSeq of zero
// means through the current end of the chain. When fromSeq is past the first
// event, the predecessor's stored hash seeds the link check, so a bounded
// pass still catches a broken link at the range boundary.
func (l *Ledger) VerifyRange(ctx context.Context, fromSeq, toSeq int64) (IntegrityReport, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}
	cp := Checkpoint{NextSeq: fromSeq}
	if fromSeq > 1 {
		prev, err := l.repo.ListRange(ctx, fromSeq-1, fromSeq-1, 1)
		if err != nil {
			return IntegrityReport{}, fmt.Errorf("load range predecessor: %w", err)
		}
		if len(prev) == 1 {
			cp.PrevHash = prev[0].Hash
		}
	}

	v := NewVerifier(l.repo, cp)
	v.toSeq = toSeq
	for {
		_, done, err := v.Next(ctx)
		if err != nil {
			return IntegrityReport{}, err
		}
		if done {
			break
		}
	}

	report := v.Report()
	if !report.Valid {
		if l.metrics != nil {
			l.metrics.IntegrityFailures.Inc()
		}
		l.log.Error().Int64("first_divergence", *report.FirstDivergence).
			Msg("audit chain integrity violation")
	}
	return report, nil
}
