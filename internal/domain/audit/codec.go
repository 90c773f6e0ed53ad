package audit

import (
	"encoding/binary"
	"time"

	"github.com/careledger/careledger/internal/platform/crypto"
)

// Canonical byte encoding of an event for chain hashing. The encoding is
// versioned and strictly field-ordered so that replaying the same drafts
// always yields the same final hash regardless of platform or store.
//
// Layout: a version byte, then every hashed field in declaration order, each
// written as a uvarint length followed by the raw bytes. Integers are encoded
// as varints, timestamps as RFC3339Nano in UTC. Only deterministic fields
// enter the encoding: the event id and the encrypted envelopes are excluded
// because both contain fresh randomness on every append (the id itself, the
// GCM IVs). Value integrity enters the chain through the plaintext digests
// instead. Hash and HashPrevious are also excluded: the previous hash is
// prepended by ComputeHash, and CreatedAt is store bookkeeping outside the
// chain.

const codecVersion = 0x01

func appendBytes(buf []byte, b []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendString(buf []byte, s string) []byte {
	return appendBytes(buf, []byte(s))
}

func appendInt(buf []byte, v int64) []byte {
	return binary.AppendVarint(buf, v)
}

func appendTime(buf []byte, t time.Time) []byte {
	return appendString(buf, t.UTC().Format(time.RFC3339Nano))
}

// canonicalBytes encodes the hashed fields of an event.
func canonicalBytes(e *Event) []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, codecVersion)
	buf = appendInt(buf, e.Seq)
	buf = appendTime(buf, e.Timestamp)
	buf = appendString(buf, e.ActorID)
	buf = appendString(buf, e.ActorRole)
	buf = appendString(buf, e.IPAddress)
	buf = appendString(buf, string(e.Action))
	buf = appendString(buf, e.ResourceType)
	buf = appendString(buf, e.ResourceID)
	buf = appendString(buf, e.Endpoint)
	buf = appendString(buf, e.HTTPMethod)
	buf = appendInt(buf, int64(e.StatusCode))
	buf = appendString(buf, e.OldValueHash)
	buf = appendString(buf, e.NewValueHash)
	buf = appendString(buf, e.ClinicalContext)
	buf = appendString(buf, e.SessionID)
	return buf
}

// ComputeHash derives an event's chain hash from its predecessor's hash and
// its own canonical encoding. prevHash is empty for the first event.
func ComputeHash(prevHash string, e *Event) string {
	payload := make([]byte, 0, len(prevHash)+256)
	payload = append(payload, []byte(prevHash)...)
	payload = append(payload, canonicalBytes(e)...)
	return crypto.HashHex(payload)
}
