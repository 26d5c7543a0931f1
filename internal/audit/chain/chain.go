// Package chain computes and verifies per-stream audit hash chains.
//
//	self_hash = hex(H(prev_hash || canonical(event)))
//
// The first event of a stream links to GenesisHash.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"keepsake/internal/audit/models"
)

// GenesisHash is the prev_hash of the first event in every stream.
var GenesisHash = strings.Repeat("0", 64)

const (
	AlgorithmSHA256  = "sha256"
	AlgorithmBLAKE2b = "blake2b"
)

// Hasher produces the self hash of an event given its predecessor hash.
type Hasher interface {
	Algorithm() string
	Sum(prevHash string, canonical []byte) string
}

type hasher struct {
	name    string
	newHash func() hash.Hash
}

func (h hasher) Algorithm() string { return h.name }

func (h hasher) Sum(prevHash string, canonical []byte) string {
	d := h.newHash()
	d.Write([]byte(prevHash))
	d.Write(canonical)
	return hex.EncodeToString(d.Sum(nil))
}

// NewHasher returns the hasher for a configured algorithm name.
// An empty name selects SHA-256.
func NewHasher(algorithm string) (Hasher, error) {
	switch algorithm {
	case "", AlgorithmSHA256:
		return hasher{name: AlgorithmSHA256, newHash: sha256.New}, nil
	case AlgorithmBLAKE2b:
		return hasher{name: AlgorithmBLAKE2b, newHash: func() hash.Hash {
			h, _ := blake2b.New256(nil) // only errors on an oversized key
			return h
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// MustHasher is NewHasher for compile-time constant names.
func MustHasher(algorithm string) Hasher {
	h, err := NewHasher(algorithm)
	if err != nil {
		panic(err)
	}
	return h
}

// canonicalEvent fixes field order and encodings for hashing. Field names are
// part of the hash input and must never change.
type canonicalEvent struct {
	EventID        string `json:"event_id"`
	StreamID       string `json:"stream_id"`
	Seq            int64  `json:"seq"`
	EventType      string `json:"event_type"`
	ActorType      string `json:"actor_type"`
	TimestampUTC   string `json:"timestamp_utc"`
	TimestampLocal string `json:"timestamp_local"`
	Region         string `json:"region"`
	Outcome        string `json:"outcome"`
	SubjectID      string `json:"subject_id"`
	ConsentType    string `json:"consent_type"`
	ConsentVersion int    `json:"consent_version"`
	ObjectID       string `json:"object_id"`
	Detail         string `json:"detail"`
}

// Canonical returns the byte encoding of every hashed field of e.
func Canonical(e *models.Event) []byte {
	c := canonicalEvent{
		EventID:        e.ID.String(),
		StreamID:       e.Stream.String(),
		Seq:            e.Seq,
		EventType:      string(e.Type),
		ActorType:      string(e.ActorType),
		TimestampUTC:   e.TimestampUTC.UTC().Format(time.RFC3339Nano),
		TimestampLocal: e.TimestampLocal,
		Region:         string(e.Region),
		Outcome:        string(e.Outcome),
		ConsentType:    e.ConsentType,
		ConsentVersion: e.ConsentVersion,
		Detail:         e.Detail,
	}
	if !e.SubjectID.IsNil() {
		c.SubjectID = e.SubjectID.String()
	}
	if !e.ObjectID.IsNil() {
		c.ObjectID = e.ObjectID.String()
	}
	b, _ := json.Marshal(c) // strings and ints only
	return b
}

// Seal sets e.PrevHash to prev and computes e.SelfHash.
func Seal(h Hasher, e *models.Event, prev string) {
	e.PrevHash = prev
	e.SelfHash = h.Sum(prev, Canonical(e))
}

// Recompute returns the hash e should carry given its recorded PrevHash.
func Recompute(h Hasher, e *models.Event) string {
	return h.Sum(e.PrevHash, Canonical(e))
}

// VerifyEvents checks that events form a contiguous chain starting after
// (anchorSeq, anchorHash). Pass anchorSeq 0 and GenesisHash for a whole stream.
// The first divergence found is reported; nothing after it is trusted.
func VerifyEvents(h Hasher, events []models.Event, anchorSeq int64, anchorHash string) models.VerifyResult {
	res := models.VerifyResult{Valid: true}
	if len(events) > 0 {
		res.Stream = events[0].Stream
	}
	prevSeq, prevHash := anchorSeq, anchorHash
	for i := range events {
		e := &events[i]
		fail := func(reason string) models.VerifyResult {
			res.Valid = false
			res.FirstDivergence = prevSeq + 1
			res.Reason = reason
			return res
		}
		switch {
		case e.Stream != res.Stream:
			return fail(fmt.Sprintf("event %s belongs to stream %s", e.ID, e.Stream))
		case e.Seq != prevSeq+1:
			return fail(fmt.Sprintf("expected seq %d, got %d", prevSeq+1, e.Seq))
		case e.PrevHash != prevHash:
			return fail("prev_hash does not match predecessor")
		case Recompute(h, e) != e.SelfHash:
			return fail("self_hash does not match event fields")
		}
		prevSeq, prevHash = e.Seq, e.SelfHash
		res.Checked++
	}
	return res
}
