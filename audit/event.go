// Package audit emits structured, append-only audit events.
//
// Events are chained: each carries the SHA-256 digest of the RFC 8785
// canonical JSON of itself (without the digest) and the digest of its
// predecessor, so a removed or altered entry is detectable with Verify.
//
// Emission is decoupled from storage. The Emitter buffers events in a
// bounded ring and a single writer goroutine drains them into a Sink with
// bounded retry. A slow or unavailable sink never blocks the caller and
// never fails it; events that cannot be written are dropped and logged.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// EventType names what happened.
type EventType string

const (
	EventValidatorInitialized EventType = "validator_initialized"
	EventValidationStart      EventType = "validation_start"
	EventValidationComplete   EventType = "validation_complete"
	EventValidationError      EventType = "validation_error"
	EventPHIDetected          EventType = "phi_detected"
	EventStatisticsReset      EventType = "statistics_reset"
	EventBatchStart           EventType = "batch_start"
	EventBatchComplete        EventType = "batch_complete"
	EventBatchCancelled       EventType = "batch_cancelled"
	EventIngestionStart       EventType = "ingestion_start"
	EventIngestionComplete    EventType = "ingestion_complete"
	EventIngestionError       EventType = "ingestion_error"
)

// Status values.
const (
	StatusStarted = "started"
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusError   = "error"
	StatusWarning = "warning"
)

// Event is one audit log entry. Details must never hold field values;
// only field names, categories and counts.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Sequence   uint64         `json:"sequence"`
	Timestamp  time.Time      `json:"timestamp"`
	EventType  EventType      `json:"event_type"`
	SourceType string         `json:"source_type,omitempty"`
	SourcePath string         `json:"source_path,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Status     string         `json:"status"`
	Details    map[string]any `json:"details,omitempty"`
	PrevHash   string         `json:"prev_hash,omitempty"`
	Hash       string         `json:"hash,omitempty"`
}

// ComputeHash returns the hex SHA-256 digest of the canonical JSON form
// of e with Hash cleared.
func (e Event) ComputeHash() (string, error) {
	e.Hash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", errors.Wrap(err, "marshal audit event")
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", errors.Wrap(err, "canonicalize audit event")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ErrChainBroken is returned by Verify when events do not form a chain.
var ErrChainBroken = errors.New("audit chain broken")

// Verify checks that events form an unbroken hash chain in sequence
// order. The first event's PrevHash is not checked, so a suffix of a log
// verifies on its own.
func Verify(events []Event) error {
	for i, e := range events {
		h, err := e.ComputeHash()
		if err != nil {
			return err
		}
		if h != e.Hash {
			return errors.Wrapf(ErrChainBroken, "event %d (sequence %d): hash mismatch", i, e.Sequence)
		}
		if i == 0 {
			continue
		}
		prev := events[i-1]
		if e.PrevHash != prev.Hash {
			return errors.Wrapf(ErrChainBroken, "event %d (sequence %d): prev_hash does not match", i, e.Sequence)
		}
		if e.Sequence != prev.Sequence+1 {
			return errors.Wrapf(ErrChainBroken, "event %d: sequence %d follows %d", i, e.Sequence, prev.Sequence)
		}
	}
	return nil
}

// ReadJSONLines decodes events written by FileSink.
func ReadJSONLines(data []byte) ([]Event, error) {
	var out []Event
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e Event
		if err := dec.Decode(&e); err != nil {
			return out, errors.Wrapf(err, "decode audit event %d", len(out))
		}
		out = append(out, e)
	}
	return out, nil
}
