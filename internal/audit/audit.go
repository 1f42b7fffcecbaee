// Package audit records state-mutating actions for later review.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/store"
	"github.com/google/uuid"
)

// Outcomes recorded with each entry.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Writer appends audit entries to the store.
type Writer struct {
	store store.Store
	now   func() time.Time
}

// NewWriter creates a new audit writer.
func NewWriter(s store.Store) *Writer {
	return &Writer{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// Record writes an entry for a state-mutating action. inputs are hashed,
// never stored verbatim.
func (w *Writer) Record(ctx context.Context, action string, inputs any, outcome, entityID, details string) (*models.AuditEntry, error) {
	e := models.AuditEntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: HashInputs(inputs),
		Outcome:    outcome,
		EntityID:   entityID,
		Details:    details,
		Timestamp:  w.now(),
	}
	if err := w.store.WriteAudit(ctx, e); err != nil {
		return nil, err
	}
	return &e, nil
}

// HashInputs returns the hex SHA-256 of the JSON encoding of inputs.
func HashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
