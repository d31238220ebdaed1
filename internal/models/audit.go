package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions that are not transition names.
const (
	AuditEscrowCreated      = "ESCROW_CREATED"
	AuditTermsUpdated       = "TERMS_UPDATED"
	AuditTokenIssued        = "TOKEN_ISSUED"
	AuditTokenIssueRejected = "TOKEN_ISSUE_REJECTED"
	AuditTokenConsumed      = "TOKEN_CONSUMED"
	AuditTokenRejected      = "TOKEN_REJECTED"
	AuditEscrowLookupFailed = "ESCROW_LOOKUP_FAILED"
)

// Outcomes recorded under the "outcome" payload key of transition entries.
const (
	OutcomeAccepted        = "accepted"
	OutcomeRejected        = "rejected"
	OutcomeConsentRecorded = "consent_recorded"
)

// AuditLogEntry is an immutable fact. Entries are ordered by CreatedAt, then ID.
type AuditLogEntry struct {
	ID        int64          `json:"id"`
	EscrowID  *uuid.UUID     `json:"escrow_id,omitempty"`
	ChatID    *int64         `json:"chat_id,omitempty"`
	ActorID   int64          `json:"actor_id"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

func (e *AuditLogEntry) Outcome() string {
	s, _ := e.Payload["outcome"].(string)
	return s
}

func (e *AuditLogEntry) PayloadString(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}
