package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pw-escrow/backend/internal/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

type EscrowStore interface {
	// CreateEscrow assigns ID, Code, Version and timestamps to e.
	CreateEscrow(ctx context.Context, e *models.Escrow) error
	GetEscrow(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	GetEscrowByCode(ctx context.Context, code string) (*models.Escrow, error)
	// UpdateTerms replaces the editable terms if the escrow is still at
	// u.FromVersion, appending u.Audit in the same unit of work.
	UpdateTerms(ctx context.Context, u TermsUpdate) (*models.Escrow, error)
	// ListExpirable returns escrows in an expirable state whose delivery
	// deadline is at or before now, oldest deadline first.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error)
}

type TokenStore interface {
	CreateToken(ctx context.Context, t *models.ActionToken) error
	GetToken(ctx context.Context, id uuid.UUID) (*models.ActionToken, error)
	// ConsumeToken atomically checks the token against claim and marks it
	// used. Of any number of concurrent callers at most one succeeds.
	ConsumeToken(ctx context.Context, id uuid.UUID, claim models.TokenClaim, now time.Time) (*models.ActionToken, error)
}

type AuditStore interface {
	AppendAudit(ctx context.Context, e *models.AuditLogEntry) error
	// ListAudit returns the entries of one escrow ordered by CreatedAt, then ID.
	ListAudit(ctx context.Context, escrowID uuid.UUID) ([]models.AuditLogEntry, error)
}

type UserStore interface {
	UpsertUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

type Store interface {
	EscrowStore
	TokenStore
	AuditStore
	UserStore

	// CommitTransition consumes the token, moves the escrow from
	// (FromState, FromVersion) to ToState and appends Audit, all or nothing.
	// A stale FromVersion yields a ConcurrentModification rejection and
	// leaves the token unused.
	CommitTransition(ctx context.Context, c TransitionCommit) (*models.Escrow, error)
}

type TransitionCommit struct {
	TokenID     uuid.UUID
	Claim       models.TokenClaim
	FromState   models.EscrowState
	FromVersion int64
	// ToState equals FromState when only a consent is being recorded.
	ToState models.EscrowState
	Audit   *models.AuditLogEntry
	Now     time.Time
}

type TermsUpdate struct {
	EscrowID    uuid.UUID
	FromVersion int64
	Terms       models.Terms
	Audit       *models.AuditLogEntry
	Now         time.Time
}

func staleVersion(escrowID uuid.UUID, version int64) error {
	return models.Reject(models.ReasonConcurrentModification,
		"escrow %s is no longer at version %d", escrowID, version)
}
