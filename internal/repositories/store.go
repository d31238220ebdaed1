package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pw-escrow/backend/internal/models"
)

// PostgresStore is the Store backed by the pgx pool.
type PostgresStore struct {
	*EscrowRepo
	*TokenRepo
	*AuditRepo
	*UserRepo
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		EscrowRepo: NewEscrowRepo(pool),
		TokenRepo:  NewTokenRepo(pool),
		AuditRepo:  NewAuditRepo(pool),
		UserRepo:   NewUserRepo(pool),
		pool:       pool,
	}
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) CommitTransition(ctx context.Context, c TransitionCommit) (*models.Escrow, error) {
	var out *models.Escrow
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tokens := &TokenRepo{db: tx}
		escrows := &EscrowRepo{db: tx}
		audit := &AuditRepo{db: tx}

		if err := tokens.lockAndConsume(ctx, c.TokenID, c.Claim, c.Now); err != nil {
			return err
		}
		e, err := escrows.compareAndSwapState(ctx, c.Claim.EscrowID, c.FromState, c.FromVersion, c.ToState, c.Now)
		if errors.Is(err, ErrNotFound) {
			return staleVersion(c.Claim.EscrowID, c.FromVersion)
		}
		if err != nil {
			return fmt.Errorf("update escrow state: %w", err)
		}
		if c.Audit != nil {
			if err := audit.AppendAudit(ctx, c.Audit); err != nil {
				return fmt.Errorf("append audit: %w", err)
			}
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) UpdateTerms(ctx context.Context, u TermsUpdate) (*models.Escrow, error) {
	var out *models.Escrow
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		e, err := (&EscrowRepo{db: tx}).updateTerms(ctx, u)
		if errors.Is(err, ErrNotFound) {
			return staleVersion(u.EscrowID, u.FromVersion)
		}
		if err != nil {
			return fmt.Errorf("update terms: %w", err)
		}
		if u.Audit != nil {
			if err := (&AuditRepo{db: tx}).AppendAudit(ctx, u.Audit); err != nil {
				return fmt.Errorf("append audit: %w", err)
			}
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
