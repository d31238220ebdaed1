package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pw-escrow/backend/internal/models"
)

const tokenColumns = `token, escrow_id, action, user_id, created_at, expires_at, used`

type TokenRepo struct {
	db dbtx
}

func NewTokenRepo(pool *pgxpool.Pool) *TokenRepo {
	return &TokenRepo{db: pool}
}

func (r *TokenRepo) CreateToken(ctx context.Context, t *models.ActionToken) error {
	if t.Token == uuid.Nil {
		t.Token = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO action_tokens (token, escrow_id, action, user_id, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6, false)
	`, t.Token, t.EscrowID, string(t.Action), t.UserID, t.CreatedAt, t.ExpiresAt)
	return err
}

func (r *TokenRepo) GetToken(ctx context.Context, id uuid.UUID) (*models.ActionToken, error) {
	return scanToken(r.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM action_tokens WHERE token = $1`, id))
}

// ConsumeToken flips used in a single conditional UPDATE. When no row
// matches, the token is re-read to report why.
func (r *TokenRepo) ConsumeToken(ctx context.Context, id uuid.UUID, claim models.TokenClaim, now time.Time) (*models.ActionToken, error) {
	t, err := scanToken(r.db.QueryRow(ctx, `
		UPDATE action_tokens
		SET used = true
		WHERE token = $1 AND used = false AND expires_at > $2
		  AND escrow_id = $3 AND action = $4 AND user_id = $5
		RETURNING `+tokenColumns,
		id, now, claim.EscrowID, string(claim.Action), claim.PrincipalID))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return nil, r.classify(ctx, id, claim, now)
}

func (r *TokenRepo) classify(ctx context.Context, id uuid.UUID, claim models.TokenClaim, now time.Time) error {
	t, err := r.GetToken(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return models.Reject(models.ReasonTokenNotFound, "token %s does not exist", id)
	}
	if err != nil {
		return err
	}
	if err := t.Check(claim, now); err != nil {
		return err
	}
	// Another caller consumed it between our UPDATE and the re-read.
	return models.Reject(models.ReasonTokenAlreadyUsed, "token %s was already used", id)
}

// lockAndConsume is the in-transaction variant used by CommitTransition.
func (r *TokenRepo) lockAndConsume(ctx context.Context, id uuid.UUID, claim models.TokenClaim, now time.Time) error {
	t, err := scanToken(r.db.QueryRow(ctx, `SELECT `+tokenColumns+` FROM action_tokens WHERE token = $1 FOR UPDATE`, id))
	if errors.Is(err, ErrNotFound) {
		return models.Reject(models.ReasonTokenNotFound, "token %s does not exist", id)
	}
	if err != nil {
		return err
	}
	if err := t.Check(claim, now); err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `UPDATE action_tokens SET used = true WHERE token = $1`, id)
	return err
}

func scanToken(row pgx.Row) (*models.ActionToken, error) {
	var (
		t      models.ActionToken
		action string
	)
	err := row.Scan(&t.Token, &t.EscrowID, &action, &t.UserID, &t.CreatedAt, &t.ExpiresAt, &t.Used)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Action = models.Action(action)
	return &t, nil
}
