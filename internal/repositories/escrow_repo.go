package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pw-escrow/backend/internal/models"
	"github.com/shopspring/decimal"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const escrowCodePrefix = "PW-"

const escrowColumns = `
	id, escrow_code, chat_id, buyer_id, seller_id, deal_title, description,
	amount::text, fee_amount::text, delivery_deadline, refund_conditions,
	dispute_agreement, state::text, version, created_at, updated_at`

type EscrowRepo struct {
	db dbtx
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{db: pool}
}

func (r *EscrowRepo) CreateEscrow(ctx context.Context, e *models.Escrow) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO escrows (escrow_code, chat_id, buyer_id, seller_id, deal_title, description,
		                     amount, fee_amount, delivery_deadline, refund_conditions, dispute_agreement,
		                     state, created_at, updated_at)
		VALUES ($1 || nextval('escrow_code_seq')::text, $2, $3, $4, $5, $6,
		        $7::numeric, $8::numeric, $9, $10, $11, $12::escrow_state, $13, $13)
		RETURNING id, escrow_code, version, created_at, updated_at
	`, escrowCodePrefix, e.ChatID, e.BuyerID, e.SellerID, e.DealTitle, e.Description,
		e.Amount.String(), e.FeeAmount.String(), e.DeliveryDeadline, e.RefundConditions, e.DisputeAgreement,
		string(e.State), createdAt(e.CreatedAt),
	).Scan(&e.ID, &e.Code, &e.Version, &e.CreatedAt, &e.UpdatedAt)
}

func (r *EscrowRepo) GetEscrow(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return scanEscrow(r.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id))
}

func (r *EscrowRepo) GetEscrowByCode(ctx context.Context, code string) (*models.Escrow, error) {
	return scanEscrow(r.db.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE escrow_code = $1`, code))
}

// compareAndSwapState moves the escrow to next only if it is still at
// (from, version). It returns ErrNotFound when the row did not match.
func (r *EscrowRepo) compareAndSwapState(ctx context.Context, id uuid.UUID, from models.EscrowState, version int64, next models.EscrowState, now time.Time) (*models.Escrow, error) {
	return scanEscrow(r.db.QueryRow(ctx, `
		UPDATE escrows
		SET state = $4::escrow_state, version = version + 1, updated_at = GREATEST(updated_at, $5)
		WHERE id = $1 AND state = $2::escrow_state AND version = $3
		RETURNING `+escrowColumns,
		id, string(from), version, string(next), now))
}

func (r *EscrowRepo) updateTerms(ctx context.Context, u TermsUpdate) (*models.Escrow, error) {
	return scanEscrow(r.db.QueryRow(ctx, `
		UPDATE escrows
		SET refund_conditions = $3, dispute_agreement = $4, delivery_deadline = $5,
		    version = version + 1, updated_at = GREATEST(updated_at, $6)
		WHERE id = $1 AND version = $2
		RETURNING `+escrowColumns,
		u.EscrowID, u.FromVersion, u.Terms.RefundConditions, u.Terms.DisputeAgreement, u.Terms.DeliveryDeadline, u.Now))
}

func (r *EscrowRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	states := make([]string, 0, len(models.ExpirableStates()))
	for _, s := range models.ExpirableStates() {
		states = append(states, string(s))
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE delivery_deadline IS NOT NULL AND delivery_deadline <= $1 AND state::text = ANY($2)
		ORDER BY delivery_deadline, id
		LIMIT $3
	`, now, states, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escrows []models.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		escrows = append(escrows, *e)
	}
	return escrows, rows.Err()
}

func scanEscrow(row pgx.Row) (*models.Escrow, error) {
	var (
		e                  models.Escrow
		amount, fee, state string
	)
	err := row.Scan(&e.ID, &e.Code, &e.ChatID, &e.BuyerID, &e.SellerID, &e.DealTitle, &e.Description,
		&amount, &fee, &e.DeliveryDeadline, &e.RefundConditions,
		&e.DisputeAgreement, &state, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("escrow %s amount: %w", e.ID, err)
	}
	if e.FeeAmount, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("escrow %s fee: %w", e.ID, err)
	}
	e.State = models.EscrowState(state)
	return &e, nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
