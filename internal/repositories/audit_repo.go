package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pw-escrow/backend/internal/models"
)

type AuditRepo struct {
	db dbtx
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{db: pool}
}

func (r *AuditRepo) AppendAudit(ctx context.Context, e *models.AuditLogEntry) error {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	e.CreatedAt = createdAt(e.CreatedAt)
	return r.db.QueryRow(ctx, `
		INSERT INTO escrow_logs (escrow_id, chat_id, actor_id, action, payload, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		RETURNING id
	`, e.EscrowID, e.ChatID, e.ActorID, e.Action, string(raw), e.CreatedAt).Scan(&e.ID)
}

func (r *AuditRepo) ListAudit(ctx context.Context, escrowID uuid.UUID) ([]models.AuditLogEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, escrow_id, chat_id, actor_id, action, payload::text, created_at
		FROM escrow_logs WHERE escrow_id = $1
		ORDER BY created_at, id
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AuditLogEntry
	for rows.Next() {
		var (
			l   models.AuditLogEntry
			raw string
		)
		if err := rows.Scan(&l.ID, &l.EscrowID, &l.ChatID, &l.ActorID, &l.Action, &raw, &l.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &l.Payload); err != nil {
			return nil, fmt.Errorf("audit entry %d payload: %w", l.ID, err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
