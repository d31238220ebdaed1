package services

import (
	"context"
	"time"

	"github.com/pw-escrow/backend/internal/models"
	"github.com/pw-escrow/backend/internal/rbac"
	"github.com/pw-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

// ExpirySweeper expires escrows whose delivery deadline has passed. It goes
// through AttemptTransition like any other caller, as the system principal.
type ExpirySweeper struct {
	store   repositories.EscrowStore
	tokens  *TokenService
	escrows *EscrowService
	batch   int
	now     Clock
	log     *zap.Logger
}

func NewExpirySweeper(store repositories.EscrowStore, tokens *TokenService, escrows *EscrowService, batch int, now Clock, log *zap.Logger) *ExpirySweeper {
	if now == nil {
		now = SystemClock
	}
	if batch <= 0 {
		batch = 100
	}
	return &ExpirySweeper{store: store, tokens: tokens, escrows: escrows, batch: batch, now: now, log: log}
}

// SweepOnce expires at most one batch and reports how many escrows it moved.
// Escrows that changed state since they were listed are skipped.
func (w *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	due, err := w.store.ListExpirable(ctx, w.now(), w.batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, e := range due {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		tok, err := w.tokens.Issue(ctx, e.ID, models.ActionExpired, rbac.SystemPrincipalID, 0)
		if err != nil {
			w.logSkip(e, "issue", err)
			continue
		}
		_, err = w.escrows.AttemptTransition(ctx, TransitionRequest{
			EscrowID:    e.ID,
			Action:      models.ActionExpired,
			PrincipalID: rbac.SystemPrincipalID,
			TokenID:     tok.Token,
		})
		if err != nil {
			w.logSkip(e, "transition", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		w.log.Info("expired escrows", zap.Int("count", expired), zap.Int("due", len(due)))
	}
	return expired, nil
}

func (w *ExpirySweeper) logSkip(e models.Escrow, step string, err error) {
	if models.IsRejection(err) {
		w.log.Info("escrow not expired",
			zap.String("escrow_id", e.ID.String()),
			zap.String("step", step),
			zap.Error(err),
		)
		return
	}
	w.log.Error("expiry sweep failed",
		zap.String("escrow_id", e.ID.String()),
		zap.String("step", step),
		zap.Error(err),
	)
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *ExpirySweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("expiry sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
