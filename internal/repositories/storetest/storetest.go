// Package storetest holds the behavioural contract every repositories.Store
// implementation must satisfy.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pw-escrow/backend/internal/models"
	"github.com/pw-escrow/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	buyerID  int64 = 5001
	sellerID int64 = 5002
)

// Run exercises newStore against the Store contract. newStore must return
// an empty store for every call.
func Run(t *testing.T, newStore func(t *testing.T) repositories.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s repositories.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateRejectsInvalid", testCreateRejectsInvalid},
		{"ConsumeTokenOnce", testConsumeTokenOnce},
		{"ConsumeTokenReasons", testConsumeTokenReasons},
		{"ConsumeTokenConcurrent", testConsumeTokenConcurrent},
		{"CommitTransition", testCommitTransition},
		{"CommitTransitionStaleVersion", testCommitTransitionStale},
		{"CommitTransitionConcurrent", testCommitTransitionConcurrent},
		{"UpdateTerms", testUpdateTerms},
		{"ListExpirable", testListExpirable},
		{"AuditOrdering", testAuditOrdering},
		{"AuditListIsDetached", testAuditListIsDetached},
		{"Users", testUsers},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newEscrow(t *testing.T, s repositories.Store, state models.EscrowState) *models.Escrow {
	t.Helper()
	e := &models.Escrow{
		BuyerID:   buyerID,
		SellerID:  sellerID,
		DealTitle: "Instagram Account Sale",
		Amount:    decimal.RequireFromString("10000.00"),
		FeeAmount: decimal.RequireFromString("600.00"),
		State:     state,
		CreatedAt: now(),
	}
	require.NoError(t, s.CreateEscrow(context.Background(), e))
	return e
}

func newToken(t *testing.T, s repositories.Store, e *models.Escrow, action models.Action, user int64, ttl time.Duration) *models.ActionToken {
	t.Helper()
	issued := now()
	tok := &models.ActionToken{
		Token:     uuid.New(),
		EscrowID:  e.ID,
		Action:    action,
		UserID:    user,
		CreatedAt: issued,
		ExpiresAt: issued.Add(ttl),
	}
	require.NoError(t, s.CreateToken(context.Background(), tok))
	return tok
}

func claimFor(tok *models.ActionToken) models.TokenClaim {
	return models.TokenClaim{EscrowID: tok.EscrowID, Action: tok.Action, PrincipalID: tok.UserID}
}

func requireReason(t *testing.T, err error, want models.Reason) {
	t.Helper()
	require.Error(t, err)
	got, ok := models.ReasonOf(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, want, got, err.Error())
}

func testCreateAndGet(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	a := newEscrow(t, s, models.StateCreated)
	b := newEscrow(t, s, models.StateCreated)

	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Regexp(t, `^PW-\d{6,}$`, a.Code)
	assert.NotEqual(t, a.Code, b.Code)
	assert.EqualValues(t, 0, a.Version)

	got, err := s.GetEscrow(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Code, got.Code)
	assert.True(t, got.Amount.Equal(a.Amount))
	assert.Equal(t, models.StateCreated, got.State)

	byCode, err := s.GetEscrowByCode(ctx, a.Code)
	require.NoError(t, err)
	assert.Equal(t, a.ID, byCode.ID)

	_, err = s.GetEscrow(ctx, uuid.New())
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	_, err = s.GetEscrowByCode(ctx, "PW-1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func testCreateRejectsInvalid(t *testing.T, s repositories.Store) {
	e := &models.Escrow{
		BuyerID:   buyerID,
		SellerID:  sellerID,
		DealTitle: "zero",
		Amount:    decimal.Zero,
		State:     models.StateCreated,
	}
	err := s.CreateEscrow(context.Background(), e)
	assert.ErrorIs(t, err, models.ErrInvalidEscrow)

	e = &models.Escrow{
		BuyerID:   0,
		SellerID:  sellerID,
		DealTitle: "system buyer",
		Amount:    decimal.NewFromInt(10),
		State:     models.StateCreated,
	}
	err = s.CreateEscrow(context.Background(), e)
	assert.ErrorIs(t, err, models.ErrInvalidEscrow)
}

func testConsumeTokenOnce(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	e := newEscrow(t, s, models.StateFunded)
	tok := newToken(t, s, e, models.ActionDelivered, buyerID, 10*time.Minute)

	got, err := s.ConsumeToken(ctx, tok.Token, claimFor(tok), now())
	require.NoError(t, err)
	assert.True(t, got.Used)

	for i := 0; i < 3; i++ {
		_, err = s.ConsumeToken(ctx, tok.Token, claimFor(tok), now())
		requireReason(t, err, models.ReasonTokenAlreadyUsed)
	}
	stored, err := s.GetToken(ctx, tok.Token)
	require.NoError(t, err)
	assert.True(t, stored.Used)
}

func testConsumeTokenReasons(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	e := newEscrow(t, s, models.StateFunded)
	tok := newToken(t, s, e, models.ActionDelivered, buyerID, 10*time.Minute)

	_, err := s.ConsumeToken(ctx, uuid.New(), claimFor(tok), now())
	requireReason(t, err, models.ReasonTokenNotFound)

	wrongUser := claimFor(tok)
	wrongUser.PrincipalID = sellerID
	_, err = s.ConsumeToken(ctx, tok.Token, wrongUser, now())
	requireReason(t, err, models.ReasonTokenMismatch)

	wrongAction := claimFor(tok)
	wrongAction.Action = models.ActionDisputed
	_, err = s.ConsumeToken(ctx, tok.Token, wrongAction, now())
	requireReason(t, err, models.ReasonTokenMismatch)

	_, err = s.ConsumeToken(ctx, tok.Token, claimFor(tok), tok.ExpiresAt.Add(time.Second))
	requireReason(t, err, models.ReasonTokenExpired)

	// None of the failures above consumed it.
	_, err = s.ConsumeToken(ctx, tok.Token, claimFor(tok), now())
	require.NoError(t, err)
}

func testConsumeTokenConcurrent(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	e := newEscrow(t, s, models.StateFunded)
	tok := newToken(t, s, e, models.ActionDelivered, buyerID, 10*time.Minute)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeToken(ctx, tok.Token, claimFor(tok), now())
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			if r, _ := models.ReasonOf(err); r != models.ReasonTokenAlreadyUsed {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func commitFor(tok *models.ActionToken, e *models.Escrow, to models.EscrowState) repositories.TransitionCommit {
	return repositories.TransitionCommit{
		TokenID:     tok.Token,
		Claim:       claimFor(tok),
		FromState:   e.State,
		FromVersion: e.Version,
		ToState:     to,
		Audit: &models.AuditLogEntry{
			EscrowID:  &e.ID,
			ActorID:   tok.UserID,
			Action:    string(tok.Action),
			Payload:   map[string]any{"outcome": models.OutcomeAccepted},
			CreatedAt: now(),
		},
		Now: now(),
	}
}

func testCommitTransition(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	e := newEscrow(t, s, models.StateFunded)
	tok := newToken(t, s, e, models.ActionDelivered, buyerID, 10*time.Minute)

	updated, err := s.CommitTransition(ctx, commitFor(tok, e, models.StateDelivered))
	require.NoError(t, err)
	assert.Equal(t, models.StateDelivered, updated.State)
	assert.Equal(t, e.Version+1, updated.Version)

	stored, err := s.GetToken(ctx, tok.Token)
	require.NoError(t, err)
	assert.True(t, stored.Used)

	logs, err := s.ListAudit(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, string(models.ActionDelivered), logs[0].Action)
	assert.Equal(t, models.OutcomeAccepted, logs[0].Outcome())

	// Replaying the same commit is a used-token rejection, not a second move.
	_, err = s.CommitTransition(ctx, commitFor(tok, updated, models.StateDelivered))
	requireReason(t, err, models.ReasonTokenAlreadyUsed)
}

func testCommitTransitionStale(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	e := newEscrow(t, s, models.StateFunded)
	tok := newToken(t, s, e, models.ActionDelivered, buyerID, 10*time.Minute)

	stale := *e
	stale.Version = e.Version + 7
	_, err := s.CommitTransition(ctx, commitFor(tok, &stale, models.StateDelivered))
	requireReason(t, err, models.ReasonConcurrentModification)

	stored, err := s.GetToken(ctx, tok.Token)
	require.NoError(t, err)
	assert.False(t, stored.Used, "lost CAS must not burn the token")

	got, err := s.GetEscrow(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFunded, got.State)
	assert.Equal(t, e.Version, got.Version)

	logs, err := s.ListAudit(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func testCommitTransitionConcurrent(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	e := newEscrow(t, s, models.StateFunded)
	deliver := newToken(t, s, e, models.ActionDelivered, buyerID, 10*time.Minute)
	dispute := newToken(t, s, e, models.ActionDisputed, sellerID, 10*time.Minute)

	commits := []repositories.TransitionCommit{
		commitFor(deliver, e, models.StateDelivered),
		commitFor(dispute, e, models.StateDisputed),
	}
	errs := make([]error, len(commits))
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range commits {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = s.CommitTransition(ctx, commits[i])
		}(i)
	}
	close(start)
	wg.Wait()

	var winners int
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		requireReason(t, err, models.ReasonConcurrentModification)
	}
	assert.Equal(t, 1, winners)

	got, err := s.GetEscrow(ctx, e.ID)
	require.NoError(t, err)
	assert.Contains(t, []models.EscrowState{models.StateDelivered, models.StateDisputed}, got.State)
	assert.Equal(t, e.Version+1, got.Version)
}

func testUpdateTerms(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	e := newEscrow(t, s, models.StateCreated)
	agree := true
	deadline := now().Add(48 * time.Hour)
	terms := models.Terms{RefundConditions: "full refund if not delivered", DisputeAgreement: &agree, DeliveryDeadline: &deadline}

	updated, err := s.UpdateTerms(ctx, repositories.TermsUpdate{
		EscrowID:    e.ID,
		FromVersion: e.Version,
		Terms:       terms,
		Audit:       &models.AuditLogEntry{EscrowID: &e.ID, ActorID: buyerID, Action: models.AuditTermsUpdated, CreatedAt: now()},
		Now:         now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "full refund if not delivered", updated.RefundConditions)
	require.NotNil(t, updated.DisputeAgreement)
	assert.True(t, *updated.DisputeAgreement)
	require.NotNil(t, updated.DeliveryDeadline)
	assert.True(t, updated.DeliveryDeadline.Equal(deadline))
	assert.Equal(t, e.Version+1, updated.Version)

	_, err = s.UpdateTerms(ctx, repositories.TermsUpdate{EscrowID: e.ID, FromVersion: e.Version, Terms: terms, Now: now()})
	requireReason(t, err, models.ReasonConcurrentModification)

	logs, err := s.ListAudit(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditTermsUpdated, logs[0].Action)
}

func testListExpirable(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	at := now()
	past := at.Add(-time.Hour)
	future := at.Add(time.Hour)

	setDeadline := func(e *models.Escrow, d time.Time) {
		_, err := s.UpdateTerms(ctx, repositories.TermsUpdate{
			EscrowID: e.ID, FromVersion: e.Version, Terms: models.Terms{DeliveryDeadline: &d}, Now: at,
		})
		require.NoError(t, err)
	}

	due := newEscrow(t, s, models.StateAgreed)
	setDeadline(due, past)
	notDue := newEscrow(t, s, models.StateCreated)
	setDeadline(notDue, future)
	delivered := newEscrow(t, s, models.StateDelivered)
	setDeadline(delivered, past)
	newEscrow(t, s, models.StateCreated) // no deadline

	got, err := s.ListExpirable(ctx, at, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func testAuditOrdering(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	e := newEscrow(t, s, models.StateCreated)
	base := now()

	for i, at := range []time.Time{base.Add(time.Second), base, base} {
		entry := &models.AuditLogEntry{
			EscrowID:  &e.ID,
			ActorID:   buyerID,
			Action:    models.AuditTokenIssued,
			Payload:   map[string]any{"n": float64(i)},
			CreatedAt: at,
		}
		require.NoError(t, s.AppendAudit(ctx, entry))
		assert.NotZero(t, entry.ID)
	}

	logs, err := s.ListAudit(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, float64(1), logs[0].Payload["n"])
	assert.Equal(t, float64(2), logs[1].Payload["n"])
	assert.Equal(t, float64(0), logs[2].Payload["n"])

	other, err := s.ListAudit(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testAuditListIsDetached(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	e := newEscrow(t, s, models.StateCreated)
	require.NoError(t, s.AppendAudit(ctx, &models.AuditLogEntry{
		EscrowID:  &e.ID,
		ActorID:   buyerID,
		Action:    models.AuditTokenIssued,
		Payload:   map[string]any{"outcome": models.OutcomeAccepted},
		CreatedAt: now(),
	}))

	logs, err := s.ListAudit(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	logs[0].Payload["outcome"] = models.OutcomeRejected
	logs[0].Payload["forged"] = true

	again, err := s.ListAudit(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, models.OutcomeAccepted, again[0].Payload["outcome"])
	assert.NotContains(t, again[0].Payload, "forged")
}

func testUsers(t *testing.T, s repositories.Store) {
	ctx := context.Background()
	name := "alice"
	u := &models.User{ID: buyerID, Username: &name}
	require.NoError(t, s.UpsertUser(ctx, u))

	first := "Alice"
	require.NoError(t, s.UpsertUser(ctx, &models.User{ID: buyerID, FirstName: &first}))

	got, err := s.GetUser(ctx, buyerID)
	require.NoError(t, err)
	require.NotNil(t, got.Username)
	assert.Equal(t, "alice", *got.Username)
	require.NotNil(t, got.FirstName)
	assert.Equal(t, "Alice", *got.FirstName)

	_, err = s.GetUser(ctx, 42)
	assert.True(t, errors.Is(err, repositories.ErrNotFound))
}
