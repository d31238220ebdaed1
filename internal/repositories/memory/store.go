// Package memory is an in-process repositories.Store used by the service and
// HTTP tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pw-escrow/backend/internal/models"
	"github.com/pw-escrow/backend/internal/repositories"
)

const firstEscrowCode = 100000

type Store struct {
	mu       sync.Mutex
	escrows  map[uuid.UUID]*models.Escrow
	codes    map[string]uuid.UUID
	tokens   map[uuid.UUID]*models.ActionToken
	audit    []models.AuditLogEntry
	users    map[int64]*models.User
	nextCode int64
	nextLog  int64
}

var _ repositories.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		escrows:  make(map[uuid.UUID]*models.Escrow),
		codes:    make(map[string]uuid.UUID),
		tokens:   make(map[uuid.UUID]*models.ActionToken),
		users:    make(map[int64]*models.User),
		nextCode: firstEscrowCode,
		nextLog:  1,
	}
}

func (s *Store) CreateEscrow(_ context.Context, e *models.Escrow) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = uuid.New()
	e.Code = fmt.Sprintf("PW-%d", s.nextCode)
	s.nextCode++
	e.Version = 0
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.UpdatedAt = e.CreatedAt

	cp := *e
	s.escrows[e.ID] = &cp
	s.codes[e.Code] = e.ID
	return nil
}

func (s *Store) GetEscrow(_ context.Context, id uuid.UUID) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *Store) GetEscrowByCode(ctx context.Context, code string) (*models.Escrow, error) {
	s.mu.Lock()
	id, ok := s.codes[code]
	s.mu.Unlock()
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return s.GetEscrow(ctx, id)
}

func (s *Store) UpdateTerms(_ context.Context, u repositories.TermsUpdate) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.escrows[u.EscrowID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if e.Version != u.FromVersion {
		return nil, models.Reject(models.ReasonConcurrentModification,
			"escrow %s is no longer at version %d", u.EscrowID, u.FromVersion)
	}
	e.RefundConditions = u.Terms.RefundConditions
	e.DisputeAgreement = u.Terms.DisputeAgreement
	e.DeliveryDeadline = u.Terms.DeliveryDeadline
	s.bump(e, u.Now)
	if u.Audit != nil {
		s.appendLocked(u.Audit)
	}
	cp := *e
	return &cp, nil
}

func (s *Store) ListExpirable(_ context.Context, now time.Time, limit int) ([]models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expirable := map[models.EscrowState]bool{}
	for _, st := range models.ExpirableStates() {
		expirable[st] = true
	}
	var out []models.Escrow
	for _, e := range s.escrows {
		if e.DeliveryDeadline == nil || e.DeliveryDeadline.After(now) || !expirable[e.State] {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DeliveryDeadline.Equal(*out[j].DeliveryDeadline) {
			return out[i].DeliveryDeadline.Before(*out[j].DeliveryDeadline)
		}
		return out[i].Code < out[j].Code
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateToken(_ context.Context, t *models.ActionToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Token == uuid.Nil {
		t.Token = uuid.New()
	}
	if _, ok := s.tokens[t.Token]; ok {
		return fmt.Errorf("token %s already exists", t.Token)
	}
	if _, ok := s.escrows[t.EscrowID]; !ok {
		return fmt.Errorf("token escrow %s: %w", t.EscrowID, repositories.ErrNotFound)
	}
	cp := *t
	cp.Used = false
	s.tokens[t.Token] = &cp
	return nil
}

func (s *Store) GetToken(_ context.Context, id uuid.UUID) (*models.ActionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ConsumeToken(_ context.Context, id uuid.UUID, claim models.TokenClaim, now time.Time) (*models.ActionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.consumeLocked(id, claim, now)
	if err != nil {
		return nil, err
	}
	cp := *t
	return &cp, nil
}

func (s *Store) consumeLocked(id uuid.UUID, claim models.TokenClaim, now time.Time) (*models.ActionToken, error) {
	t, ok := s.tokens[id]
	if !ok {
		return nil, models.Reject(models.ReasonTokenNotFound, "token %s does not exist", id)
	}
	if err := t.Check(claim, now); err != nil {
		return nil, err
	}
	t.Used = true
	return t, nil
}

func (s *Store) AppendAudit(_ context.Context, e *models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(e)
	return nil
}

func (s *Store) appendLocked(e *models.AuditLogEntry) {
	e.ID = s.nextLog
	s.nextLog++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, copyEntry(*e))
}

// copyEntry detaches the payload so stored history cannot be edited through
// a returned entry.
func copyEntry(e models.AuditLogEntry) models.AuditLogEntry {
	if e.Payload != nil {
		p := make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			p[k] = v
		}
		e.Payload = p
	}
	return e
}

func (s *Store) ListAudit(_ context.Context, escrowID uuid.UUID) ([]models.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.AuditLogEntry
	for _, e := range s.audit {
		if e.EscrowID != nil && *e.EscrowID == escrowID {
			out = append(out, copyEntry(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpsertUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[u.ID]
	if !ok {
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now().UTC()
		}
		cp := *u
		s.users[u.ID] = &cp
		return nil
	}
	if u.Username != nil {
		existing.Username = u.Username
	}
	if u.FirstName != nil {
		existing.FirstName = u.FirstName
	}
	if u.LastName != nil {
		existing.LastName = u.LastName
	}
	*u = *existing
	return nil
}

func (s *Store) GetUser(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// CommitTransition validates everything before mutating, so a rejection
// leaves both the token and the escrow untouched.
func (s *Store) CommitTransition(_ context.Context, c repositories.TransitionCommit) (*models.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[c.TokenID]
	if !ok {
		return nil, models.Reject(models.ReasonTokenNotFound, "token %s does not exist", c.TokenID)
	}
	if err := t.Check(c.Claim, c.Now); err != nil {
		return nil, err
	}
	e, ok := s.escrows[c.Claim.EscrowID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if e.State != c.FromState || e.Version != c.FromVersion {
		return nil, models.Reject(models.ReasonConcurrentModification,
			"escrow %s is no longer at version %d", e.ID, c.FromVersion)
	}

	t.Used = true
	e.State = c.ToState
	s.bump(e, c.Now)
	if c.Audit != nil {
		s.appendLocked(c.Audit)
	}
	cp := *e
	return &cp, nil
}

func (s *Store) bump(e *models.Escrow, now time.Time) {
	e.Version++
	if now.After(e.UpdatedAt) {
		e.UpdatedAt = now
	}
}
