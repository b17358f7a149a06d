package auth

import (
	"context"
	"sync"
	"time"

	"github.com/cricketstatspack/portal/internal/common"
	"github.com/cricketstatspack/portal/internal/models"
	"github.com/cricketstatspack/portal/internal/store"
)

// memStore mirrors the atomic SQL of store.Store over a map.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	decoys   map[string]int
	nextID   int64

	err            error // returned by every call when set
	updateErr      error // returned by UpdatePassword only
	admitCalls     int
	passwordWrites int
	audit          []models.AuditEntry
}

func newMemStore() *memStore {
	return &memStore{accounts: map[string]*models.Account{}, decoys: map[string]int{}}
}

func (m *memStore) put(a *models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	if a.Status == "" {
		a.Status = models.AccountStatusActive
	}
	m.accounts[a.Email] = a
}

func (m *memStore) get(email string) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[email]
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

func (m *memStore) CreateAccount(_ context.Context, a *models.Account) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	if _, ok := m.accounts[a.Email]; ok {
		m.mu.Unlock()
		return common.ErrAlreadyExists
	}
	m.mu.Unlock()
	m.put(a)
	return nil
}

func (m *memStore) GetAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	a := m.get(email)
	if a == nil {
		return nil, common.ErrNotFound
	}
	return a, nil
}

func (m *memStore) RecordLoginFailure(_ context.Context, email string, p store.LockoutPolicy, now time.Time, audit func(models.LockState) models.AuditEntry) (models.LockState, error) {
	if m.err != nil {
		return models.LockState{}, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[email]
	if a == nil {
		return models.LockState{}, common.ErrNotFound
	}
	now = now.UTC().Truncate(time.Second)
	expired := a.LockUntil != nil && !a.LockUntil.After(now)
	if expired {
		a.FailedLogins = 1
		a.LockUntil = nil
	} else {
		a.FailedLogins++
	}
	if a.FailedLogins >= p.Threshold && a.LockUntil == nil {
		until := now.Add(p.Duration)
		a.LockUntil = &until
	}
	st := models.LockState{FailedLogins: a.FailedLogins, LockUntil: a.LockUntil}
	if audit != nil {
		e := audit(st)
		if e.ActorEmail == "" {
			e.ActorEmail = email
		}
		m.audit = append(m.audit, e)
	}
	return st, nil
}

func (m *memStore) AdmitLogin(_ context.Context, email string, now time.Time) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admitCalls++
	a := m.accounts[email]
	if a == nil || a.Status != models.AccountStatusActive || a.IsLocked(now) {
		return false, nil
	}
	a.FailedLogins = 0
	a.LockUntil = nil
	return true, nil
}

func (m *memStore) ReserveResetAttempt(_ context.Context, email string, limit int) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[email]
	if a == nil {
		return 0, common.ErrNotFound
	}
	if a.ResetAttempts >= limit {
		return a.ResetAttempts, common.ErrTooManyAttempts
	}
	a.ResetAttempts++
	return a.ResetAttempts, nil
}

func (m *memStore) DecoyAttempts(_ context.Context, email string) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decoys[email], nil
}

func (m *memStore) ReserveDecoyAttempt(_ context.Context, email string, limit int) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decoys[email] >= limit {
		return m.decoys[email], common.ErrTooManyAttempts
	}
	m.decoys[email]++
	return m.decoys[email], nil
}

func (m *memStore) ClearResetAttempts(_ context.Context, email string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.accounts[email]; a != nil {
		a.ResetAttempts = 0
	}
	return nil
}

func (m *memStore) UpdatePassword(_ context.Context, email, hash string) error {
	if m.err != nil {
		return m.err
	}
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.accounts[email]
	if a == nil {
		return common.ErrNotFound
	}
	m.passwordWrites++
	a.PasswordHash = hash
	a.ResetAttempts = 0
	a.FailedLogins = 0
	a.LockUntil = nil
	a.ForcePasswordReset = false
	return nil
}

func (m *memStore) delete(email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, email)
}

// staleReads answers the first account read with a fixed snapshot while
// writes and later reads go to the underlying memStore, as when another
// request changes the row between this request's read and write.
type staleReads struct {
	*memStore
	snapshot models.Account
	served   bool
}

func (s *staleReads) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	if s.served || s.snapshot.Email != email {
		return s.memStore.GetAccountByEmail(ctx, email)
	}
	s.served = true
	cp := s.snapshot
	return &cp, nil
}

type memAuditor struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (a *memAuditor) Record(_ context.Context, actor string, action models.AuditAction, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, models.AuditEntry{ActorEmail: actor, Action: action, Detail: detail})
}

func (a *memAuditor) actions() []models.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.AuditAction, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

func (a *memAuditor) has(action models.AuditAction) bool {
	for _, got := range a.actions() {
		if got == action {
			return true
		}
	}
	return false
}
