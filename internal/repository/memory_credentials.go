package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/member-onboarding/internal/model"
)

// MemoryStore keeps credentials and members in process memory.  It backs
// STORE_DRIVER=memory and the service tests.  A single mutex is held across
// every read-modify-write, which gives Update the same atomicity the MySQL
// row lock provides.
type MemoryStore struct {
	mu      sync.Mutex
	creds   map[string]memoryCredential
	members map[string]model.Member
	seq     uint64
}

type memoryCredential struct {
	rec model.Credential
	seq uint64 // insertion order, breaks created_at ties
}

var (
	_ CredentialStore = (*MemoryStore)(nil)
	_ MemberDirectory = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds:   map[string]memoryCredential{},
		members: map[string]model.Member{},
	}
}

// AddMember registers a member so credentials can be issued for it.
func (s *MemoryStore) AddMember(m model.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.ID] = m
}

func (s *MemoryStore) GetMember(_ context.Context, id string) (model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return model.Member{}, ErrMemberNotFound
	}
	return m, nil
}

func (s *MemoryStore) Create(_ context.Context, rec *model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, mc := range s.creds {
		c := mc.rec
		if c.MemberID != rec.MemberID || c.Accessed() || !c.ExpiresAt.After(rec.CreatedAt) {
			continue
		}
		c.ExpiresAt = rec.CreatedAt
		c.UpdatedAt = rec.CreatedAt
		s.creds[id] = memoryCredential{rec: c, seq: mc.seq}
	}

	s.seq++
	s.creds[rec.ID] = memoryCredential{rec: cloneCredential(*rec), seq: s.seq}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc, ok := s.creds[id]
	if !ok {
		return model.Credential{}, ErrCredentialNotFound
	}
	return cloneCredential(mc.rec), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(rec *model.Credential) error) (model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.creds[id]
	if !ok {
		return model.Credential{}, ErrCredentialNotFound
	}
	current := cloneCredential(mc.rec)
	next := cloneCredential(mc.rec)
	if err := fn(&next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current, nil
		}
		return current, err
	}
	next.ID = current.ID
	s.creds[id] = memoryCredential{rec: cloneCredential(next), seq: mc.seq}
	return next, nil
}

func (s *MemoryStore) ListPending(_ context.Context, now time.Time, page, pageSize int) ([]model.PendingCredential, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]memoryCredential, 0, len(s.creds))
	for _, mc := range s.creds {
		if mc.rec.Accessed() || !mc.rec.ExpiresAt.After(now) {
			continue
		}
		all = append(all, mc)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.seq > b.seq
	})

	total := len(all)
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	out := make([]model.PendingCredential, 0, end-start)
	for _, mc := range all[start:end] {
		c := mc.rec
		m := s.members[c.MemberID]
		p := model.PendingCredential{
			ID:              c.ID,
			MemberID:        c.MemberID,
			MemberName:      m.FullName,
			MemberEmail:     m.Email,
			MemberPhone:     m.Phone,
			IssuedByID:      c.IssuedByID,
			DeliveryChannel: c.DeliveryChannel,
			SendCount:       c.SendCount,
			FailedAttempts:  c.FailedAttempts,
			MaxAttempts:     c.MaxAttempts,
			IssuedAt:        c.IssuedAt,
			LastSentAt:      c.LastSentAt,
			ExpiresAt:       c.ExpiresAt,
			CreatedAt:       c.CreatedAt,
		}
		if c.Notes != nil {
			n := *c.Notes
			p.Notes = &n
		}
		if c.LockedUntil != nil {
			t := *c.LockedUntil
			p.LockedUntil = &t
		}
		out = append(out, p)
	}
	return out, int64(total), nil
}

// cloneCredential copies the pointer fields so callers never share state
// with the stored record.
func cloneCredential(c model.Credential) model.Credential {
	if c.Notes != nil {
		v := *c.Notes
		c.Notes = &v
	}
	if c.FirstAccessedAt != nil {
		v := *c.FirstAccessedAt
		c.FirstAccessedAt = &v
	}
	if c.FirstAccessIP != nil {
		v := *c.FirstAccessIP
		c.FirstAccessIP = &v
	}
	if c.LockedUntil != nil {
		v := *c.LockedUntil
		c.LockedUntil = &v
	}
	return c
}
