package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/member-onboarding/internal/credential"
	"github.com/iliyamo/member-onboarding/internal/model"
	"github.com/iliyamo/member-onboarding/internal/queue"
	"github.com/iliyamo/member-onboarding/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.CredentialEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.CredentialEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Events() []queue.CredentialEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]queue.CredentialEvent(nil), p.events...)
}

type fixture struct {
	svc   *CredentialService
	store *repository.MemoryStore
	clock *fakeClock
	pub   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	store.AddMember(model.Member{ID: "M1", FullName: "Member One", Email: "m1@example.org"})
	store.AddMember(model.Member{ID: "M2", FullName: "Member Two"})
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	pub := &recordingPublisher{}
	svc := NewCredentialService(Deps{
		Store:     store,
		Members:   store,
		Hasher:    credential.NewBcryptHasher(bcrypt.MinCost, zap.NewNop()),
		Clock:     clock,
		Publisher: pub,
		Policy:    DefaultPolicy(),
		Logger:    zap.NewNop(),
	})
	return &fixture{svc: svc, store: store, clock: clock, pub: pub}
}

func (f *fixture) issue(t *testing.T, member string) Issued {
	t.Helper()
	iss, err := f.svc.Create(context.Background(), CreateInput{
		MemberID: member, IssuerID: "A1", Channel: model.ChannelDirectMessage,
	})
	require.NoError(t, err)
	return iss
}

func TestScenario_LockoutRegenerateFirstAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	iss := f.issue(t, "M1")
	require.Len(t, iss.Secret, 12)
	assert.Equal(t, 1, iss.SendCount)

	wrong := "WrongSecret9"
	require.NotEqual(t, iss.Secret, wrong)
	for i := 1; i <= 4; i++ {
		res, err := f.svc.AttemptAccess(ctx, iss.ID, wrong, "198.51.100.4")
		require.NoError(t, err)
		assert.Equal(t, credential.OutcomeInvalidSecret, res.Outcome, "attempt %d", i)
		assert.Equal(t, 5-i, res.AttemptsRemaining)
	}

	res, err := f.svc.AttemptAccess(ctx, iss.ID, wrong, "198.51.100.4")
	require.NoError(t, err)
	assert.Equal(t, credential.OutcomeLocked, res.Outcome)
	require.NotNil(t, res.LockedUntil)
	assert.True(t, res.LockedUntil.Equal(f.clock.Now().Add(15*time.Minute)))

	res, err = f.svc.AttemptAccess(ctx, iss.ID, iss.Secret, "198.51.100.4")
	require.NoError(t, err)
	assert.Equal(t, credential.OutcomeLocked, res.Outcome, "correct secret must not pass a lock")

	regen, err := f.svc.Regenerate(ctx, iss.ID, model.ChannelDirectMessage, "A1")
	require.NoError(t, err)
	assert.Equal(t, 1, regen.SendCount)
	assert.NotEqual(t, iss.Secret, regen.Secret)

	res, err = f.svc.AttemptAccess(ctx, iss.ID, regen.Secret, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, credential.OutcomeSuccess, res.Outcome)

	view, err := f.svc.Get(ctx, iss.ID)
	require.NoError(t, err)
	assert.Equal(t, credential.StateAccessed, view.State)
	require.NotNil(t, view.FirstAccessedAt)
	require.NotNil(t, view.FirstAccessIP)
	assert.Equal(t, "203.0.113.9", *view.FirstAccessIP)
	assert.Zero(t, view.FailedAttempts)

	res, err = f.svc.AttemptAccess(ctx, iss.ID, regen.Secret, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, credential.OutcomeAlreadyAccessed, res.Outcome)
}

func TestCreate_ValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{MemberID: "nobody", IssuerID: "A1"})
	assert.ErrorIs(t, err, credential.ErrInvalidMember)

	_, err = f.svc.Create(ctx, CreateInput{MemberID: "", IssuerID: "A1"})
	assert.ErrorIs(t, err, credential.ErrInvalidMember)

	_, err = f.svc.Create(ctx, CreateInput{MemberID: "M1", IssuerID: "A1", Channel: "carrier-pigeon"})
	assert.ErrorIs(t, err, credential.ErrInvalidChannel)
}

func TestCreate_RecordShape(t *testing.T) {
	f := newFixture(t)
	notes := "met at the spring mixer"
	iss, err := f.svc.Create(context.Background(), CreateInput{MemberID: "M1", IssuerID: "A1", Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, model.ChannelDirectMessage, iss.Channel)

	rec, err := f.store.Get(context.Background(), iss.ID)
	require.NoError(t, err)
	assert.Equal(t, "A1", rec.IssuedByID)
	assert.Equal(t, 1, rec.SendCount)
	assert.Zero(t, rec.FailedAttempts)
	assert.Equal(t, 5, rec.MaxAttempts)
	assert.True(t, rec.ExpiresAt.Equal(f.clock.Now().Add(30*24*time.Hour)))
	assert.NotEqual(t, iss.Secret, rec.SecretHash)
	assert.NotContains(t, rec.SecretHash, iss.Secret)
	require.NotNil(t, rec.Notes)
	assert.Equal(t, notes, *rec.Notes)
}

func TestCreate_TextMessageUsesChannelFriendlySecret(t *testing.T) {
	f := newFixture(t)
	iss, err := f.svc.Create(context.Background(), CreateInput{
		MemberID: "M1", IssuerID: "A1", Channel: model.ChannelTextMessage,
	})
	require.NoError(t, err)
	assert.Len(t, iss.Secret, 8)
	assert.False(t, strings.ContainsAny(iss.Secret, "0Oo1lI"))
}

func TestCreate_SupersedesPendingCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.issue(t, "M1")
	f.clock.Advance(time.Minute)
	second := f.issue(t, "M1")
	f.clock.Advance(time.Second)

	res, err := f.svc.AttemptAccess(ctx, first.ID, first.Secret, "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, credential.OutcomeExpired, res.Outcome)

	page, err := f.svc.ListPending(ctx, 1, 20)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, second.ID, page.Items[0].ID)
	assert.Equal(t, "Member One", page.Items[0].MemberName)
}

func TestResend_IncrementsAndInvalidatesPreviousSecret(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	iss := f.issue(t, "M1")
	r1, err := f.svc.Resend(ctx, iss.ID, model.ChannelTextMessage, "A1")
	require.NoError(t, err)
	assert.Equal(t, 2, r1.SendCount)
	assert.Len(t, r1.Secret, 8)
	assert.Equal(t, model.ChannelTextMessage, r1.Channel)

	r2, err := f.svc.Resend(ctx, iss.ID, model.ChannelDirectMessage, "A1")
	require.NoError(t, err)
	assert.Equal(t, 3, r2.SendCount)

	for _, stale := range []string{iss.Secret, r1.Secret} {
		res, err := f.svc.AttemptAccess(ctx, iss.ID, stale, "192.0.2.1")
		require.NoError(t, err)
		assert.Equal(t, credential.OutcomeInvalidSecret, res.Outcome)
	}

	res, err := f.svc.AttemptAccess(ctx, iss.ID, r2.Secret, "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, credential.OutcomeSuccess, res.Outcome)

	_, err = f.svc.Resend(ctx, iss.ID, model.ChannelDirectMessage, "A1")
	assert.ErrorIs(t, err, credential.ErrAlreadyAccessed)
	_, err = f.svc.Regenerate(ctx, iss.ID, model.ChannelDirectMessage, "A1")
	assert.ErrorIs(t, err, credential.ErrAlreadyAccessed)
}

func TestResend_DoesNotLiftLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	iss := f.issue(t, "M1")
	for i := 0; i < 5; i++ {
		_, err := f.svc.AttemptAccess(ctx, iss.ID, "nope", "192.0.2.1")
		require.NoError(t, err)
	}
	r, err := f.svc.Resend(ctx, iss.ID, model.ChannelDirectMessage, "A1")
	require.NoError(t, err)

	res, err := f.svc.AttemptAccess(ctx, iss.ID, r.Secret, "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, credential.OutcomeLocked, res.Outcome)
}

func TestRegenerate_KeepsExpiryDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	iss := f.issue(t, "M1")
	f.clock.Advance(10 * 24 * time.Hour)
	regen, err := f.svc.Regenerate(ctx, iss.ID, "", "A1")
	require.NoError(t, err)
	assert.True(t, regen.ExpiresAt.Equal(iss.ExpiresAt))
	assert.True(t, regen.IssuedAt.Equal(f.clock.Now()))
}

func TestExpiredCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	iss := f.issue(t, "M1")
	f.clock.Advance(31 * 24 * time.Hour)

	res, err := f.svc.AttemptAccess(ctx, iss.ID, iss.Secret, "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, credential.OutcomeExpired, res.Outcome)

	_, err = f.svc.Resend(ctx, iss.ID, model.ChannelDirectMessage, "A1")
	assert.ErrorIs(t, err, credential.ErrExpired)
	_, err = f.svc.Regenerate(ctx, iss.ID, model.ChannelDirectMessage, "A1")
	assert.ErrorIs(t, err, credential.ErrExpired)

	page, err := f.svc.ListPending(ctx, 1, 20)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.Total)

	view, err := f.svc.Get(ctx, iss.ID)
	require.NoError(t, err)
	assert.Equal(t, credential.StateExpired, view.State)
}

func TestElapsedLockStartsFreshWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	iss := f.issue(t, "M1")
	for i := 0; i < 5; i++ {
		_, err := f.svc.AttemptAccess(ctx, iss.ID, "nope", "192.0.2.1")
		require.NoError(t, err)
	}
	view, err := f.svc.Get(ctx, iss.ID)
	require.NoError(t, err)
	assert.Equal(t, credential.StateLocked, view.State)

	f.clock.Advance(15*time.Minute + time.Second)
	res, err := f.svc.AttemptAccess(ctx, iss.ID, "nope", "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, credential.OutcomeInvalidSecret, res.Outcome)
	assert.Equal(t, 4, res.AttemptsRemaining)

	res, err = f.svc.AttemptAccess(ctx, iss.ID, iss.Secret, "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, credential.OutcomeSuccess, res.Outcome)
}

func TestUnknownCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AttemptAccess(ctx, "missing", "x", "192.0.2.1")
	assert.ErrorIs(t, err, credential.ErrNotFound)
	_, err = f.svc.Resend(ctx, "missing", model.ChannelDirectMessage, "A1")
	assert.ErrorIs(t, err, credential.ErrNotFound)
	_, err = f.svc.Regenerate(ctx, "missing", model.ChannelDirectMessage, "A1")
	assert.ErrorIs(t, err, credential.ErrNotFound)
	_, err = f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestMalformedDigestIsStorageError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := f.clock.Now()
	require.NoError(t, f.store.Create(ctx, &model.Credential{
		ID: "corrupt", MemberID: "M2", IssuedByID: "A1", SecretHash: "not-a-bcrypt-digest",
		DeliveryChannel: model.ChannelDirectMessage, IssuedAt: now, SendCount: 1, LastSentAt: now,
		MaxAttempts: 5, ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now,
	}))

	_, err := f.svc.AttemptAccess(ctx, "corrupt", "anything", "192.0.2.1")
	assert.ErrorIs(t, err, credential.ErrStorage)
	assert.ErrorIs(t, err, credential.ErrMalformedDigest)

	rec, err := f.store.Get(ctx, "corrupt")
	require.NoError(t, err)
	assert.Zero(t, rec.FailedAttempts, "corrupted data must not count as a wrong guess")
}

type brokenStore struct {
	repository.CredentialStore
	err error
}

func (s brokenStore) Create(context.Context, *model.Credential) error { return s.err }

func (s brokenStore) ListPending(context.Context, time.Time, int, int) ([]model.PendingCredential, int64, error) {
	return nil, 0, s.err
}

func TestStorageFailuresAreWrapped(t *testing.T) {
	cause := errors.New("connection reset")
	mem := repository.NewMemoryStore()
	mem.AddMember(model.Member{ID: "M1"})
	svc := NewCredentialService(Deps{
		Store:   brokenStore{CredentialStore: mem, err: cause},
		Members: mem,
		Hasher:  credential.NewBcryptHasher(bcrypt.MinCost, nil),
	})

	_, err := svc.Create(context.Background(), CreateInput{MemberID: "M1", IssuerID: "A1"})
	assert.ErrorIs(t, err, credential.ErrStorage)
	assert.ErrorIs(t, err, cause)

	_, err = svc.ListPending(context.Background(), 1, 20)
	assert.ErrorIs(t, err, credential.ErrStorage)
	assert.ErrorIs(t, err, cause)
}

func TestConcurrentWrongAttemptsNeverPassCeiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	iss := f.issue(t, "M1")

	const workers = 20
	outcomes := make(chan credential.Outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.AttemptAccess(ctx, iss.ID, "definitely-wrong", "192.0.2.1")
			if err == nil {
				outcomes <- res.Outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[credential.Outcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 4, counts[credential.OutcomeInvalidSecret])
	assert.Equal(t, workers-4, counts[credential.OutcomeLocked])

	rec, err := f.store.Get(ctx, iss.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.MaxAttempts, rec.FailedAttempts)
	assert.NotNil(t, rec.LockedUntil)
}

func TestListPending_PagingDefaults(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "M1")
	f.issue(t, "M2")

	page, err := f.svc.ListPending(context.Background(), 0, 500)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, MaxPageSize, page.PageSize)
	assert.EqualValues(t, 2, page.Total)

	page, err = f.svc.ListPending(context.Background(), 5, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, page.PageSize)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)

	all, err := f.svc.AllPending(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEventsCarryOnlyMaskedSecrets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	iss := f.issue(t, "M1")
	_, err := f.svc.AttemptAccess(ctx, iss.ID, "nope", "192.0.2.1")
	require.NoError(t, err)

	events := f.pub.Events()
	require.Len(t, events, 2)
	assert.Equal(t, queue.EventIssued, events[0].Event)
	assert.Equal(t, credential.Mask(iss.Secret), events[0].MaskedSecret)
	assert.NotContains(t, events[0].MaskedSecret, iss.Secret)
	assert.Equal(t, "A1", events[0].ActorID)

	assert.Equal(t, queue.EventAccessAttempt, events[1].Event)
	assert.Equal(t, string(credential.OutcomeInvalidSecret), events[1].Outcome)
	assert.Empty(t, events[1].MaskedSecret)
	assert.Equal(t, "2026-03-01T09:00:00Z", events[1].OccurredAt)
}

func TestPublishFailureDoesNotFailIssuance(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	iss, err := f.svc.Create(context.Background(), CreateInput{MemberID: "M1", IssuerID: "A1"})
	require.NoError(t, err)
	assert.NotEmpty(t, iss.Secret)
}
