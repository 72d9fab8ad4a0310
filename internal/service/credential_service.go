// Package service implements the pre-registration credential workflows on
// top of the repository and credential packages.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/member-onboarding/internal/credential"
	"github.com/iliyamo/member-onboarding/internal/model"
	"github.com/iliyamo/member-onboarding/internal/queue"
	"github.com/iliyamo/member-onboarding/internal/repository"
)

// Paging limits for ListPending.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Policy holds the tunable parameters of the credential lifecycle.
type Policy struct {
	SecretLength          int
	ChannelFriendlyLength int
	MaxAttempts           int
	LockDuration          time.Duration
	TTL                   time.Duration
}

// DefaultPolicy returns the stock lifecycle parameters: 12 character
// secrets (8 for text messages), five attempts, a 15 minute lock and a
// 30 day deadline.
func DefaultPolicy() Policy {
	return Policy{
		SecretLength:          credential.DefaultSecretLength,
		ChannelFriendlyLength: credential.DefaultChannelFriendlyLength,
		MaxAttempts:           credential.DefaultMaxAttempts,
		LockDuration:          credential.DefaultLockDuration,
		TTL:                   30 * 24 * time.Hour,
	}
}

// Deps bundles the collaborators of CredentialService.  Store, Members and
// Hasher are required; the rest fall back to production defaults.
type Deps struct {
	Store     repository.CredentialStore
	Members   repository.MemberDirectory
	Generator *credential.Generator
	Hasher    credential.Hasher
	Clock     credential.Clock
	Publisher Publisher
	Policy    Policy
	Logger    *zap.Logger
	NewID     func() string
}

// CredentialService issues, rotates, verifies and lists temporary
// credentials.
type CredentialService struct {
	store   repository.CredentialStore
	members repository.MemberDirectory
	gen     *credential.Generator
	hasher  credential.Hasher
	clock   credential.Clock
	pub     Publisher
	policy  Policy
	logger  *zap.Logger
	newID   func() string
}

func NewCredentialService(d Deps) *CredentialService {
	s := &CredentialService{
		store:   d.Store,
		members: d.Members,
		gen:     d.Generator,
		hasher:  d.Hasher,
		clock:   d.Clock,
		pub:     d.Publisher,
		policy:  d.Policy,
		logger:  d.Logger,
		newID:   d.NewID,
	}
	if s.gen == nil {
		s.gen = credential.NewGenerator(nil)
	}
	if s.clock == nil {
		s.clock = credential.SystemClock{}
	}
	if s.pub == nil {
		s.pub = NoopPublisher{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	def := DefaultPolicy()
	if s.policy.SecretLength == 0 {
		s.policy.SecretLength = def.SecretLength
	}
	if s.policy.ChannelFriendlyLength == 0 {
		s.policy.ChannelFriendlyLength = def.ChannelFriendlyLength
	}
	if s.policy.MaxAttempts < 1 {
		s.policy.MaxAttempts = def.MaxAttempts
	}
	if s.policy.LockDuration <= 0 {
		s.policy.LockDuration = def.LockDuration
	}
	if s.policy.TTL <= 0 {
		s.policy.TTL = def.TTL
	}
	return s
}

// CreateInput is the request to issue a credential.  An empty Channel
// means direct-message.
type CreateInput struct {
	MemberID string
	IssuerID string
	Channel  model.DeliveryChannel
	Notes    *string
}

// Issued is returned by every operation that produces a secret.  Secret is
// the only place the plaintext ever exists outside the generator.
type Issued struct {
	ID        string                `json:"id"`
	MemberID  string                `json:"member_id"`
	Secret    string                `json:"secret"`
	Channel   model.DeliveryChannel `json:"delivery_channel"`
	SendCount int                   `json:"send_count"`
	IssuedAt  time.Time             `json:"issued_at"`
	ExpiresAt time.Time             `json:"expires_at"`
}

// Create issues a new credential for in.MemberID and supersedes any other
// pending one of the same member.
func (s *CredentialService) Create(ctx context.Context, in CreateInput) (Issued, error) {
	const op = "create credential"

	channel, err := normalizeChannel(in.Channel)
	if err != nil {
		return Issued{}, err
	}
	if in.MemberID == "" {
		return Issued{}, credential.ErrInvalidMember
	}
	if _, err := s.members.GetMember(ctx, in.MemberID); err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return Issued{}, credential.ErrInvalidMember
		}
		return Issued{}, credential.StorageError(op, err)
	}

	secret, digest, err := s.newSecret(op, channel)
	if err != nil {
		return Issued{}, err
	}

	now := s.clock.Now()
	rec := model.Credential{
		ID:              s.newID(),
		MemberID:        in.MemberID,
		IssuedByID:      in.IssuerID,
		SecretHash:      digest,
		DeliveryChannel: channel,
		Notes:           in.Notes,
		IssuedAt:        now,
		SendCount:       1,
		LastSentAt:      now,
		MaxAttempts:     s.policy.MaxAttempts,
		ExpiresAt:       now.Add(s.policy.TTL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, &rec); err != nil {
		return Issued{}, credential.StorageError(op, err)
	}

	masked := credential.Mask(secret)
	s.logger.Info("credential issued",
		zap.String("credential_id", rec.ID),
		zap.String("member_id", rec.MemberID),
		zap.String("issued_by", rec.IssuedByID),
		zap.String("channel", string(channel)),
		zap.String("secret", masked))
	s.publish(ctx, queue.CredentialEvent{
		Event:        queue.EventIssued,
		CredentialID: rec.ID,
		MemberID:     rec.MemberID,
		ActorID:      in.IssuerID,
		Channel:      string(channel),
		MaskedSecret: masked,
		SendCount:    rec.SendCount,
	}, now)

	return issuedFrom(rec, secret), nil
}

// Resend rotates the secret of a pending credential and counts one more
// delivery.  The previous secret stops verifying.
func (s *CredentialService) Resend(ctx context.Context, id string, channel model.DeliveryChannel, actorID string) (Issued, error) {
	return s.rotate(ctx, "resend credential", queue.EventResent, id, channel, actorID, func(rec *model.Credential) {
		rec.SendCount++
	})
}

// Regenerate rotates the secret, resets the delivery count to one and
// lifts any lockout.  The expiry deadline is left unchanged.
func (s *CredentialService) Regenerate(ctx context.Context, id string, channel model.DeliveryChannel, actorID string) (Issued, error) {
	return s.rotate(ctx, "regenerate credential", queue.EventRegenerated, id, channel, actorID, func(rec *model.Credential) {
		rec.SendCount = 1
		rec.FailedAttempts = 0
		rec.LockedUntil = nil
	})
}

func (s *CredentialService) rotate(
	ctx context.Context,
	op, event, id string,
	channel model.DeliveryChannel,
	actorID string,
	mutate func(rec *model.Credential),
) (Issued, error) {
	channel, err := normalizeChannel(channel)
	if err != nil {
		return Issued{}, err
	}

	// bcrypt runs before the row lock is taken so the lock is held only for
	// the read and the write.
	secret, digest, err := s.newSecret(op, channel)
	if err != nil {
		return Issued{}, err
	}

	var now time.Time
	rec, err := s.store.Update(ctx, id, func(rec *model.Credential) error {
		now = s.clock.Now()
		if rec.Accessed() {
			return credential.ErrAlreadyAccessed
		}
		if rec.ExpiredAt(now) {
			return credential.ErrExpired
		}
		rec.SecretHash = digest
		rec.DeliveryChannel = channel
		rec.IssuedAt = now
		rec.LastSentAt = now
		rec.UpdatedAt = now
		mutate(rec)
		return nil
	})
	if err != nil {
		return Issued{}, s.mapStoreError(op, err)
	}

	masked := credential.Mask(secret)
	s.logger.Info("credential rotated",
		zap.String("op", op),
		zap.String("credential_id", rec.ID),
		zap.String("actor_id", actorID),
		zap.Int("send_count", rec.SendCount),
		zap.String("secret", masked))
	s.publish(ctx, queue.CredentialEvent{
		Event:        event,
		CredentialID: rec.ID,
		MemberID:     rec.MemberID,
		ActorID:      actorID,
		Channel:      string(channel),
		MaskedSecret: masked,
		SendCount:    rec.SendCount,
	}, now)

	return issuedFrom(rec, secret), nil
}

// AccessResult reports the outcome of one first-access attempt.
type AccessResult struct {
	Outcome           credential.Outcome `json:"outcome"`
	AttemptsRemaining int                `json:"attempts_remaining"`
	LockedUntil       *time.Time         `json:"locked_until,omitempty"`
}

// AttemptAccess verifies candidate against credential id and drives the
// lockout state machine.  Expected rejections are reported as outcomes;
// only an unknown id (ErrNotFound) or an infrastructure failure
// (ErrStorage) is returned as an error.
func (s *CredentialService) AttemptAccess(ctx context.Context, id, candidate, originIP string) (AccessResult, error) {
	const op = "attempt access"

	var (
		res AccessResult
		now time.Time
	)
	rec, err := s.store.Update(ctx, id, func(rec *model.Credential) error {
		now = s.clock.Now()
		if out, rejected := credential.Precheck(rec, now); rejected {
			res = resultFor(out, credential.Transition{Next: *rec})
			return repository.ErrNoChange
		}
		matched, err := s.hasher.Verify(candidate, rec.SecretHash)
		if err != nil {
			return err
		}
		t := credential.Apply(*rec, matched, originIP, now, s.policy.LockDuration)
		res = resultFor(t.Outcome, t)
		if !t.Changed {
			return repository.ErrNoChange
		}
		*rec = t.Next
		return nil
	})
	if err != nil {
		return AccessResult{}, s.mapStoreError(op, err)
	}

	fields := []zap.Field{
		zap.String("credential_id", rec.ID),
		zap.String("outcome", string(res.Outcome)),
		zap.String("origin_ip", originIP),
		zap.Int("failed_attempts", rec.FailedAttempts),
	}
	switch res.Outcome {
	case credential.OutcomeSuccess:
		s.logger.Info("first access granted", fields...)
	case credential.OutcomeLocked:
		s.logger.Warn("credential locked", fields...)
	default:
		s.logger.Info("access attempt rejected", fields...)
	}
	s.publish(ctx, queue.CredentialEvent{
		Event:        queue.EventAccessAttempt,
		CredentialID: rec.ID,
		MemberID:     rec.MemberID,
		Outcome:      string(res.Outcome),
		OriginIP:     originIP,
	}, now)

	return res, nil
}

func resultFor(out credential.Outcome, t credential.Transition) AccessResult {
	res := AccessResult{Outcome: out}
	switch out {
	case credential.OutcomeInvalidSecret:
		res.AttemptsRemaining = t.AttemptsRemaining()
	case credential.OutcomeLocked:
		if t.Next.LockedUntil != nil {
			until := *t.Next.LockedUntil
			res.LockedUntil = &until
		}
	}
	return res
}

// PendingPage is one page of the pending listing.
type PendingPage struct {
	Items    []model.PendingCredential `json:"data"`
	Total    int64                     `json:"total"`
	Page     int                       `json:"page"`
	PageSize int                       `json:"page_size"`
}

// ListPending returns credentials that are neither accessed nor expired,
// newest first.  page defaults to 1 and pageSize to 20, capped at 100.
func (s *CredentialService) ListPending(ctx context.Context, page, pageSize int) (PendingPage, error) {
	page, pageSize = normalizePage(page, pageSize)
	items, total, err := s.store.ListPending(ctx, s.clock.Now(), page, pageSize)
	if err != nil {
		return PendingPage{}, credential.StorageError("list pending", err)
	}
	if items == nil {
		items = []model.PendingCredential{}
	}
	return PendingPage{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// AllPending walks every page of the pending listing.
func (s *CredentialService) AllPending(ctx context.Context) ([]model.PendingCredential, error) {
	now := s.clock.Now()
	var out []model.PendingCredential
	for page := 1; ; page++ {
		items, total, err := s.store.ListPending(ctx, now, page, MaxPageSize)
		if err != nil {
			return nil, credential.StorageError("export pending", err)
		}
		out = append(out, items...)
		if len(items) < MaxPageSize || int64(len(out)) >= total {
			return out, nil
		}
	}
}

// CredentialView is the administrative read model of one credential.  It
// never includes the secret digest.
type CredentialView struct {
	ID              string                `json:"id"`
	MemberID        string                `json:"member_id"`
	IssuedByID      string                `json:"issued_by_id"`
	DeliveryChannel model.DeliveryChannel `json:"delivery_channel"`
	Notes           *string               `json:"notes,omitempty"`
	State           credential.State      `json:"state"`
	IssuedAt        time.Time             `json:"issued_at"`
	SendCount       int                   `json:"send_count"`
	LastSentAt      time.Time             `json:"last_sent_at"`
	FirstAccessedAt *time.Time            `json:"first_accessed_at,omitempty"`
	FirstAccessIP   *string               `json:"first_access_ip,omitempty"`
	FailedAttempts  int                   `json:"failed_attempts"`
	MaxAttempts     int                   `json:"max_attempts"`
	LockedUntil     *time.Time            `json:"locked_until,omitempty"`
	ExpiresAt       time.Time             `json:"expires_at"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// Get returns the administrative view of credential id.
func (s *CredentialService) Get(ctx context.Context, id string) (CredentialView, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return CredentialView{}, s.mapStoreError("get credential", err)
	}
	return CredentialView{
		ID:              rec.ID,
		MemberID:        rec.MemberID,
		IssuedByID:      rec.IssuedByID,
		DeliveryChannel: rec.DeliveryChannel,
		Notes:           rec.Notes,
		State:           credential.StateAt(&rec, s.clock.Now()),
		IssuedAt:        rec.IssuedAt,
		SendCount:       rec.SendCount,
		LastSentAt:      rec.LastSentAt,
		FirstAccessedAt: rec.FirstAccessedAt,
		FirstAccessIP:   rec.FirstAccessIP,
		FailedAttempts:  rec.FailedAttempts,
		MaxAttempts:     rec.MaxAttempts,
		LockedUntil:     rec.LockedUntil,
		ExpiresAt:       rec.ExpiresAt,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}, nil
}

// newSecret generates a secret suited to channel and hashes it.
func (s *CredentialService) newSecret(op string, channel model.DeliveryChannel) (string, string, error) {
	var (
		secret string
		err    error
	)
	if channel == model.ChannelTextMessage {
		secret, err = s.gen.GenerateChannelFriendly(s.policy.ChannelFriendlyLength)
	} else {
		secret, err = s.gen.Generate(s.policy.SecretLength)
	}
	if err != nil {
		if errors.Is(err, credential.ErrInvalidLength) {
			return "", "", err
		}
		return "", "", credential.StorageError(op, err)
	}
	digest, err := s.hasher.Hash(secret)
	if err != nil {
		return "", "", credential.StorageError(op, err)
	}
	return secret, digest, nil
}

// mapStoreError translates repository and callback errors into the
// credential error taxonomy.
func (s *CredentialService) mapStoreError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrCredentialNotFound):
		return credential.ErrNotFound
	case errors.Is(err, credential.ErrAlreadyAccessed),
		errors.Is(err, credential.ErrExpired):
		return err
	}
	s.logger.Error(op+" failed", zap.Error(err))
	return credential.StorageError(op, err)
}

func (s *CredentialService) publish(ctx context.Context, ev queue.CredentialEvent, at time.Time) {
	ev.OccurredAt = at.UTC().Format(time.RFC3339)
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish credential event",
			zap.String("event", ev.Event),
			zap.String("credential_id", ev.CredentialID),
			zap.Error(err))
	}
}

func normalizeChannel(c model.DeliveryChannel) (model.DeliveryChannel, error) {
	if c == "" {
		return model.ChannelDirectMessage, nil
	}
	if !c.Valid() {
		return "", credential.ErrInvalidChannel
	}
	return c, nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

func issuedFrom(rec model.Credential, secret string) Issued {
	return Issued{
		ID:        rec.ID,
		MemberID:  rec.MemberID,
		Secret:    secret,
		Channel:   rec.DeliveryChannel,
		SendCount: rec.SendCount,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	}
}
