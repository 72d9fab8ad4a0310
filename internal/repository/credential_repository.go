package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/member-onboarding/internal/model"
)

// CredentialRepo is the MySQL implementation of CredentialStore.  All
// timestamps are written and read in UTC (the DSN sets loc=UTC).
type CredentialRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ CredentialStore = (*CredentialRepo)(nil)

// NewCredentialRepo returns a CredentialRepo bound to db.
func NewCredentialRepo(db *sql.DB, logger *zap.Logger) *CredentialRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialRepo{db: db, logger: logger}
}

// DB exposes the underlying handle for callers that need their own
// transactions.
func (r *CredentialRepo) DB() *sql.DB { return r.db }

const credentialColumns = `id, member_id, issued_by_id, secret_hash, delivery_channel, notes,
	issued_at, send_count, last_sent_at, first_accessed_at, first_access_ip,
	failed_attempts, max_attempts, locked_until, expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanCredential is the only place where nullable columns are converted
// into the typed record.
func scanCredential(s rowScanner) (model.Credential, error) {
	var (
		c               model.Credential
		channel         string
		notes           sql.NullString
		firstAccessedAt sql.NullTime
		firstAccessIP   sql.NullString
		lockedUntil     sql.NullTime
	)
	err := s.Scan(
		&c.ID, &c.MemberID, &c.IssuedByID, &c.SecretHash, &channel, &notes,
		&c.IssuedAt, &c.SendCount, &c.LastSentAt, &firstAccessedAt, &firstAccessIP,
		&c.FailedAttempts, &c.MaxAttempts, &lockedUntil, &c.ExpiresAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return model.Credential{}, err
	}
	c.DeliveryChannel = model.DeliveryChannel(channel)
	if notes.Valid {
		c.Notes = &notes.String
	}
	if firstAccessedAt.Valid {
		t := firstAccessedAt.Time.UTC()
		c.FirstAccessedAt = &t
	}
	if firstAccessIP.Valid {
		c.FirstAccessIP = &firstAccessIP.String
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time.UTC()
		c.LockedUntil = &t
	}
	return c, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Create supersedes the member's other pending credentials and inserts rec
// in one transaction.
func (r *CredentialRepo) Create(ctx context.Context, rec *model.Credential) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE preregistration_credentials
		    SET expires_at = ?, updated_at = ?
		  WHERE member_id = ? AND first_accessed_at IS NULL AND expires_at > ?`,
		rec.CreatedAt, rec.CreatedAt, rec.MemberID, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to supersede pending credentials: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		r.logger.Info("superseded pending credentials",
			zap.String("member_id", rec.MemberID),
			zap.Int64("count", n))
	}

	if err := r.insertTx(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credential insert: %w", err)
	}
	committed = true
	return nil
}

func (r *CredentialRepo) insertTx(ctx context.Context, tx *sql.Tx, c *model.Credential) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO preregistration_credentials (`+credentialColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.MemberID, c.IssuedByID, c.SecretHash, string(c.DeliveryChannel), nullString(c.Notes),
		c.IssuedAt, c.SendCount, c.LastSentAt, nullTime(c.FirstAccessedAt), nullString(c.FirstAccessIP),
		c.FailedAttempts, c.MaxAttempts, nullTime(c.LockedUntil), c.ExpiresAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

// Get fetches a credential by id.
func (r *CredentialRepo) Get(ctx context.Context, id string) (model.Credential, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM preregistration_credentials WHERE id = ? LIMIT 1`, id)
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Credential{}, ErrCredentialNotFound
		}
		return model.Credential{}, fmt.Errorf("failed to get credential: %w", err)
	}
	return c, nil
}

// GetForUpdateTx reads a credential and holds its row lock until tx ends.
func (r *CredentialRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (model.Credential, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM preregistration_credentials WHERE id = ? FOR UPDATE`, id)
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Credential{}, ErrCredentialNotFound
		}
		return model.Credential{}, fmt.Errorf("failed to lock credential: %w", err)
	}
	return c, nil
}

// UpdateStateTx writes every mutable column of c.
func (r *CredentialRepo) UpdateStateTx(ctx context.Context, tx *sql.Tx, c *model.Credential) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE preregistration_credentials
		    SET secret_hash = ?, delivery_channel = ?, issued_at = ?, send_count = ?, last_sent_at = ?,
		        first_accessed_at = ?, first_access_ip = ?, failed_attempts = ?, locked_until = ?,
		        updated_at = ?
		  WHERE id = ?`,
		c.SecretHash, string(c.DeliveryChannel), c.IssuedAt, c.SendCount, c.LastSentAt,
		nullTime(c.FirstAccessedAt), nullString(c.FirstAccessIP), c.FailedAttempts, nullTime(c.LockedUntil),
		c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	return nil
}

// Update runs fn against the row under SELECT ... FOR UPDATE.
func (r *CredentialRepo) Update(ctx context.Context, id string, fn func(rec *model.Credential) error) (model.Credential, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Credential{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	current, err := r.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return model.Credential{}, err
	}
	next := current
	if err := fn(&next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current, nil
		}
		return current, err
	}
	next.ID = current.ID
	if err := r.UpdateStateTx(ctx, tx, &next); err != nil {
		return current, err
	}
	if err := tx.Commit(); err != nil {
		return current, fmt.Errorf("failed to commit credential update: %w", err)
	}
	committed = true
	return next, nil
}

// ListPending pages through credentials that are neither accessed nor
// expired at now, joined with member display fields.
func (r *CredentialRepo) ListPending(ctx context.Context, now time.Time, page, pageSize int) ([]model.PendingCredential, int64, error) {
	const cond = `c.first_accessed_at IS NULL AND c.expires_at > ?`

	var total int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM preregistration_credentials c WHERE `+cond, now).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count pending credentials: %w", err)
	}

	limit := pageSize
	offset := (page - 1) * pageSize
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.id, c.member_id,
		        COALESCE(m.full_name, ''), COALESCE(m.email, ''), COALESCE(m.phone, ''),
		        c.issued_by_id, c.delivery_channel, c.notes, c.send_count, c.failed_attempts,
		        c.max_attempts, c.locked_until, c.issued_at, c.last_sent_at, c.expires_at, c.created_at
		   FROM preregistration_credentials c
		   LEFT JOIN members m ON m.id = c.member_id
		  WHERE `+cond+`
		  ORDER BY c.created_at DESC, c.id DESC
		  LIMIT ? OFFSET ?`,
		now, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list pending credentials: %w", err)
	}
	defer rows.Close()

	out := make([]model.PendingCredential, 0, limit)
	for rows.Next() {
		var (
			p           model.PendingCredential
			channel     string
			notes       sql.NullString
			lockedUntil sql.NullTime
		)
		if err := rows.Scan(
			&p.ID, &p.MemberID, &p.MemberName, &p.MemberEmail, &p.MemberPhone,
			&p.IssuedByID, &channel, &notes, &p.SendCount, &p.FailedAttempts,
			&p.MaxAttempts, &lockedUntil, &p.IssuedAt, &p.LastSentAt, &p.ExpiresAt, &p.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan pending credential: %w", err)
		}
		p.DeliveryChannel = model.DeliveryChannel(channel)
		if notes.Valid {
			p.Notes = &notes.String
		}
		if lockedUntil.Valid {
			t := lockedUntil.Time.UTC()
			p.LockedUntil = &t
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate pending credentials: %w", err)
	}
	return out, total, nil
}
