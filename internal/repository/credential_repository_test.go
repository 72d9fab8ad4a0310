package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/member-onboarding/internal/model"
)

var credentialCols = []string{
	"id", "member_id", "issued_by_id", "secret_hash", "delivery_channel", "notes",
	"issued_at", "send_count", "last_sent_at", "first_accessed_at", "first_access_ip",
	"failed_attempts", "max_attempts", "locked_until", "expires_at", "created_at", "updated_at",
}

func setupCredentialRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *CredentialRepo) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewCredentialRepo(db, zap.NewNop())
}

func pendingRow(id string, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(credentialCols).AddRow(
		id, "M1", "A1", "$2a$04$digest", "direct-message", nil,
		now, 1, now, nil, nil,
		0, 5, nil, now.Add(720*time.Hour), now, now,
	)
}

func TestCredentialRepo_Get_NullableColumns(t *testing.T) {
	db, mock, repo := setupCredentialRepo(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM preregistration_credentials WHERE id = \?`).
		WithArgs("c-1").
		WillReturnRows(pendingRow("c-1", now))

	c, err := repo.Get(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", c.ID)
	assert.Equal(t, model.ChannelDirectMessage, c.DeliveryChannel)
	assert.Nil(t, c.Notes)
	assert.Nil(t, c.FirstAccessedAt)
	assert.Nil(t, c.FirstAccessIP)
	assert.Nil(t, c.LockedUntil)
	assert.Equal(t, 1, c.SendCount)
	assert.Equal(t, 5, c.MaxAttempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepo_Get_NotFound(t *testing.T) {
	db, mock, repo := setupCredentialRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM preregistration_credentials`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(credentialCols))

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepo_Create_SupersedesAndInserts(t *testing.T) {
	db, mock, repo := setupCredentialRepo(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := &model.Credential{
		ID: "c-2", MemberID: "M1", IssuedByID: "A1", SecretHash: "$2a$04$x",
		DeliveryChannel: model.ChannelTextMessage, IssuedAt: now, SendCount: 1, LastSentAt: now,
		MaxAttempts: 5, ExpiresAt: now.Add(720 * time.Hour), CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE preregistration_credentials\s+SET expires_at = \?`).
		WithArgs(now, now, "M1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO preregistration_credentials`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepo_Create_InsertFailureRollsBack(t *testing.T) {
	db, mock, repo := setupCredentialRepo(t)
	defer db.Close()

	now := time.Now().UTC()
	rec := &model.Credential{ID: "c-3", MemberID: "M1", CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE preregistration_credentials`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO preregistration_credentials`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepo_Update_LocksRowAndWrites(t *testing.T) {
	db, mock, repo := setupCredentialRepo(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("c-1").
		WillReturnRows(pendingRow("c-1", now))
	mock.ExpectExec(`UPDATE preregistration_credentials\s+SET secret_hash = \?`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := repo.Update(context.Background(), "c-1", func(rec *model.Credential) error {
		rec.FailedAttempts++
		rec.UpdatedAt = now.Add(time.Minute)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailedAttempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepo_Update_NoChangeRollsBack(t *testing.T) {
	db, mock, repo := setupCredentialRepo(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("c-1").
		WillReturnRows(pendingRow("c-1", now))
	mock.ExpectRollback()

	got, err := repo.Update(context.Background(), "c-1", func(rec *model.Credential) error {
		rec.FailedAttempts = 99
		return ErrNoChange
	})
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedAttempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepo_Update_CallbackErrorPropagates(t *testing.T) {
	db, mock, repo := setupCredentialRepo(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("c-1").
		WillReturnRows(pendingRow("c-1", now))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), "c-1", func(*model.Credential) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepo_Update_NotFound(t *testing.T) {
	db, mock, repo := setupCredentialRepo(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(credentialCols))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), "nope", func(*model.Credential) error { return nil })
	assert.ErrorIs(t, err, ErrCredentialNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialRepo_ListPending(t *testing.T) {
	db, mock, repo := setupCredentialRepo(t)
	defer db.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	locked := now.Add(10 * time.Minute)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM preregistration_credentials`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery(`SELECT c\.id, c\.member_id.+LEFT JOIN members m.+ORDER BY c\.created_at DESC, c\.id DESC`).
		WithArgs(now, 20, 20).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "member_id", "full_name", "email", "phone", "issued_by_id", "delivery_channel",
			"notes", "send_count", "failed_attempts", "max_attempts", "locked_until",
			"issued_at", "last_sent_at", "expires_at", "created_at",
		}).AddRow(
			"c-21", "M1", "Ada Lovelace", "ada@example.org", "", "A1", "text-message",
			"called twice", 2, 5, 5, locked,
			now, now, now.Add(time.Hour), now,
		))

	items, total, err := repo.ListPending(context.Background(), now, 2, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(21), total)
	require.Len(t, items, 1)
	p := items[0]
	assert.Equal(t, "Ada Lovelace", p.MemberName)
	require.NotNil(t, p.Notes)
	assert.Equal(t, "called twice", *p.Notes)
	require.NotNil(t, p.LockedUntil)
	assert.True(t, locked.Equal(*p.LockedUntil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemberRepo_GetMember(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewMemberRepo(db)

	mock.ExpectQuery(`SELECT id, full_name.+FROM members`).
		WithArgs("M1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "email", "phone"}).
			AddRow("M1", "Ada Lovelace", "ada@example.org", "+1555"))
	mock.ExpectQuery(`SELECT id, full_name.+FROM members`).
		WithArgs("M404").
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "email", "phone"}))

	m, err := repo.GetMember(context.Background(), "M1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", m.FullName)

	_, err = repo.GetMember(context.Background(), "M404")
	assert.ErrorIs(t, err, ErrMemberNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
