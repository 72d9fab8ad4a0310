package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/iliyamo/member-onboarding/internal/model"
)

func TestPendingXLSX(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	locked := now.Add(15 * time.Minute)
	notes := "prefers text"
	rows := []model.PendingCredential{
		{
			ID: "c-1", MemberID: "M1", MemberName: "Ada Lovelace", MemberEmail: "ada@example.org",
			IssuedByID: "A1", DeliveryChannel: model.ChannelTextMessage, SendCount: 2,
			FailedAttempts: 5, MaxAttempts: 5, LockedUntil: &locked, Notes: &notes,
			IssuedAt: now, LastSentAt: now, ExpiresAt: now.Add(720 * time.Hour), CreatedAt: now,
		},
		{
			ID: "c-2", MemberID: "M2", MemberName: "Grace Hopper", IssuedByID: "A1",
			DeliveryChannel: model.ChannelDirectMessage, SendCount: 1, MaxAttempts: 5,
			IssuedAt: now, LastSentAt: now, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
		},
	}

	data, err := PendingXLSX(rows)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	got, err := f.GetRows(PendingSheet)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, PendingHeaders, got[0])

	assert.Equal(t, "c-1", got[1][0])
	assert.Equal(t, "Ada Lovelace", got[1][2])
	assert.Equal(t, "text-message", got[1][6])
	assert.Equal(t, "2", got[1][7])
	assert.Equal(t, "2026-03-01T09:15:00Z", got[1][10])
	assert.Equal(t, "prefers text", got[1][14])

	assert.Equal(t, "c-2", got[2][0])
	assert.Equal(t, "", got[2][10])
}

func TestPendingXLSX_Empty(t *testing.T) {
	data, err := PendingXLSX(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	got, err := f.GetRows(PendingSheet)
	require.NoError(t, err)
	require.Len(t, got, 1)
}
