package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/member-onboarding/internal/model"
)

// MemberRepo reads the association's member directory.
type MemberRepo struct{ db *sql.DB }

var _ MemberDirectory = (*MemberRepo)(nil)

func NewMemberRepo(db *sql.DB) *MemberRepo { return &MemberRepo{db: db} }

// GetMember fetches a member's display fields by id.
func (r *MemberRepo) GetMember(ctx context.Context, id string) (model.Member, error) {
	var m model.Member
	err := r.db.QueryRowContext(ctx,
		`SELECT id, full_name, COALESCE(email, ''), COALESCE(phone, '') FROM members WHERE id = ? LIMIT 1`,
		id).Scan(&m.ID, &m.FullName, &m.Email, &m.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Member{}, ErrMemberNotFound
		}
		return model.Member{}, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}
