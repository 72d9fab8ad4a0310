package repository

import (
	"context"
	"time"

	"github.com/iliyamo/member-onboarding/internal/model"
)

// CredentialStore persists pre-registration credentials.
//
// Update is the only way to change an existing row: implementations must
// run the read, the callback and the write as one atomic step so that two
// concurrent callers never both observe the same counters.
type CredentialStore interface {
	// Create inserts rec and, in the same step, expires any other pending
	// credential of the same member so only one stays active.
	Create(ctx context.Context, rec *model.Credential) error
	// Get returns the credential with id or ErrCredentialNotFound.
	Get(ctx context.Context, id string) (model.Credential, error)
	// Update locks the row, hands a copy to fn and writes fn's changes
	// back.  If fn returns ErrNoChange nothing is written and the record
	// is returned as read; any other error aborts and is returned as is.
	Update(ctx context.Context, id string, fn func(rec *model.Credential) error) (model.Credential, error)
	// ListPending returns one page of credentials that are neither
	// accessed nor expired at now, newest first, plus the total count.
	ListPending(ctx context.Context, now time.Time, page, pageSize int) ([]model.PendingCredential, int64, error)
}

// MemberDirectory resolves member references.
type MemberDirectory interface {
	GetMember(ctx context.Context, id string) (model.Member, error)
}
