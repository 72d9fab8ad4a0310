package model

// Member is the subset of the association's `members` table this service
// reads.  The member directory itself is maintained elsewhere; here it is
// only used to reject unknown member references and to decorate the
// pending listing with display fields.
type Member struct {
	ID       string // members.id
	FullName string // members.full_name
	Email    string // members.email
	Phone    string // members.phone
}
