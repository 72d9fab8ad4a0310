package model

import "time"

// DeliveryChannel tags how a temporary secret was last handed to the
// member.  It is informational only; the service never sends anything
// itself.
type DeliveryChannel string

const (
	ChannelDirectMessage DeliveryChannel = "direct-message"
	ChannelTextMessage   DeliveryChannel = "text-message"
)

// Valid reports whether c is one of the known delivery channels.
func (c DeliveryChannel) Valid() bool {
	switch c {
	case ChannelDirectMessage, ChannelTextMessage:
		return true
	}
	return false
}

// Credential mirrors a row of the `preregistration_credentials` table.
// One row exists per pending member onboarding cycle.  SecretHash holds a
// bcrypt digest of the current temporary secret; the plaintext is never
// stored.  Nullable columns are modelled as pointers.
//
// Fields:
//
//	ID              – opaque UUID, immutable.
//	MemberID        – member profile this credential grants first access to.
//	IssuedByID      – administrator who triggered issuance.
//	SecretHash      – bcrypt digest of the current secret.
//	DeliveryChannel – how the plaintext was last communicated.
//	Notes           – optional annotation from the issuing administrator.
//	IssuedAt        – most recent secret generation.
//	SendCount       – deliveries of the current secret (>= 1).
//	LastSentAt      – most recent delivery.
//	FirstAccessedAt – set once on the first successful access.
//	FirstAccessIP   – origin of the first successful access.
//	FailedAttempts  – consecutive failed verifications.
//	MaxAttempts     – failures allowed before lockout.
//	LockedUntil     – attempts are rejected before this instant.
//	ExpiresAt       – hard deadline of the issuance cycle.
type Credential struct {
	ID              string          // preregistration_credentials.id
	MemberID        string          // preregistration_credentials.member_id
	IssuedByID      string          // preregistration_credentials.issued_by_id
	SecretHash      string          // preregistration_credentials.secret_hash
	DeliveryChannel DeliveryChannel // preregistration_credentials.delivery_channel
	Notes           *string         // preregistration_credentials.notes (nullable)
	IssuedAt        time.Time       // preregistration_credentials.issued_at
	SendCount       int             // preregistration_credentials.send_count
	LastSentAt      time.Time       // preregistration_credentials.last_sent_at
	FirstAccessedAt *time.Time      // preregistration_credentials.first_accessed_at (nullable)
	FirstAccessIP   *string         // preregistration_credentials.first_access_ip (nullable)
	FailedAttempts  int             // preregistration_credentials.failed_attempts
	MaxAttempts     int             // preregistration_credentials.max_attempts
	LockedUntil     *time.Time      // preregistration_credentials.locked_until (nullable)
	ExpiresAt       time.Time       // preregistration_credentials.expires_at
	CreatedAt       time.Time       // preregistration_credentials.created_at
	UpdatedAt       time.Time       // preregistration_credentials.updated_at
}

// Accessed reports whether the member already used this credential once.
func (c *Credential) Accessed() bool { return c.FirstAccessedAt != nil }

// ExpiredAt reports whether the credential is past its deadline at now.
func (c *Credential) ExpiredAt(now time.Time) bool { return now.After(c.ExpiresAt) }

// LockedAt reports whether attempts are rejected at now.
func (c *Credential) LockedAt(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// PendingCredential is one row of the administrative pending listing: the
// credential joined with the member's display fields.
type PendingCredential struct {
	ID              string          `json:"id"`
	MemberID        string          `json:"member_id"`
	MemberName      string          `json:"member_name"`
	MemberEmail     string          `json:"member_email"`
	MemberPhone     string          `json:"member_phone"`
	IssuedByID      string          `json:"issued_by_id"`
	DeliveryChannel DeliveryChannel `json:"delivery_channel"`
	Notes           *string         `json:"notes,omitempty"`
	SendCount       int             `json:"send_count"`
	FailedAttempts  int             `json:"failed_attempts"`
	MaxAttempts     int             `json:"max_attempts"`
	LockedUntil     *time.Time      `json:"locked_until,omitempty"`
	IssuedAt        time.Time       `json:"issued_at"`
	LastSentAt      time.Time       `json:"last_sent_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	CreatedAt       time.Time       `json:"created_at"`
}
