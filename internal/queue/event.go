// Package queue defines the credential audit events exchanged over
// RabbitMQ and the consumer that persists them.
package queue

// QueueName is the durable queue carrying credential lifecycle events.
const QueueName = "credential.events"

// Event types.
const (
	EventIssued        = "issued"
	EventResent        = "resent"
	EventRegenerated   = "regenerated"
	EventAccessAttempt = "access_attempt"
)

// CredentialEvent is published after every issuance, rotation and access
// attempt.  It never carries a plaintext secret: MaskedSecret is the
// display form produced by credential.Mask and is empty for access
// attempts.
type CredentialEvent struct {
	Event        string `json:"event"`
	CredentialID string `json:"credential_id"`
	MemberID     string `json:"member_id"`
	ActorID      string `json:"actor_id,omitempty"`
	Channel      string `json:"channel,omitempty"`
	MaskedSecret string `json:"masked_secret,omitempty"`
	SendCount    int    `json:"send_count,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
	OriginIP     string `json:"origin_ip,omitempty"`
	OccurredAt   string `json:"occurred_at"` // RFC 3339, UTC
}
