// Package model defines the domain types shared by every gateway component:
// users and external identities (§3, §4.A), conversations and messages
// (§3, §4.B), and the status state machine (§4.F).
package model

import "time"

// Role tags an internal User.
type Role string

const (
	RoleAgent    Role = "AGENT"
	RoleCustomer Role = "CUSTOMER"
)

// Platform identifies an external messaging service, or INTERNAL for a hop
// that never leaves the gateway (spec.md glossary).
type Platform string

const (
	PlatformInternal  Platform = "INTERNAL"
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformTelegram  Platform = "telegram"
	PlatformInstagram Platform = "instagram"
	PlatformSlack     Platform = "slack"
	PlatformDiscord   Platform = "discord"
	PlatformFeishu    Platform = "feishu"
)

// User is an internal identity (§3).
type User struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExternalIdentity links a User to a platform handle (§3).
type ExternalIdentity struct {
	IdentityID     string    `json:"identity_id"`
	UserID         string    `json:"user_id"`
	Platform       Platform  `json:"platform"`
	PlatformUserID string    `json:"platform_user_id"`
	Verified       bool      `json:"verified"`
	LinkedAt       time.Time `json:"linked_at"`
}

// ConversationType constrains participant counts (§3).
type ConversationType string

const (
	ConversationOneToOne ConversationType = "ONE_TO_ONE"
	ConversationGroup    ConversationType = "GROUP"
)

const (
	// MinGroupParticipants is the floor for a GROUP conversation (§3, §8).
	MinGroupParticipants = 2
	// MaxGroupParticipants is the ceiling for a GROUP conversation (§3, §8).
	MaxGroupParticipants = 100
	// MaxTextUnits bounds Message.Content for text messages (§3, §8).
	MaxTextUnits = 10000
	// MaxAttachmentBytes bounds a single File Attachment (§3, §8).
	MaxAttachmentBytes = 2 * 1024 * 1024 * 1024
)

// Participant is one entry in a Conversation's participant list (§3).
type Participant struct {
	UserID   string     `json:"user_id"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// Active reports whether the participant was present in the conversation at t.
func (p Participant) Active(t time.Time) bool {
	if p.JoinedAt.After(t) {
		return false
	}
	if p.LeftAt != nil && !p.LeftAt.After(t) {
		return false
	}
	return true
}

// Conversation is an ordered thread of 2-100 participants (§3).
type Conversation struct {
	ConversationID string           `json:"conversation_id"`
	Type           ConversationType `json:"type"`
	Participants   []Participant    `json:"participants"`
	PrimaryChannel Platform         `json:"primary_channel,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ParticipantEvent is an immutable join/leave record used for history
// filtering (§4.B, §4.F, §8 invariant 4).
type ParticipantEvent struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Action         string    `json:"action"` // "join" | "leave"
	At             time.Time `json:"at"`
}

// Status is a Message's position in the delivery state machine (§4.F).
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
	StatusFailed    Status = "FAILED"
)

// transitions enumerates the monotone state machine from §4.F. A status not
// present as a key has no legal outgoing transitions (terminal).
var transitions = map[Status]map[Status]bool{
	StatusPending:   {StatusSent: true, StatusFailed: true},
	StatusSent:      {StatusDelivered: true, StatusFailed: true},
	StatusDelivered: {StatusRead: true, StatusFailed: true},
}

// CanTransition reports whether from -> to is a legal Status transition.
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Terminal reports whether s has no further legal transitions.
func Terminal(s Status) bool {
	_, ok := transitions[s]
	return !ok
}

// StatusEntry is one append-only Status History record (§3).
type StatusEntry struct {
	Status    Status    `json:"status"`
	At        time.Time `json:"at"`
	Reason    string    `json:"reason,omitempty"`
	Platform  Platform  `json:"platform,omitempty"`
	RecipientID string  `json:"recipient_id,omitempty"`
}

// RecipientOutcome records one recipient's terminal dispatch result,
// attached to Message so that mixed fan-out success is inspectable (§4.F
// step 4, §9 Open Question 2).
type RecipientOutcome struct {
	Recipient          string   `json:"recipient"`
	Platform           Platform `json:"platform"`
	Status             Status   `json:"status"`
	PlatformMessageID  string   `json:"platform_message_id,omitempty"`
	ErrorKind          string   `json:"error_kind,omitempty"`
}

// Message is the central record (§3).
type Message struct {
	MessageID         string              `json:"message_id"`
	ConversationID    string              `json:"conversation_id"`
	SenderID          string              `json:"sender_id"`
	RecipientIDs      []string            `json:"recipient_ids"`
	Content           string              `json:"content,omitempty"`
	FileIDs           []string            `json:"file_ids,omitempty"`
	Channel           Platform            `json:"channel"`
	Status            Status              `json:"status"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
	PlatformMessageID string              `json:"platform_message_id,omitempty"`
	ErrorKind         string              `json:"error_kind,omitempty"`
	StatusHistory     []StatusEntry       `json:"status_history"`
	Outcomes          []RecipientOutcome  `json:"outcomes,omitempty"`
	SystemEvent       bool                `json:"system_event,omitempty"`
}

// ScanVerdict is the lifecycle state of a File Attachment's content scan (§3).
type ScanVerdict string

const (
	ScanPending  ScanVerdict = "PENDING"
	ScanClean    ScanVerdict = "CLEAN"
	ScanRejected ScanVerdict = "REJECTED"
)

// FileAttachment is an out-of-band blob referenced by zero or more Messages (§3).
type FileAttachment struct {
	FileID      string      `json:"file_id"`
	Filename    string      `json:"filename"`
	SizeBytes   int64       `json:"size_bytes"`
	MimeType    string      `json:"mime_type"`
	ObjectKey   string      `json:"object_key"`
	ExpiresAt   time.Time   `json:"expires_at"`
	ScanVerdict ScanVerdict `json:"scan_verdict"`
	CreatedAt   time.Time   `json:"created_at"`

	// TextPreview is a bounded plain-text extract of the attachment's
	// content (docs/sheets/PDFs), populated at upload time when the
	// content is a recognized document type. Empty for images, audio,
	// video, and anything the extractor didn't recognize.
	TextPreview string `json:"text_preview,omitempty"`
}

// Referenceable reports whether the attachment may be attached to a Message
// (§3: "unreferenceable while PENDING or REJECTED").
func (f FileAttachment) Referenceable() bool {
	return f.ScanVerdict == ScanClean
}
