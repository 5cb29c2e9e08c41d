// Package domain defines the persistence models for bots, delivery records,
// and the audit trail. These types are mapped with GORM and form the core data
// layer shared by the API (producer) and the worker (consumer).
package domain

import "time"

// Role names recognised by the authorization check.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Bot is a credentialed identity on the chat platform. The bearer token is
// never persisted in plaintext; EncryptedToken holds the sealed payload
// produced by the credential package.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: display name chosen by the owner.
//   - OwnerID: identifier of the owning operator; indexed for listing.
//   - EncryptedToken: base64 nonce ‖ tag ‖ ciphertext.
//   - Active: informational flag kept from the credential store.
//   - LastConnectedAt: last successful platform login from a worker.
type Bot struct {
	ID              string     `json:"id"                          gorm:"type:char(36);primaryKey"`
	Name            string     `json:"name"                        gorm:"type:varchar(255);not null"`
	OwnerID         string     `json:"owner_id"                    gorm:"type:varchar(64);not null;index:idx_bot_owner"`
	EncryptedToken  string     `json:"-"                           gorm:"type:text;not null"`
	Active          bool       `json:"active"                      gorm:"not null;default:true"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Bot.
func (Bot) TableName() string { return "bots" }

// DeliveryRecord is the persisted state of one outbound message and its
// delivery lifecycle. It is created QUEUED by the producer and mutated only
// by the consumer; it is never deleted here.
type DeliveryRecord struct {
	ID        string         `json:"id"                 gorm:"type:char(36);primaryKey"`
	BotID     string         `json:"bot_id"             gorm:"type:char(36);not null;index:idx_delivery_bot,priority:1"`
	GuildID   *string        `json:"guild_id,omitempty" gorm:"type:varchar(64)"`
	ChannelID string         `json:"channel_id"         gorm:"type:varchar(64);not null"`
	Content   string         `json:"content"            gorm:"type:text;not null"`
	Status    DeliveryStatus `json:"status"             gorm:"type:varchar(16);not null;default:QUEUED;index:idx_delivery_status_created,priority:1"`
	Attempts  int            `json:"attempts"           gorm:"not null;default:0"`
	Error     *string        `json:"error,omitempty"    gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at"         gorm:"index:idx_delivery_bot,priority:2;index:idx_delivery_status_created,priority:2"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName returns the database table name for DeliveryRecord.
func (DeliveryRecord) TableName() string { return "deliveries" }

// Target builds the delivery target variant for this record.
func (d DeliveryRecord) Target() (DeliveryTarget, error) {
	guild := ""
	if d.GuildID != nil {
		guild = *d.GuildID
	}
	return ResolveTarget(guild, d.ChannelID)
}

// Audit actions.
const (
	ActionBotCreated      = "BOT_CREATED"
	ActionBotDeleted      = "BOT_DELETED"
	ActionMessageEnqueued = "MESSAGE_ENQUEUED"
	ActionMessageSent     = "MESSAGE_SENT"
	ActionMessageFailed   = "MESSAGE_FAILED"
	ActionMessageDead     = "MESSAGE_DEAD"
	ActionMessageRequeued = "MESSAGE_REQUEUED"
)

// AuditEntry is an append-only record of a state-changing operation. ActorID
// is nil for actions taken by the worker.
type AuditEntry struct {
	ID        string    `json:"id"                 gorm:"type:char(36);primaryKey"`
	ActorID   *string   `json:"actor_id,omitempty" gorm:"type:varchar(64);index"`
	BotID     *string   `json:"bot_id,omitempty"   gorm:"type:char(36);index"`
	Action    string    `json:"action"             gorm:"type:varchar(32);not null"`
	Detail    string    `json:"detail"             gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"         gorm:"not null;index"`
}

// TableName returns the database table name for AuditEntry.
func (AuditEntry) TableName() string { return "audit_log" }
