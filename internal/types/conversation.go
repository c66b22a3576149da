package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TurnRoleUser      = "user"
	TurnRoleAssistant = "assistant"
)

type Conversation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Title     string    `gorm:"column:title" json:"title"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Conversation) TableName() string { return "conversation" }

// ConversationTurn is append-only. CitedChunkIDs holds the chunk IDs the
// assistant answer was grounded on, as a JSON array of UUID strings.
type ConversationTurn struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"conversation_id"`
	Role           string         `gorm:"column:role;not null" json:"role"` // user|assistant
	Text           string         `gorm:"column:text;not null" json:"text"`
	CitedChunkIDs  datatypes.JSON `gorm:"type:jsonb;column:cited_chunk_ids" json:"cited_chunk_ids,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;index" json:"created_at"`
}

func (ConversationTurn) TableName() string { return "conversation_turn" }
