package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ContentChunk is the atomic retrieval unit. Source metadata is
// denormalized so retrieval never needs the raw item row, and Anchor keeps
// the merged temporal/thread anchor of the covered text units. EmbedModel
// records which embedding model version produced the vector currently live
// in the index; a different active model means the chunk needs
// re-embedding before it can serve retrieval.
type ContentChunk struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	RawItemID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"raw_item_id"`
	SourceID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"source_id"`
	Position    int            `gorm:"column:position;not null" json:"position"`
	Text        string         `gorm:"column:text;not null" json:"text"`
	TokenCount  int            `gorm:"column:token_count;not null" json:"token_count"`
	Anchor      datatypes.JSON `gorm:"type:jsonb;column:anchor" json:"anchor"`
	Title       string         `gorm:"column:title" json:"title"`
	Author      string         `gorm:"column:author" json:"author"`
	SourceType  string         `gorm:"column:source_type;not null" json:"source_type"`
	PublishedAt time.Time      `gorm:"column:published_at;index" json:"published_at"`
	EmbedModel  string         `gorm:"column:embed_model" json:"embed_model"`
	EmbeddedAt  *time.Time     `gorm:"column:embedded_at" json:"embedded_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (ContentChunk) TableName() string { return "content_chunk" }
