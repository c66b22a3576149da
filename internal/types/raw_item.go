package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SourceTypeVideo   = "video"
	SourceTypeArticle = "article"
	SourceTypeThread  = "thread"
)

// RawContentItem is the immutable collector output. Identity is
// (source_id, external_id); re-submission with the same pair is ignored.
// Payload holds the source-specific structural payload: ordered transcript
// segments, article paragraphs, or a comment tree.
type RawContentItem struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SourceID    uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_raw_item_source_external" json:"source_id"`
	ExternalID  string         `gorm:"column:external_id;not null;uniqueIndex:idx_raw_item_source_external" json:"external_id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	SourceType  string         `gorm:"column:source_type;not null" json:"source_type"` // video|article|thread
	Title       string         `gorm:"column:title" json:"title"`
	Author      string         `gorm:"column:author" json:"author"`
	Body        string         `gorm:"column:body" json:"body"`
	PublishedAt time.Time      `gorm:"column:published_at;index" json:"published_at"`
	Payload     datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
}

func (RawContentItem) TableName() string { return "raw_content_item" }
