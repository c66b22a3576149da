package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	SourceKindYouTube = "youtube"
	SourceKindReddit  = "reddit"
	SourceKindRSS     = "rss"
)

// Collection cadence labels. Cadence is scheduling policy, resolved to a
// duration by the orchestrator config.
const (
	CadenceHourly     = "hourly"
	CadenceSixHourly  = "six_hourly"
	CadenceTwelveHour = "twelve_hourly"
)

// ContentSource is one subscribed feed for one user. The orchestrator owns
// LastCollectedAt and flag state; a source is flagged (not disabled) when a
// job against it exhausts the retry ceiling.
type ContentSource struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Kind            string     `gorm:"column:kind;not null" json:"kind"` // youtube|reddit|rss
	Label           string     `gorm:"column:label" json:"label"`
	Cadence         string     `gorm:"column:cadence;not null" json:"cadence"`
	LastCollectedAt *time.Time `gorm:"column:last_collected_at" json:"last_collected_at,omitempty"`
	NextDigestAt    *time.Time `gorm:"column:next_digest_at;index" json:"next_digest_at,omitempty"`
	FlaggedAt       *time.Time `gorm:"column:flagged_at" json:"flagged_at,omitempty"`
	FlagReason      string     `gorm:"column:flag_reason" json:"flag_reason,omitempty"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null" json:"updated_at"`
}

func (ContentSource) TableName() string { return "content_source" }
