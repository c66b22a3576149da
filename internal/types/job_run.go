package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed" // retryable; runnable again once next_retry_at passes
	JobStatusDead      = "dead"   // terminal; retry ceiling exhausted or permanent input
)

const (
	JobKindProcessContent = "content.process"
	JobKindEvictIndex     = "index.evict"
	JobKindAssembleDigest = "digest.assemble"
)

// JobRun is the only durable record the orchestrator keeps. Retry timing
// is expressed as next_retry_at so a restart resumes instead of losing
// scheduled work; in-flight rows left behind by a crash are reclaimed via
// heartbeat staleness.
type JobRun struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Kind        string         `gorm:"column:kind;not null;index:idx_job_run_target" json:"kind"`
	TargetType  string         `gorm:"column:target_type;not null;index:idx_job_run_target" json:"target_type"`
	TargetID    uuid.UUID      `gorm:"type:uuid;not null;index:idx_job_run_target" json:"target_id"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Priority    int            `gorm:"column:priority;not null;default:0;index" json:"priority"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastError   string         `gorm:"column:last_error" json:"last_error,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	NextRetryAt *time.Time     `gorm:"column:next_retry_at;index" json:"next_retry_at,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	Payload     datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_run" }
