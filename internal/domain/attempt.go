package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Attempt is one learner's timed session covering one or more tasks.
//
// At most one of FinishedAt/CancelledAt transitions from null to set during
// the row's life; once either is set the attempt is terminal and immutable
// except for the meta task-id list, which may only grow via append-if-absent.
type Attempt struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User         *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	CourseID     *uuid.UUID     `gorm:"type:uuid;index" json:"course_id,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	FinishedAt   *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CancelledAt  *time.Time     `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CancelReason *string        `gorm:"column:cancel_reason" json:"cancel_reason,omitempty"`
	TimeExpired  bool           `gorm:"column:time_expired;not null;default:false" json:"time_expired"`
	SourceSystem string         `gorm:"column:source_system;not null;default:'system'" json:"source_system"`
	Meta         datatypes.JSON `gorm:"type:jsonb;column:meta" json:"meta,omitempty"`
}

func (Attempt) TableName() string { return "attempts" }

// AttemptMeta is the typed shape of Attempt.Meta.
type AttemptMeta struct {
	TaskIDs      []uuid.UUID `json:"task_ids,omitempty"`
	TimeLimitSec int         `json:"time_limit,omitempty"`
	Title        string      `json:"title,omitempty"`
}

func (a *Attempt) DecodeMeta() AttemptMeta {
	var m AttemptMeta
	if len(a.Meta) > 0 {
		_ = json.Unmarshal(a.Meta, &m)
	}
	return m
}

func (a *Attempt) EncodeMeta(m AttemptMeta) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	a.Meta = datatypes.JSON(raw)
	return nil
}

// AppendTaskID adds taskID to the meta task list if absent. Reports whether
// the list changed.
func (a *Attempt) AppendTaskID(taskID uuid.UUID) (bool, error) {
	m := a.DecodeMeta()
	for _, id := range m.TaskIDs {
		if id == taskID {
			return false, nil
		}
	}
	m.TaskIDs = append(m.TaskIDs, taskID)
	if err := a.EncodeMeta(m); err != nil {
		return false, err
	}
	return true, nil
}

// Active reports whether the attempt is neither finished nor cancelled.
func (a *Attempt) Active() bool {
	return a.FinishedAt == nil && a.CancelledAt == nil
}
