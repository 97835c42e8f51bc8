package model

import "time"

// JobStatus is the lifecycle state of a queue job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is a terminal state. Only terminal jobs
// allow a fresh enqueue for the same package.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// QueueJob is one scan request in the work queue. Higher priority runs first;
// ties break on earliest creation time.
type QueueJob struct {
	ID           uint       `json:"ID" gorm:"primaryKey;autoIncrement"`
	SnapName     string     `json:"SnapName" gorm:"index;not null"`
	Revision     *int       `json:"Revision"`
	Architecture string     `json:"Architecture" gorm:"default:amd64"`
	Priority     int        `json:"Priority" gorm:"default:5"`
	Status       JobStatus  `json:"Status" gorm:"index;default:pending"`
	ErrorMessage string     `json:"ErrorMessage"`
	CreatedAt    time.Time  `json:"CreatedAt" gorm:"autoCreateTime"`
	StartedAt    *time.Time `json:"StartedAt"`
	CompletedAt  *time.Time `json:"CompletedAt"`
}
