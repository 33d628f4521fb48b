package tracker

import (
	"time"

	"jobwatch/pkg/jobs"
)

type executionModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	JobName      string    `gorm:"not null;index:idx_job_executions_natural_key,priority:1"`
	RunID        string    `gorm:"not null;index:idx_job_executions_natural_key,priority:2"`
	StartTime    time.Time `gorm:"not null;index"`
	EndTime      *time.Time
	Status       string `gorm:"not null;index"`
	ErrorMessage string
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (executionModel) TableName() string { return "job_executions" }

func (m executionModel) toAPI() jobs.Execution {
	return jobs.Execution{
		ID:           m.ID,
		JobName:      m.JobName,
		RunID:        m.RunID,
		StartTime:    m.StartTime.UTC(),
		EndTime:      utcOrNil(m.EndTime),
		Status:       jobs.Status(m.Status),
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func modelFromAPI(e jobs.Execution) executionModel {
	return executionModel{
		ID:           e.ID,
		JobName:      e.JobName,
		RunID:        e.RunID,
		StartTime:    e.StartTime,
		EndTime:      e.EndTime,
		Status:       string(e.Status),
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
