package model

import "time"

type JobStatus string

const (
	JobStatusSuccess JobStatus = "success"
	JobStatusError   JobStatus = "error"
)

// ExecutionLog records one job run or one applied reconciliation, for
// operator visibility into missed or failed runs.
type ExecutionLog struct {
	ID              int64     `json:"id"`
	JobName         string    `json:"job_name"`
	Status          JobStatus `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	ResponseBody    string    `json:"response_body"`
}
