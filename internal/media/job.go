package media

import (
	"fmt"
	"time"
)

// JobStatus is the persisted discriminator of a JobState.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether s -> next is a legal job transition.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobQueued:
		return next == JobProcessing
	case JobProcessing:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// JobState is one of Queued, Processing, Completed or Failed.
type JobState interface {
	Status() JobStatus
	jobState()
}

// Queued jobs wait to be claimed.
type Queued struct{}

// Processing jobs are owned by exactly one worker.
type Processing struct {
	Progress int
}

// Completed jobs carry the stats of the successful run.
type Completed struct {
	Stats JobStats
}

// Failed jobs carry the captured error message.
type Failed struct {
	Error string
}

func (Queued) Status() JobStatus     { return JobQueued }
func (Processing) Status() JobStatus { return JobProcessing }
func (Completed) Status() JobStatus  { return JobCompleted }
func (Failed) Status() JobStatus     { return JobFailed }

func (Queued) jobState()     {}
func (Processing) jobState() {}
func (Completed) jobState()  {}
func (Failed) jobState()     {}

// JobStats summarises a completed run.
type JobStats struct {
	ChunksCreated       int     `json:"chunksCreated"`
	EmbeddingsGenerated int     `json:"embeddingsGenerated"`
	ProcessingCost      float64 `json:"processingCost"`
}

// ProcessingJob drives one document through the pipeline.
type ProcessingJob struct {
	ID          string
	DocumentID  string
	OwnerID     string
	State       JobState
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Status returns the discriminator of the job's state.
func (j ProcessingJob) Status() JobStatus {
	if j.State == nil {
		return JobQueued
	}
	return j.State.Status()
}

// Progress is 0 while queued, the last checkpoint while processing, and 100
// once completed. Failed jobs report the checkpoint they were last seen at,
// which the store keeps for observability.
func (j ProcessingJob) Progress(lastCheckpoint int) int {
	switch s := j.State.(type) {
	case Processing:
		return s.Progress
	case Completed:
		return 100
	case Failed:
		return lastCheckpoint
	default:
		return 0
	}
}

// JobView is the flat representation returned by the job status endpoint.
type JobView struct {
	ID                  string     `json:"id"`
	DocumentID          string     `json:"documentId"`
	OwnerID             string     `json:"-"`
	Status              JobStatus  `json:"status"`
	Progress            int        `json:"progress"`
	Error               string     `json:"error,omitempty"`
	ChunksCreated       int        `json:"chunksCreated"`
	EmbeddingsGenerated int        `json:"embeddingsGenerated"`
	ProcessingCost      float64    `json:"processingCost"`
	CreatedAt           time.Time  `json:"createdAt"`
	StartedAt           *time.Time `json:"startedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
}

// View flattens the job. lastCheckpoint is the stored progress column.
func (j ProcessingJob) View(lastCheckpoint int) JobView {
	v := JobView{
		ID:          j.ID,
		DocumentID:  j.DocumentID,
		OwnerID:     j.OwnerID,
		Status:      j.Status(),
		Progress:    j.Progress(lastCheckpoint),
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	switch s := j.State.(type) {
	case Completed:
		v.ChunksCreated = s.Stats.ChunksCreated
		v.EmbeddingsGenerated = s.Stats.EmbeddingsGenerated
		v.ProcessingCost = s.Stats.ProcessingCost
	case Failed:
		v.Error = s.Error
	}
	return v
}

// StateFromColumns rebuilds the tagged union from its flat storage form and
// rejects combinations that cannot occur.
func StateFromColumns(status string, progress int, errMsg *string, stats JobStats) (JobState, error) {
	switch JobStatus(status) {
	case JobQueued:
		return Queued{}, nil
	case JobProcessing:
		return Processing{Progress: progress}, nil
	case JobCompleted:
		if errMsg != nil {
			return nil, fmt.Errorf("completed job with error %q", *errMsg)
		}
		return Completed{Stats: stats}, nil
	case JobFailed:
		if errMsg == nil {
			return nil, fmt.Errorf("failed job without error message")
		}
		return Failed{Error: *errMsg}, nil
	default:
		return nil, fmt.Errorf("unknown job status %q", status)
	}
}

// QueueDepth counts non-terminal jobs.
type QueueDepth struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Total      int `json:"total"`
}
