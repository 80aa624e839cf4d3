package core

import "time"

type UploadStatus string

// Upload job lifecycle: draft (matched, awaiting review) -> pending (queued
// for import) -> done | error.
const (
	UploadDraft   UploadStatus = "draft"
	UploadPending UploadStatus = "pending"
	UploadDone    UploadStatus = "done"
	UploadError   UploadStatus = "error"
)

// UploadJob is one meter file on its way to the backend.
type UploadJob struct {
	ID          string
	SessionID   string
	Tenant      string
	Filename    string
	Content     []byte
	EinheitID   int64
	EinheitName string
	Confidence  float64
	Date        Date
	Status      UploadStatus
	Message     string
	Attempts    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Match is the job's unit assignment as a match result.
func (j UploadJob) Match() MatchResult {
	return MatchResult{EinheitID: j.EinheitID, EinheitName: j.EinheitName, Confidence: j.Confidence}
}

// Ready reports whether the job has everything the import needs.
func (j UploadJob) Ready() bool {
	return j.EinheitID > 0 && !j.Date.IsZero()
}

// Finished reports whether the job reached a terminal state.
func (j UploadJob) Finished() bool {
	return j.Status == UploadDone || j.Status == UploadError
}
