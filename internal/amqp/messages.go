package amqp

import (
	"encoding/json"
	"time"
)

// UploadJobMessage announces a pending upload job. The file itself stays in
// the database; the worker loads the job by ID.
type UploadJobMessage struct {
	JobID     string    `json:"jobId"`
	Tenant    string    `json:"tenant"`
	Timestamp time.Time `json:"timestamp"`
}

func NewUploadJobMessage(jobID, tenant string) *UploadJobMessage {
	return &UploadJobMessage{
		JobID:     jobID,
		Tenant:    tenant,
		Timestamp: time.Now(),
	}
}

func (m *UploadJobMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// UploadJobMessageFromJSON decodes a delivery body; messages without a job ID are rejected.
func UploadJobMessageFromJSON(data []byte) (*UploadJobMessage, error) {
	var msg UploadJobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.JobID == "" {
		return nil, errMissingJobID
	}
	return &msg, nil
}
