package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// StepStatus is the processing backend's per-step status vocabulary.
type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepRecord is one entry in a job's step list. The backend appends records
// and updates the status of the latest record for a step; it never rewrites
// history for an earlier step.
type StepRecord struct {
	Step   string     `json:"step"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// JobStatus is one status snapshot of a remote processing job.
type JobStatus struct {
	Steps []StepRecord
}

// statusResponse is the wire shape of GET /status/{processingId}.
type statusResponse struct {
	Status struct {
		Steps []StepRecord `json:"steps"`
	} `json:"status"`
}

// JobStatus fetches the current status snapshot for a processing job.
func (c *Client) JobStatus(ctx context.Context, processingID string) (*JobStatus, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/status/"+url.PathEscape(processingID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sr statusResponse
	if decErr := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&sr); decErr != nil {
		return nil, fmt.Errorf("backend: parsing status response: %w", ErrInvalidResponse)
	}

	return &JobStatus{Steps: sr.Status.Steps}, nil
}
