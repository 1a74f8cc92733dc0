package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoSourceImage = errors.New("source image is required")
	ErrNoStyle       = errors.New("style is required")
	ErrNoResultURL   = errors.New("job has no result image URL")
)

// JobStatus is the server-side lifecycle state of a generation job.
// The client only ever observes transitions; it never sets them.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further status transition can occur.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s JobStatus) String() string {
	return string(s)
}

// UploadedImage is the server's record of a source photo. Immutable from
// the client's perspective once created.
type UploadedImage struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	StoragePath string    `json:"storage_path"`
	FileSize    int64     `json:"file_size"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	MimeType    string    `json:"mime_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// GenerationStyle is read-only catalog data fetched from the backend.
type GenerationStyle struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	PromptTemplate string `json:"prompt_template"`
	SortOrder      int    `json:"sort_order"`
}

// GenerationJob is one unit of asynchronous work producing a styled
// avatar from a source image. ResultImageURL is set iff the job
// completed; ErrorMessage iff it failed.
type GenerationJob struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	SourceImageID  string     `json:"source_image_id"`
	StyleID        string     `json:"style_id"`
	Status         JobStatus  `json:"status"`
	ResultImageURL string     `json:"result_image_url,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreditsCost    int        `json:"credits_cost"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// GenerationRequest is the payload for submitting a new job.
type GenerationRequest struct {
	SourceImageID string `json:"source_image_id"`
	StyleID       string `json:"style_id"`
}

func (r *GenerationRequest) Validate() error {
	if r.SourceImageID == "" {
		return ErrNoSourceImage
	}
	if r.StyleID == "" {
		return ErrNoStyle
	}
	return nil
}

// HistoryItem is the denormalized past-job view returned by the history
// listing. Same status domain as GenerationJob.
type HistoryItem struct {
	ID             string     `json:"id"`
	StyleID        string     `json:"style_id"`
	StyleName      string     `json:"style_name,omitempty"`
	CustomPrompt   string     `json:"custom_prompt,omitempty"`
	Status         JobStatus  `json:"status"`
	ResultImageURL string     `json:"result_image_url,omitempty"`
	CreditsCost    int        `json:"credits_cost"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// HistoryPage is one page of the user's generation history.
type HistoryPage struct {
	Items   []HistoryItem `json:"items"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
	HasMore bool          `json:"has_more"`
}

// ResultURL returns the completed job's result location, or an error if
// the job is not in a state that has one.
func (j *GenerationJob) ResultURL() (string, error) {
	if j.Status != StatusCompleted || j.ResultImageURL == "" {
		return "", fmt.Errorf("%w: job %s is %s", ErrNoResultURL, j.ID, j.Status)
	}
	return j.ResultImageURL, nil
}
