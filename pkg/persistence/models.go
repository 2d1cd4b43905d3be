package persistence

import "time"

// BatchRecord is one stored pipeline run.
type BatchRecord struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	TotalMS      int64     `json:"total_ms"`
	ImagesTotal  int       `json:"images_total"`
	ImagesDone   int       `json:"images_done"`
	ImagesFailed int       `json:"images_failed"`
}

// ImageRecord is one image's outcome within a stored batch.
type ImageRecord struct {
	TaskID      string `json:"task_id"`
	BatchID     string `json:"batch_id"`
	ImageRef    string `json:"image_ref"`
	ImageID     string `json:"image_id,omitempty"`
	Stage       string `json:"stage"`
	FailedStage string `json:"failed_stage,omitempty"`
	Error       string `json:"error,omitempty"`
	TokenCount  int    `json:"token_count"`
	ElapsedMS   int64  `json:"elapsed_ms"`
}

// BatchDetail bundles a batch with its image rows for reporting.
type BatchDetail struct {
	Batch  BatchRecord   `json:"batch"`
	Images []ImageRecord `json:"images"`
}
