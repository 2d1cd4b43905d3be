// Package task defines the unit of work the pipeline coordinator accepts:
// one image to push through preprocessing, extraction, aggregation,
// validation, and generation.
package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tokenforge/pkg/token"
)

// Priority orders tasks at admission time. Higher runs first; it never
// preempts work already dispatched.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 9
)

// Common metadata keys attached to pipeline tasks.
const (
	KeySubmitter  = "submitter"
	KeyBatchLabel = "batch_label"
	KeySourceURL  = "source_url"
)

// PipelineTask describes one image extraction request.
type PipelineTask struct {
	TaskID     string            `json:"task_id"`
	ImageRef   string            `json:"image_ref"`
	TokenTypes []token.Type      `json:"token_types,omitempty"`
	Priority   Priority          `json:"priority"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewPipelineTask builds a task for the given image reference. Empty
// tokenTypes means extract everything.
func NewPipelineTask(imageRef string, tokenTypes ...token.Type) *PipelineTask {
	return &PipelineTask{
		TaskID:     uuid.New().String(),
		ImageRef:   imageRef,
		TokenTypes: tokenTypes,
		Priority:   PriorityNormal,
		Metadata:   make(map[string]string),
		CreatedAt:  time.Now().UTC(),
	}
}

func (t *PipelineTask) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

func FromJSON(data []byte) (*PipelineTask, error) {
	var t PipelineTask
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal PipelineTask: %w", err)
	}
	return &t, nil
}

func (t *PipelineTask) SetMetadata(key, value string) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]string)
	}
	t.Metadata[key] = value
}

func (t *PipelineTask) GetMetadata(key string) (string, bool) {
	if t.Metadata == nil {
		return "", false
	}
	val, exists := t.Metadata[key]
	return val, exists
}

// WantsType reports whether the task requested the given token type.
// A task with no explicit types wants them all.
func (t *PipelineTask) WantsType(typ token.Type) bool {
	if len(t.TokenTypes) == 0 {
		return true
	}
	for _, want := range t.TokenTypes {
		if want == typ {
			return true
		}
	}
	return false
}

func (t *PipelineTask) Clone() *PipelineTask {
	clone := &PipelineTask{
		TaskID:    t.TaskID,
		ImageRef:  t.ImageRef,
		Priority:  t.Priority,
		CreatedAt: t.CreatedAt,
	}

	if t.TokenTypes != nil {
		clone.TokenTypes = make([]token.Type, len(t.TokenTypes))
		copy(clone.TokenTypes, t.TokenTypes)
	}

	if t.Metadata != nil {
		clone.Metadata = make(map[string]string)
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}

	return clone
}

func (t *PipelineTask) Validate() error {
	if t.TaskID == "" {
		return fmt.Errorf("task ID is required")
	}
	if t.ImageRef == "" {
		return fmt.Errorf("image_ref is required")
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	for _, typ := range t.TokenTypes {
		if _, err := token.ParseType(string(typ)); err != nil {
			return fmt.Errorf("invalid token type: %s", typ)
		}
	}
	if t.Priority < PriorityLow || t.Priority > PriorityHigh {
		return fmt.Errorf("priority %d out of range [%d,%d]", t.Priority, PriorityLow, PriorityHigh)
	}
	return nil
}
