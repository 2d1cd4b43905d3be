package pipeline

import (
	"fmt"
	"time"

	"tokenforge/pkg/eventlog"
)

// ReplayBatch rebuilds a batch result from its event log records. The log
// carries stages, errors, and counts but not token payloads, so replayed
// results have TokenCount without Tokens. Used by the report command when
// no results database is available.
func ReplayBatch(events []*eventlog.Event, batchID string) (*BatchResult, error) {
	type taskState struct {
		result   *ImageResult
		queuedAt time.Time
		endedAt  time.Time
	}

	var (
		order    []string
		states   = make(map[string]*taskState)
		started  time.Time
		finished time.Time
		found    bool
	)

	ensure := func(e *eventlog.Event) *taskState {
		st, ok := states[e.TaskID]
		if !ok {
			st = &taskState{result: &ImageResult{
				TaskID:   e.TaskID,
				ImageRef: e.ImageRef,
				Stage:    StageQueued,
			}}
			states[e.TaskID] = st
			order = append(order, e.TaskID)
		}
		return st
	}

	for _, e := range events {
		if e.BatchID != batchID {
			continue
		}
		switch e.Kind {
		case eventlog.KindBatchStarted:
			found = true
			started = e.Timestamp
		case eventlog.KindBatchDone:
			finished = e.Timestamp
		case eventlog.KindTaskQueued:
			st := ensure(e)
			st.queuedAt = e.Timestamp
		case eventlog.KindStageEntered:
			st := ensure(e)
			st.result.Stage = Stage(e.Stage)
		case eventlog.KindStageFailed:
			st := ensure(e)
			st.result.Stage = StageFailed
			st.result.FailedStage = Stage(e.Stage)
			st.result.Error = e.Detail
			st.endedAt = e.Timestamp
		case eventlog.KindTaskDone:
			st := ensure(e)
			st.result.Stage = StageDone
			st.endedAt = e.Timestamp
			if n, ok := e.Fields["tokens"].(float64); ok {
				// JSON numbers decode as float64.
				st.result.TokenCount = int(n)
			}
			if id, ok := e.Fields["image_id"].(string); ok {
				st.result.ImageID = id
			}
		}
	}

	if !found {
		return nil, fmt.Errorf("batch %s not found in event log", batchID)
	}

	images := make([]*ImageResult, 0, len(order))
	for _, taskID := range order {
		st := states[taskID]
		if !st.queuedAt.IsZero() && !st.endedAt.IsZero() {
			st.result.ElapsedMS = st.endedAt.Sub(st.queuedAt).Milliseconds()
		}
		images = append(images, st.result)
	}

	result := &BatchResult{
		BatchID:   batchID,
		Images:    images,
		Summary:   summarize(images),
		StartedAt: started.UTC(),
	}
	if !finished.IsZero() && !started.IsZero() {
		result.TotalTime = finished.Sub(started)
		result.TotalMS = result.TotalTime.Milliseconds()
	}
	return result, nil
}

// LatestBatchID returns the batch ID of the last BATCH_STARTED record, or
// "" when the log holds none.
func LatestBatchID(events []*eventlog.Event) string {
	id := ""
	for _, e := range events {
		if e.Kind == eventlog.KindBatchStarted {
			id = e.BatchID
		}
	}
	return id
}
