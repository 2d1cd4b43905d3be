package status_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"

	"tokenforge/pkg/status"
)

func newTestSink(t *testing.T, opts ...status.Option) (*status.RedisSink, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})

	sink := status.NewRedisSinkFromClient(client, opts...)
	t.Cleanup(func() { sink.Close() })
	return sink, mr
}

func TestPublishAndGet(t *testing.T) {
	sink, _ := newTestSink(t)
	ctx := context.Background()

	update := status.Update{
		BatchID:  "batch-1",
		TaskID:   "task-1",
		ImageRef: "shots/home.png",
		Stage:    "EXTRACTION",
		Detail:   "3 extractors dispatched",
		At:       time.Now().UTC().Truncate(time.Second),
	}
	if err := sink.Publish(ctx, update); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, err := sink.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Stage != "EXTRACTION" || got.ImageRef != "shots/home.png" || got.BatchID != "batch-1" {
		t.Errorf("Round trip lost fields: %+v", got)
	}
}

func TestGetUnknownTask(t *testing.T) {
	sink, _ := newTestSink(t)

	_, err := sink.Get(context.Background(), "nope")
	if !errors.Is(err, status.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPublishRequiresTaskID(t *testing.T) {
	sink, _ := newTestSink(t)

	if err := sink.Publish(context.Background(), status.Update{Stage: "QUEUED"}); err == nil {
		t.Error("Expected error for update without task ID")
	}
}

func TestBatchIndex(t *testing.T) {
	sink, _ := newTestSink(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, taskID := range []string{"task-a", "task-b", "task-c"} {
		update := status.Update{
			BatchID: "batch-7",
			TaskID:  taskID,
			Stage:   "QUEUED",
			At:      base.Add(time.Duration(i) * time.Second),
		}
		if err := sink.Publish(ctx, update); err != nil {
			t.Fatalf("Publish %s: %v", taskID, err)
		}
	}

	tasks, err := sink.BatchTasks(ctx, "batch-7")
	if err != nil {
		t.Fatalf("BatchTasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(tasks))
	}
	if tasks[0] != "task-a" || tasks[2] != "task-c" {
		t.Errorf("Expected oldest-first ordering, got %v", tasks)
	}
}

func TestRecordsExpire(t *testing.T) {
	sink, mr := newTestSink(t, status.WithTTL(time.Minute))
	ctx := context.Background()

	update := status.Update{BatchID: "batch-1", TaskID: "task-1", Stage: "DONE", At: time.Now()}
	if err := sink.Publish(ctx, update); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := sink.Get(ctx, "task-1"); !errors.Is(err, status.ErrNotFound) {
		t.Errorf("Expected record to expire, got %v", err)
	}
}

func TestCustomPrefixIsolation(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	clientA := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	clientB := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	a := status.NewRedisSinkFromClient(clientA, status.WithPrefix("forge-a:"))
	b := status.NewRedisSinkFromClient(clientB, status.WithPrefix("forge-b:"))
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	if err := a.Publish(ctx, status.Update{TaskID: "task-1", Stage: "DONE", At: time.Now()}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if _, err := b.Get(ctx, "task-1"); !errors.Is(err, status.ErrNotFound) {
		t.Errorf("Expected prefix isolation, got %v", err)
	}
}

func TestNopSink(t *testing.T) {
	sink := status.Nop()
	if err := sink.Publish(context.Background(), status.Update{TaskID: "x"}); err != nil {
		t.Errorf("Nop sink should accept everything: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Nop sink close: %v", err)
	}
}
