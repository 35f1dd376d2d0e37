package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/conneroisu/domplate/internal/errors"
	"github.com/conneroisu/domplate/internal/logging"
)

// tree builds a complete tree of the given fan-out and depth.
func tree(fanout, depth int) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: "div"}
	if depth == 0 {
		return n
	}
	for i := 0; i < fanout; i++ {
		n.AppendChild(tree(fanout, depth-1))
	}
	return n
}

func TestRunVisitsEveryNode(t *testing.T) {
	root := tree(3, 4)
	var visited int64

	wm := NewWorkerManager(8, func(_ context.Context, q *TaskQueue, task Task) {
		atomic.AddInt64(&visited, 1)
		for c := task.Element.FirstChild; c != nil; c = c.NextSibling {
			q.Push(Task{Element: c, Scope: task.Scope})
		}
	}, logging.NewNop(), nil)

	err := wm.Run(context.Background(), NewTaskQueue(), Task{Element: root})
	require.NoError(t, err)

	// 1 + 3 + 9 + 27 + 81
	assert.Equal(t, int64(121), visited)
	assert.Equal(t, int64(121), wm.Metrics().Snapshot().Processed)
}

func TestRunRespectsConcurrencyCeiling(t *testing.T) {
	root := tree(50, 1)
	var inFlight, peak int64

	wm := NewWorkerManager(4, func(_ context.Context, q *TaskQueue, task Task) {
		cur := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if cur <= old || atomic.CompareAndSwapInt64(&peak, old, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		for c := task.Element.FirstChild; c != nil; c = c.NextSibling {
			q.Push(Task{Element: c})
		}
		atomic.AddInt64(&inFlight, -1)
	}, nil, nil)

	require.NoError(t, wm.Run(context.Background(), NewTaskQueue(), Task{Element: root}))
	assert.LessOrEqual(t, peak, int64(4))
	assert.Equal(t, 4, wm.Workers())
}

func TestRunWithoutSeedReturnsImmediately(t *testing.T) {
	wm := NewWorkerManager(0, func(context.Context, *TaskQueue, Task) {
		t.Fatal("handler must not run")
	}, nil, nil)
	assert.Equal(t, DefaultConcurrency, wm.Workers())
	assert.NoError(t, wm.Run(context.Background(), NewTaskQueue()))
}

func TestRunRecoversPanics(t *testing.T) {
	root := tree(2, 1)
	rec := logging.NewRecorder()
	col := errors.NewCollector()

	wm := NewWorkerManager(2, func(_ context.Context, q *TaskQueue, task Task) {
		if task.Element == root {
			for c := root.FirstChild; c != nil; c = c.NextSibling {
				q.Push(Task{Element: c})
			}
			return
		}
		panic("broken handler")
	}, rec, errors.NewErrorHandler(rec, col))

	require.NoError(t, wm.Run(context.Background(), NewTaskQueue(), Task{Element: root}))
	assert.Equal(t, 2, col.Len())
	assert.Equal(t, int64(2), wm.Metrics().Snapshot().Failed)
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	var once sync.Once

	wm := NewWorkerManager(1, func(_ context.Context, q *TaskQueue, task Task) {
		once.Do(cancel)
		<-release
		q.Push(task)
	}, nil, nil)

	done := make(chan error, 1)
	go func() { done <- wm.Run(ctx, NewTaskQueue(), Task{Element: &html.Node{}}) }()

	time.Sleep(10 * time.Millisecond)
	close(release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestQueueStatsAndClose(t *testing.T) {
	q := NewTaskQueue()
	q.Push(Task{})
	q.Push(Task{})
	stats := q.Stats()
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 2, stats.Outstanding)

	q.Close()
	q.Push(Task{})
	stats = q.Stats()
	assert.True(t, stats.Closed)
	assert.Equal(t, 0, stats.Pending)

	_, ok := q.next()
	assert.False(t, ok)
}
