package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/company-research/internal/research"
)

func TestLifecycleReachesHundredOnlyWhenTerminal(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	defer reg.Close()

	p := reg.Register("req-1", "Acme")
	require.Equal(t, research.StatusPending, p.Status)
	require.True(t, reg.Start("req-1", 2, nil))
	require.Equal(t, 1, reg.ActiveCount())

	reg.TaskStarted("req-1", research.SourceWebSearch)
	got, ok := reg.Get("req-1")
	require.True(t, ok)
	require.Equal(t, research.SourceWebSearch, got.CurrentTask)

	last := 0.0
	for _, kind := range []research.SourceKind{research.SourceWebSearch, research.SourceDomainRegistry} {
		status := research.StatusCompleted
		if kind == research.SourceDomainRegistry {
			status = research.StatusFailed
		}
		reg.TaskFinished("req-1", research.TaskResult{Source: kind, Status: status})
		got, _ = reg.Get("req-1")
		require.GreaterOrEqual(t, got.OverallProgress, last)
		require.Less(t, got.OverallProgress, 100.0)
		last = got.OverallProgress
	}
	require.Equal(t, 99.0, last)
	require.Equal(t, []research.SourceKind{research.SourceDomainRegistry}, got.FailedTasks)
	require.Len(t, got.CompletedTasks, 2)

	require.True(t, reg.Finish("req-1", research.StatusPartial))
	got, _ = reg.Get("req-1")
	require.Equal(t, 100.0, got.OverallProgress)
	require.Equal(t, research.StatusPartial, got.Status)
	require.Zero(t, reg.ActiveCount())

	reg.TaskFinished("req-1", research.TaskResult{Source: research.SourceAIAnalysis, Status: research.StatusCompleted})
	got, _ = reg.Get("req-1")
	require.Len(t, got.CompletedTasks, 2)
}

func TestHalfwayProgress(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	defer reg.Close()
	reg.Register("r", "Acme")
	reg.Start("r", 4, nil)
	reg.TaskFinished("r", research.TaskResult{Source: research.SourceWebSearch, Status: research.StatusCompleted})
	reg.TaskFinished("r", research.TaskResult{Source: research.SourceKnowledgeGraph, Status: research.StatusCompleted})
	got, _ := reg.Get("r")
	require.InDelta(t, 50.0, got.OverallProgress, 1e-9)
}

func TestCancelFreezesAndAbortsContext(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	defer reg.Close()

	ctx, cancel := context.WithCancel(context.Background())
	reg.Register("req-2", "Acme")
	reg.Start("req-2", 3, cancel)
	reg.TaskFinished("req-2", research.TaskResult{Source: research.SourceWebSearch, Status: research.StatusCompleted})

	require.True(t, reg.Cancel("req-2"))
	require.Error(t, ctx.Err())
	require.True(t, reg.Canceled("req-2"))

	got, ok := reg.Get("req-2")
	require.True(t, ok)
	require.Equal(t, research.StatusFailed, got.Status)
	require.Zero(t, got.OverallProgress)

	reg.TaskFinished("req-2", research.TaskResult{Source: research.SourceKnowledgeGraph, Status: research.StatusCompleted})
	require.False(t, reg.Finish("req-2", research.StatusCompleted))
	got, _ = reg.Get("req-2")
	require.Equal(t, research.StatusFailed, got.Status)
	require.Zero(t, got.OverallProgress)

	require.False(t, reg.Cancel("missing"))
	_, ok = reg.Get("missing")
	require.False(t, ok)
}

func TestStartAfterCancelAbortsImmediately(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	defer reg.Close()
	reg.Register("r", "Acme")
	reg.Cancel("r")

	ctx, cancel := context.WithCancel(context.Background())
	require.False(t, reg.Start("r", 1, cancel))
	require.Error(t, ctx.Err())
}

func TestTerminalEntriesAreEvicted(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(WithGracePeriod(20 * time.Millisecond))
	defer reg.Close()
	reg.Register("r", "Acme")
	reg.Start("r", 1, nil)
	reg.Finish("r", research.StatusCompleted)

	_, ok := reg.Get("r")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		_, ok := reg.Get("r")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	defer reg.Close()
	const tasks = 50
	reg.Register("r", "Acme")
	reg.Start("r", tasks, nil)

	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.TaskFinished("r", research.TaskResult{
				Source: research.SourceKind(fmt.Sprintf("k%d", i)),
				Status: research.StatusCompleted,
			})
		}(i)
	}
	wg.Wait()

	got, _ := reg.Get("r")
	require.Len(t, got.CompletedTasks, tasks)
	require.Equal(t, 99.0, got.OverallProgress)
}
