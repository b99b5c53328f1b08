// Package schedule drains a queue of tasks under a fixed worker cap, one
// child process per task.
package schedule

import (
	"context"
	"log/slog"
	"slices"
)

// Task is one fully resolved (image, plugin) pair ready for execution as a
// single child process. Tasks are immutable once constructed: created by the
// expander, consumed exactly once by a worker, never retried.
type Task struct {
	Image      string   // image basename, for logging and naming
	Plugin     string   // plugin name, for logging and naming
	Argv       []string // complete command line, argv[0] is the invocation
	OutputPath string   // receives combined stdout/stderr of the run
}

// Scheduler bounds how many tasks run concurrently.
type Scheduler struct {
	limit int
	run   func(context.Context, Task)
}

func New(limit int) *Scheduler {
	return &Scheduler{
		limit: limit,
		run:   execute,
	}
}

// Run drains tasks to completion. Workers are launched back-to-back while a
// slot is free and the queue is non-empty; each worker signals on a
// completion channel when its process has exited. Run returns when the
// queue is empty and no worker remains active, or - on context
// cancellation - after every active worker has been terminated. Remaining
// queue contents are abandoned on cancellation; partial output files are
// left as-is.
//
// Exit status of a worker is never inspected here: a task that failed and a
// task that succeeded are indistinguishable to the scheduler.
func (s *Scheduler) Run(ctx context.Context, tasks []Task) {
	pending := slices.Clone(tasks)
	active := 0
	finished := make(chan Task)

	for len(pending) > 0 || active > 0 {
		for active < s.limit && len(pending) > 0 {
			t := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			active++
			slog.DebugContext(ctx, "starting worker",
				"image", t.Image, "plugin", t.Plugin,
				"active", active, "pending", len(pending))
			go func() {
				s.run(ctx, t)
				finished <- t
			}()
		}

		select {
		case <-ctx.Done():
			// cancellation kills the child processes, so every worker
			// unblocks shortly - wait for all of them before returning
			slog.InfoContext(ctx, "interrupted, terminating workers",
				"active", active, "abandoned", len(pending))
			for active > 0 {
				t := <-finished
				active--
				slog.DebugContext(ctx, "worker terminated",
					"image", t.Image, "plugin", t.Plugin)
			}
			return
		case t := <-finished:
			active--
			slog.DebugContext(ctx, "worker finished",
				"image", t.Image, "plugin", t.Plugin,
				"active", active, "pending", len(pending))
		}
	}
}
