// Package service wires resolution, expansion and scheduling into the run
// command.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/memtriage/volrun/internal/image"
	"github.com/memtriage/volrun/internal/model"
	"github.com/memtriage/volrun/internal/schedule"
)

// Run executes the whole pipeline: every image is resolved into a
// descriptor (concurrently, a single configuration error aborts the run
// before anything is scheduled), all descriptors are expanded into one flat
// task queue and the queue is drained under the worker cap.
//
// Interruption is not an error: a cancelled context returns nil after all
// workers have been terminated.
func Run(ctx context.Context, cfg model.Config, paths []string) error {
	if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
		return fmt.Errorf("creating output root %s: %w", cfg.Output, err)
	}

	images := make([]image.Image, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, path := range paths {
		g.Go(func() error {
			img, err := image.Resolve(gctx, cfg, path)
			if err != nil {
				return err
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			slog.InfoContext(ctx, "interrupted during resolution")
			return nil
		}
		return err
	}

	var tasks []schedule.Task
	for _, img := range images {
		expanded, err := image.Tasks(img)
		if err != nil {
			return err
		}
		tasks = append(tasks, expanded...)
	}
	if len(tasks) == 0 {
		return model.ErrNoTasks
	}

	slog.InfoContext(ctx, "tasks queued", "images", len(images), "tasks", len(tasks), "workers", cfg.Workers)
	schedule.New(cfg.Workers).Run(ctx, tasks)
	slog.InfoContext(ctx, "processing complete, exiting gracefully")
	return nil
}
