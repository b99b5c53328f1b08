package schedule

import (
	"context"
	"log/slog"
	"os"

	"github.com/input-output-hk/catalyst-forge-libs/executor"

	"github.com/memtriage/volrun/internal/log"
)

// execute runs the task's command line as a child process with combined
// stdout/stderr redirected into the task's output file. A prior file of the
// same name is truncated. Non-zero exits are logged as informational and
// never escalated.
func execute(ctx context.Context, t Task) {
	ctx = log.ContextAttrs(ctx,
		slog.String("image", t.Image),
		slog.String("plugin", t.Plugin),
	)
	slog.InfoContext(ctx, "running plugin")

	out, err := os.Create(t.OutputPath)
	if err != nil {
		slog.ErrorContext(ctx, "creating plugin output file", "path", t.OutputPath, "error", err)
		return
	}
	defer func() {
		_ = out.Close()
	}()

	res, err := executor.New(t.Argv[0], t.Argv[1:]...).Execute(ctx,
		executor.WithCapture(false, false, false),
		executor.WithStdoutWriter(out),
		executor.WithStderrWriter(out),
	)
	if err != nil {
		slog.InfoContext(ctx, "plugin exited abnormally", "exit_code", res.ExitCode, "error", err)
	}
	slog.InfoContext(ctx, "plugin output saved", "path", t.OutputPath)
}
