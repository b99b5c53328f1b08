package service_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/memtriage/volrun/internal/model"
	"github.com/memtriage/volrun/internal/service"
	"github.com/stretchr/testify/require"
)

const detectionReport = `Volatility Foundation Volatility Framework 2.6
          Suggested Profile(s) : Win10x64, Win10x86
                          KDBG : 0xfffff800
`

// echoTool stands in for vol.py: it echoes its arguments, so every task
// output file records the exact command line it was invoked with.
func echoTool(t *testing.T) string {
	t.Helper()
	return stubTool(t, `echo "$@"`)
}

func stubTool(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	path := filepath.Join(t.TempDir(), "vol.py")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func dummyImage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("not really a memory image"), 0o644))
	return path
}

// Two images, explicit profile and offset, plugin list with two entries:
// exactly four output files, no detection report.
func TestRunExplicit(t *testing.T) {
	t.Parallel()
	list := filepath.Join(t.TempDir(), "plugins.txt")
	require.NoError(t, os.WriteFile(list, []byte("pslist\nnetscan\n"), 0o644))

	cfg := model.DefaultConfig()
	cfg.Invocation = echoTool(t)
	cfg.Output = filepath.Join(t.TempDir(), "out")
	cfg.Profile = "Win7SP1x64"
	cfg.KDBG = "0xf80002803070"
	cfg.Plugins = list

	paths := []string{dummyImage(t, "alpha.raw"), dummyImage(t, "beta.raw")}
	require.NoError(t, service.Run(t.Context(), cfg, paths))

	for _, stem := range []string{"alpha", "beta"} {
		require.FileExists(t, filepath.Join(cfg.Output, stem, stem+"_pslist.txt"))
		require.FileExists(t, filepath.Join(cfg.Output, stem, stem+"_netscan.txt"))
		require.NoFileExists(t, filepath.Join(cfg.Output, stem, stem+"_imageinfo.txt"))

		b, err := os.ReadFile(filepath.Join(cfg.Output, stem, stem+"_pslist.txt"))
		require.NoError(t, err)
		require.Contains(t, string(b), "--profile=Win7SP1x64")
		require.Contains(t, string(b), "--kdbg=0xf80002803070")
		require.Contains(t, string(b), "pslist")
	}
}

// No explicit profile/offset: the detection report is written and its first
// suggested profile and KDBG offset drive every task.
func TestRunDetection(t *testing.T) {
	t.Parallel()
	cfg := model.DefaultConfig()
	cfg.Invocation = stubTool(t, `case "$*" in
*imageinfo) cat <<'EOF'
`+detectionReport+`EOF
;;
*) echo "$@" ;;
esac`)
	cfg.Output = filepath.Join(t.TempDir(), "out")

	require.NoError(t, service.Run(t.Context(), cfg, []string{dummyImage(t, "gamma.raw")}))

	report := filepath.Join(cfg.Output, "gamma", "gamma_imageinfo.txt")
	b, err := os.ReadFile(report)
	require.NoError(t, err)
	require.Contains(t, string(b), "Suggested Profile(s) : Win10x64, Win10x86")

	pslist, err := os.ReadFile(filepath.Join(cfg.Output, "gamma", "gamma_pslist.txt"))
	require.NoError(t, err)
	require.Contains(t, string(pslist), "--profile=Win10x64")
	require.Contains(t, string(pslist), "--kdbg=0xfffff800")
}

// An unsupported explicit profile aborts the run before any task output.
func TestRunInvalidProfile(t *testing.T) {
	t.Parallel()
	cfg := model.DefaultConfig()
	cfg.Invocation = echoTool(t)
	cfg.Output = filepath.Join(t.TempDir(), "out")
	cfg.Profile = "Win95"
	cfg.KDBG = "0xf80002803070"

	err := service.Run(t.Context(), cfg, []string{dummyImage(t, "alpha.raw")})
	require.ErrorIs(t, err, model.ErrInvalidProfile)

	entries, err := os.ReadDir(filepath.Join(cfg.Output, "alpha"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

// Dump mode: the dump directory exists and the task was invoked with it.
func TestRunDumpMode(t *testing.T) {
	t.Parallel()
	list := filepath.Join(t.TempDir(), "plugins.txt")
	require.NoError(t, os.WriteFile(list, []byte("dumpfiles -D\n"), 0o644))

	cfg := model.DefaultConfig()
	cfg.Invocation = echoTool(t)
	cfg.Output = filepath.Join(t.TempDir(), "out")
	cfg.Profile = "Win10x64"
	cfg.KDBG = "0xfffff800"
	cfg.Plugins = list
	cfg.Dump = true

	require.NoError(t, service.Run(t.Context(), cfg, []string{dummyImage(t, "delta.raw")}))

	dumpDir := filepath.Join(cfg.Output, "delta", "delta_dumpfiles_results")
	require.DirExists(t, dumpDir)

	b, err := os.ReadFile(filepath.Join(cfg.Output, "delta", "delta_dumpfiles.txt"))
	require.NoError(t, err)
	require.Contains(t, string(b), "-D "+dumpDir)
}

// A failing plugin is absorbed: the run still completes successfully and
// the other task's output is intact.
func TestRunAbsorbsTaskFailure(t *testing.T) {
	t.Parallel()
	list := filepath.Join(t.TempDir(), "plugins.txt")
	require.NoError(t, os.WriteFile(list, []byte("pslist\ncrashme\n"), 0o644))

	cfg := model.DefaultConfig()
	cfg.Invocation = stubTool(t, `case "$*" in
*crashme*) echo boom 1>&2; exit 42 ;;
*) echo "$@" ;;
esac`)
	cfg.Output = filepath.Join(t.TempDir(), "out")
	cfg.Profile = "Win7SP1x64"
	cfg.KDBG = "0xf80002803070"
	cfg.Plugins = list

	require.NoError(t, service.Run(t.Context(), cfg, []string{dummyImage(t, "eps.raw")}))

	b, err := os.ReadFile(filepath.Join(cfg.Output, "eps", "eps_crashme.txt"))
	require.NoError(t, err)
	require.Contains(t, string(b), "boom")
	require.FileExists(t, filepath.Join(cfg.Output, "eps", "eps_pslist.txt"))
}

// An empty plugin list yields no tasks.
func TestRunNoTasks(t *testing.T) {
	t.Parallel()
	list := filepath.Join(t.TempDir(), "plugins.txt")
	require.NoError(t, os.WriteFile(list, []byte("\n"), 0o644))

	cfg := model.DefaultConfig()
	cfg.Invocation = echoTool(t)
	cfg.Output = filepath.Join(t.TempDir(), "out")
	cfg.Profile = "Win7SP1x64"
	cfg.KDBG = "0xf80002803070"
	cfg.Plugins = list

	err := service.Run(t.Context(), cfg, []string{dummyImage(t, "alpha.raw")})
	require.ErrorIs(t, err, model.ErrNoTasks)
}

// Interruption is a clean shutdown: Run returns nil once every worker has
// been terminated.
func TestRunInterrupted(t *testing.T) {
	t.Parallel()
	list := filepath.Join(t.TempDir(), "plugins.txt")
	require.NoError(t, os.WriteFile(list, []byte("pslist\n"), 0o644))

	cfg := model.DefaultConfig()
	cfg.Invocation = stubTool(t, `exec sleep 60`)
	cfg.Output = filepath.Join(t.TempDir(), "out")
	cfg.Profile = "Win7SP1x64"
	cfg.KDBG = "0xf80002803070"
	cfg.Plugins = list

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	require.NoError(t, service.Run(ctx, cfg, []string{dummyImage(t, "alpha.raw")}))
	require.Less(t, time.Since(start), 10*time.Second)
}
