package image

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/memtriage/volrun/internal/catalog"
	"github.com/memtriage/volrun/internal/schedule"
)

// Tasks expands a resolved image into one task per plugin spec. A spec is
// split on whitespace into the plugin name and its flag tokens; a dump-dir
// flag token gets the created {stem}_{plugin}_results directory appended
// after it so the tool receives a concrete destination. The command line
// order is fixed: invocation, -f, path, --profile, --kdbg, plugin, flags.
func Tasks(img Image) ([]schedule.Task, error) {
	tasks := make([]schedule.Task, 0, len(img.Plugins))
	for _, spec := range img.Plugins {
		fields := strings.Fields(spec)
		if len(fields) == 0 {
			continue
		}
		name := fields[0]

		flags := make([]string, 0, len(fields))
		for _, flag := range fields[1:] {
			flags = append(flags, flag)
			if flag != catalog.DumpDirFlag {
				continue
			}
			dumpDir := filepath.Join(img.OutputDir, img.Stem+"_"+name+"_results")
			if err := os.MkdirAll(dumpDir, 0o755); err != nil {
				return nil, fmt.Errorf("[%s] creating dump directory for %s: %w", img.Basename, name, err)
			}
			flags = append(flags, dumpDir)
		}

		argv := []string{
			img.Invocation,
			"-f", img.AbsPath,
			"--profile=" + img.Profile,
			"--kdbg=" + img.KDBG,
			name,
		}
		argv = append(argv, flags...)

		tasks = append(tasks, schedule.Task{
			Image:      img.Basename,
			Plugin:     name,
			Argv:       argv,
			OutputPath: filepath.Join(img.OutputDir, img.Stem+"_"+name+".txt"),
		})
	}
	return tasks, nil
}
