// Package image resolves input memory images into fully specified
// descriptors: identity, profile, KDBG offset and the plugin specs to run.
package image

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/input-output-hk/catalyst-forge-libs/executor"

	"github.com/memtriage/volrun/internal/catalog"
	"github.com/memtriage/volrun/internal/log"
	"github.com/memtriage/volrun/internal/model"
)

var (
	reProfiles = regexp.MustCompile(`Suggested Profile\(s\) : ([^\n]*)`)
	reKDBG     = regexp.MustCompile(`KDBG : (0x[a-fA-F0-9]+)`)
)

// Image is a fully resolved descriptor of one input memory image. All
// fields are set before any task is expanded from it; Resolve never returns
// a partially resolved Image.
type Image struct {
	Invocation string
	Basename   string // e.g. DC011.raw
	Stem       string // basename without extension, e.g. DC011
	AbsPath    string
	Profile    string
	KDBG       string
	OutputDir  string   // per-image directory under the output root
	Plugins    []string // raw plugin specs, name plus optional flag tokens
}

// Resolve builds a descriptor for the image at path. It creates the
// per-image output directory, validates an explicit profile against the
// catalogue, auto-detects profile/KDBG via the detection plugin when either
// is missing, and resolves the plugin list (plugin file verbatim, or the
// catalogue subset for the profile's OS generation).
func Resolve(ctx context.Context, cfg model.Config, path string) (Image, error) {
	basename := filepath.Base(path)
	ctx = log.ContextAttrs(ctx, slog.String("image", basename))

	abs, err := filepath.Abs(path)
	if err != nil {
		return Image{}, fmt.Errorf("[%s] resolving path: %w", basename, err)
	}

	stem := strings.TrimSuffix(basename, filepath.Ext(basename))
	img := Image{
		Invocation: cfg.Invocation,
		Basename:   basename,
		Stem:       stem,
		AbsPath:    abs,
		Profile:    cfg.Profile,
		KDBG:       cfg.KDBG,
		OutputDir:  filepath.Join(cfg.Output, stem),
	}

	if err := os.MkdirAll(img.OutputDir, 0o755); err != nil {
		return Image{}, fmt.Errorf("[%s] creating output directory: %w", basename, err)
	}

	if img.Profile != "" && !catalog.Supported(img.Profile) {
		return Image{}, fmt.Errorf("[%s] profile %q: %w", basename, img.Profile, model.ErrInvalidProfile)
	}

	if img.Profile == "" || img.KDBG == "" {
		slog.InfoContext(ctx, "determining profile")
		profile, kdbg, err := img.detect(ctx)
		if err != nil {
			return Image{}, err
		}
		if img.Profile == "" {
			img.Profile = profile
		}
		if img.KDBG == "" {
			img.KDBG = kdbg
		}
	}

	if cfg.Plugins != "" {
		img.Plugins, err = readPluginList(cfg.Plugins)
		if err != nil {
			return Image{}, fmt.Errorf("[%s] reading plugin list: %w", basename, err)
		}
	} else {
		img.Plugins = catalog.PluginsFor(img.Profile, cfg.Dump)
	}

	slog.InfoContext(ctx, "image resolved", "profile", img.Profile, "kdbg", img.KDBG)
	for _, plugin := range img.Plugins {
		slog.InfoContext(ctx, "queuing plugin", "plugin", plugin)
	}
	return img, nil
}

// detect runs the detection plugin once, persists its raw report to the
// image's output directory for audit and extracts the first suggested
// profile and the KDBG offset.
func (img Image) detect(ctx context.Context) (profile, kdbg string, err error) {
	res, runErr := executor.New(img.Invocation, "-f", img.AbsPath, catalog.DetectionPlugin).Execute(ctx)

	// persist whatever the tool produced, even on failure
	if res != nil && res.Stdout != "" {
		reportPath := filepath.Join(img.OutputDir, img.Stem+"_"+catalog.DetectionPlugin+".txt")
		if werr := os.WriteFile(reportPath, []byte(res.Stdout), 0o644); werr != nil {
			return "", "", fmt.Errorf("[%s] saving detection report: %w", img.Basename, werr)
		}
		slog.DebugContext(ctx, "detection report saved", "path", reportPath)
	}

	if runErr != nil {
		return "", "", fmt.Errorf("[%s] running %s: %w", img.Basename, catalog.DetectionPlugin, runErr)
	}

	m := reProfiles.FindStringSubmatch(res.Stdout)
	if m == nil {
		return "", "", fmt.Errorf("[%s] suggested profiles not found in %s output: %w",
			img.Basename, catalog.DetectionPlugin, model.ErrDetectionParse)
	}
	profile = strings.TrimSpace(strings.Split(m[1], ",")[0])

	k := reKDBG.FindStringSubmatch(res.Stdout)
	if k == nil {
		return "", "", fmt.Errorf("[%s] KDBG offset not found in %s output: %w",
			img.Basename, catalog.DetectionPlugin, model.ErrDetectionParse)
	}
	kdbg = k[1]

	return profile, kdbg, nil
}

// readPluginList reads one plugin spec per line, verbatim and unfiltered.
// Lines are whitespace-trimmed, blank lines skipped, order preserved.
func readPluginList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	var specs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		specs = append(specs, line)
	}
	return specs, scanner.Err()
}
