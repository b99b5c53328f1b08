package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/memtriage/volrun/internal/log"
	"github.com/memtriage/volrun/internal/model"
	"github.com/memtriage/volrun/internal/service"
)

var (
	userConfigPath string // /default/config/path/volrun on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag

	flagInvocation  string
	flagPluginsFile string
	flagProfile     string
	flagKDBG        string
	flagOutput      string
	flagDump        bool
	flagWorkers     int
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "volrun")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is volrun.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	runCmd.Flags().StringVar(&flagInvocation, "invocation", "", `invocation executing volatility (default "vol.py")`)
	runCmd.Flags().StringVar(&flagPluginsFile, "plugins-file", "", "read plugin specs from a file instead of the catalogue")
	runCmd.Flags().StringVar(&flagProfile, "profile", "", "profile to use, bypasses auto-detection")
	runCmd.Flags().StringVar(&flagKDBG, "kdbg", "", "KDBG offset to use, bypasses auto-detection")
	runCmd.Flags().StringVar(&flagOutput, "output", "", `output root directory (default "volrun-out")`)
	runCmd.Flags().BoolVar(&flagDump, "dump", false, "enable plugins extracting artifacts into dump directories")
	runCmd.Flags().IntVar(&flagWorkers, "workers", 0, "concurrent worker cap (default 6)")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse the config, setup logging
	rootCmd.PersistentPreRunE = initVolrun

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("volrun failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "volrun",
	Short:        "Run volatility plugins against memory images in bulk",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run [flags] IMAGE...",
	Short: "run executes every applicable plugin against the given images",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides the version of volrun",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("volrun: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("volrun: %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("volrun",
		slog.String("cmd", "run"),
		slog.String("run_id", uuid.NewString()),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)
	return service.Run(ctx, config, args)
}

func initVolrun(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("VOLRUNCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, "volrun.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "volrun.yaml")
		err := os.MkdirAll(filepath.Dir(configPath), 0o755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		err = enc.Encode(config)
		if err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("config validation", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	// flags have precedence over the config file
	if flagVerbose {
		config.Verbose = true
	}
	if flagInvocation != "" {
		config.Invocation = flagInvocation
	}
	if flagPluginsFile != "" {
		config.Plugins = flagPluginsFile
	}
	if flagProfile != "" {
		config.Profile = flagProfile
	}
	if flagKDBG != "" {
		config.KDBG = flagKDBG
	}
	if flagOutput != "" {
		config.Output = flagOutput
	}
	if flagDump {
		config.Dump = true
	}
	if flagWorkers > 0 {
		config.Workers = flagWorkers
	}

	// initialize logging
	slog.SetDefault(log.New(config.Verbose))

	slog.Debug("volrun run", "configPath", configPath)
	slog.Debug("volrun run", "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
