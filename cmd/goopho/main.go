package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdxmph/goopho/pkg/config"
	"github.com/pdxmph/goopho/pkg/protocol"
	"github.com/pdxmph/goopho/pkg/store"
)

var (
	// Version information (set by ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// Global flags
	configPath string
	dbPath     string
	debug      bool
)

func main() {
	var showVersion bool

	rootCmd := &cobra.Command{
		Use:   "goopho",
		Short: "Sync state and near-duplicate detection for photo downloads",
		Long: `goopho - remembers which remote media items a downloader has already
fetched and flags near-duplicate images by perceptual hash, keeping a small
thumbnail of every accepted image.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			// Show help if no subcommand is provided
			return cmd.Help()
		},
	}

	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "version for goopho")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/goopho/config.json)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database file (overrides store.path)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", os.Getenv("GOOPHO_DEBUG") != "", "Debug logging on stderr")

	// Config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Show configuration",
		Run:   configShowCommand,
	}

	configSetCmd := &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		Run:   configSetCommand,
	}

	configCmd.AddCommand(configShowCmd, configSetCmd)

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer downloader requests as JSON lines on stdin/stdout",
		Args:  cobra.NoArgs,
		Run:   serveCommand,
	}

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}

	// Add commands to root
	rootCmd.AddCommand(
		createSyncCommand(),
		createIndexCommand(),
		createCheckCommand(),
		createFindCommand(),
		createThumbCommand(),
		createForgetCommand(),
		createPruneCommand(),
		createStatsCommand(),
		serveCmd,
		configCmd,
		versionCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("goopho version %s\n", version)
	if version != "dev" {
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	}
}

// setupLogging sends structured logs to stderr so stdout stays clean for
// JSON output and the serve protocol.
func setupLogging() {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	return cfg, nil
}

// openStore loads the config and opens the database it names.
func openStore() (*config.Config, *store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	slog.Debug("opened store", "path", s.Path())
	return cfg, s, nil
}

// signalContext is cancelled on interrupt or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func serveCommand(cmd *cobra.Command, args []string) {
	cfg, s, err := openStore()
	if err != nil {
		fail("Error: %v", err)
	}
	defer s.Close()

	opts := cfg.PipelineOptions()
	opts.Logger = slog.Default()
	server := protocol.NewServer(os.Stdin, os.Stdout, s, opts)

	// Handle graceful shutdown
	ctx, cancel := signalContext()
	defer cancel()

	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		s.Close()
		fail("Server error: %v", err)
	}
}

func configShowCommand(cmd *cobra.Command, args []string) {
	if err := configShow(); err != nil {
		fail("Error: %v", err)
	}
}

func configSetCommand(cmd *cobra.Command, args []string) {
	if err := configSet(args[0], args[1]); err != nil {
		fail("Error: %v", err)
	}
}

func configShow() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	path := configPath
	if path == "" {
		path = config.Path()
	}
	fmt.Printf("Config file: %s\n\n", path)

	fmt.Println("Store:")
	fmt.Printf("  path: %s\n", cfg.Store.Path)
	fmt.Println("\nDedup:")
	fmt.Printf("  enabled:      %v\n", cfg.Dedup.Enabled)
	fmt.Printf("  max_distance: %d\n", cfg.Dedup.MaxDistance)
	fmt.Println("\nThumbnail:")
	fmt.Printf("  max_dimension:   %d\n", cfg.Thumbnail.MaxDimension)
	fmt.Printf("  max_encoded_len: %d\n", cfg.Thumbnail.MaxEncodedLen)
	fmt.Printf("  quality:         %d\n", cfg.Thumbnail.Quality)
	fmt.Println("\nSync:")
	fmt.Printf("  workers:        %d\n", cfg.Sync.Workers)
	fmt.Printf("  stop_at_synced: %v\n", cfg.Sync.StopAtSynced)

	fmt.Println("\nTemplates:")
	names := make([]string, 0, len(cfg.Templates))
	for name := range cfg.Templates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		quoted, _ := json.Marshal(cfg.Templates[name])
		fmt.Printf("  %s: %s\n", name, quoted)
	}

	return nil
}

func configSet(key, value string) error {
	path := configPath
	if path == "" {
		path = config.Path()
	}
	if _, err := config.Set(path, key, value); err != nil {
		return err
	}
	fmt.Printf("Set %s\n", key)
	return nil
}
