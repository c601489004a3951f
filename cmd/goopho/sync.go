package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator"
	"github.com/spf13/cobra"

	"github.com/pdxmph/goopho/pkg/config"
	"github.com/pdxmph/goopho/pkg/media"
	"github.com/pdxmph/goopho/pkg/pipeline"
	"github.com/pdxmph/goopho/pkg/templates"
	"github.com/pdxmph/goopho/pkg/types"
)

var (
	// Sync and index flags
	syncFormat       string
	syncJSON         bool
	syncDryRun       bool
	syncStopAtSynced bool
	syncWorkers      int
	syncNoDedup      bool
	syncMaxDistance  int
	syncOnly         actionList
)

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&syncFormat, "format", "text", "Output template: text, tsv, markdown, json, org or a custom template name")
	cmd.Flags().BoolVar(&syncJSON, "json", false, "Print the full run report as JSON")
	cmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Decide without writing anything")
	cmd.Flags().BoolVar(&syncStopAtSynced, "stop-at-synced", false, "Stop at the first item already synced (items must be newest first)")
	cmd.Flags().IntVarP(&syncWorkers, "workers", "w", 0, "Parallel workers (default from config)")
	cmd.Flags().BoolVar(&syncNoDedup, "no-dedup", false, "Accept every image without near-duplicate checks")
	cmd.Flags().IntVarP(&syncMaxDistance, "distance", "d", -1, "Near-duplicate threshold in bits (default from config)")
	cmd.Flags().Var(&syncOnly, "only", "Only print these actions, e.g. accepted,duplicate")
}

// createSyncCommand creates the sync command
func createSyncCommand() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync [manifest.json]",
		Short: "Decide a batch of downloaded items",
		Long: `Decide every item of a sync manifest: a JSON document listing the remote
url, remote modification time and local file of each candidate, newest first.
Use - to read the manifest from stdin.`,
		Args: cobra.ExactArgs(1),
		Run:  syncCommand,
	}
	addRunFlags(syncCmd)
	return syncCmd
}

// createIndexCommand creates the index command
func createIndexCommand() *cobra.Command {
	indexCmd := &cobra.Command{
		Use:   "index [dir]",
		Short: "Decide every file under a local directory",
		Long: `Walk a directory and decide each file as if it had just been downloaded.
The file URL and modification time identify each item.`,
		Args: cobra.ExactArgs(1),
		Run:  indexCommand,
	}
	addRunFlags(indexCmd)
	return indexCmd
}

func syncCommand(cmd *cobra.Command, args []string) {
	var r io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			fail("Error: %v", err)
		}
		defer f.Close()
		r = f
	}

	manifest, err := loadManifest(r)
	if err != nil {
		fail("Error: %v", err)
	}

	candidates := make([]pipeline.Candidate, 0, len(manifest.Items))
	for _, item := range manifest.Items {
		candidates = append(candidates, fileCandidate(item))
	}

	if err := runCandidates(cmd, candidates, manifest.Options); err != nil {
		fail("Error: %v", err)
	}
}

func indexCommand(cmd *cobra.Command, args []string) {
	items, err := scanDir(args[0])
	if err != nil {
		fail("Error: %v", err)
	}
	slog.Debug("scanned directory", "dir", args[0], "files", len(items))

	candidates := make([]pipeline.Candidate, 0, len(items))
	for _, item := range items {
		candidates = append(candidates, fileCandidate(item))
	}

	if err := runCandidates(cmd, candidates, nil); err != nil {
		fail("Error: %v", err)
	}
}

// loadManifest decodes and validates a sync manifest.
func loadManifest(r io.Reader) (*types.SyncManifest, error) {
	var manifest types.SyncManifest
	if err := json.NewDecoder(r).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := validator.New().Struct(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	for i, item := range manifest.Items {
		if item.MTime.IsZero() {
			return nil, fmt.Errorf("invalid manifest: item %d (%s) has no mtime", i, item.URL)
		}
	}
	return &manifest, nil
}

// scanDir lists the regular files under dir as manifest items keyed by
// their file URL, newest first.
func scanDir(dir string) ([]types.ManifestItem, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	var items []types.ManifestItem
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		items = append(items, types.ManifestItem{
			URL:   "file://" + filepath.ToSlash(path),
			MTime: info.ModTime().UTC(),
			Path:  path,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].MTime.Equal(items[j].MTime) {
			return items[i].MTime.After(items[j].MTime)
		}
		return items[i].URL < items[j].URL
	})
	return items, nil
}

func fileCandidate(item types.ManifestItem) pipeline.Candidate {
	path := item.Path
	return pipeline.Candidate{
		URL:   item.URL,
		MTime: item.MTime,
		Fetch: func(context.Context) ([]byte, error) {
			blob, err := media.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return blob.Data, nil
		},
	}
}

// runOptions layers manifest options and then flags over the config.
func runOptions(cmd *cobra.Command, cfg *config.Config, manifest *types.SyncOptions) pipeline.Options {
	opts := cfg.PipelineOptions()
	opts.Logger = slog.Default()

	if manifest != nil {
		opts.DryRun = manifest.DryRun
		opts.StopAtSynced = opts.StopAtSynced || manifest.StopAtSynced
		if manifest.MaxDistance != nil {
			opts.MaxDistance = *manifest.MaxDistance
		}
		if manifest.Workers > 0 {
			opts.Workers = manifest.Workers
		}
	}

	flags := cmd.Flags()
	if flags.Changed("dry-run") {
		opts.DryRun = syncDryRun
	}
	if flags.Changed("stop-at-synced") {
		opts.StopAtSynced = syncStopAtSynced
	}
	if flags.Changed("workers") && syncWorkers > 0 {
		opts.Workers = syncWorkers
	}
	if flags.Changed("no-dedup") {
		opts.DisableDedup = syncNoDedup
	}
	if flags.Changed("distance") && syncMaxDistance >= 0 {
		opts.MaxDistance = syncMaxDistance
	}
	return opts
}

func runCandidates(cmd *cobra.Command, candidates []pipeline.Candidate, manifest *types.SyncOptions) error {
	cfg, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	tmpl, ok := cfg.Templates[syncFormat]
	if !ok && !syncJSON {
		return fmt.Errorf("unknown format %q", syncFormat)
	}

	ctx, cancel := signalContext()
	defer cancel()

	processor := pipeline.New(s, runOptions(cmd, cfg, manifest))

	var emit pipeline.EmitFunc
	if !syncJSON {
		emit = func(_ string, d *pipeline.Decision) {
			r := d.Result()
			if syncOnly.Match(r.Action) {
				fmt.Println(templates.Process(tmpl, templates.BuildVariables(r)))
			}
		}
	}

	report, runErr := processor.Run(ctx, candidates, emit)

	if syncJSON {
		resp := report.Response(runErr)
		if len(syncOnly) > 0 {
			kept := resp.Decisions[:0]
			for _, d := range resp.Decisions {
				if syncOnly.Match(d.Action) {
					kept = append(kept, d)
				}
			}
			resp.Decisions = kept
		}
		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		fmt.Println(string(out))
		return runErr
	}

	sum := report.Summary()
	prefix := ""
	if sum.DryRun {
		prefix = "[dry run] "
	}
	fmt.Fprintf(os.Stderr, "%s%d items: %d accepted, %d duplicate, %d already synced, %d opaque, %d skipped",
		prefix, sum.Total, sum.Accepted, sum.Duplicate, sum.AlreadySynced, sum.Opaque, sum.Skipped)
	if sum.Stopped {
		fmt.Fprint(os.Stderr, " (stopped at first synced item)")
	}
	fmt.Fprintln(os.Stderr)
	return runErr
}
