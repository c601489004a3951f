package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdxmph/goopho/pkg/duplicate"
	"github.com/pdxmph/goopho/pkg/kitty"
	"github.com/pdxmph/goopho/pkg/media"
	"github.com/pdxmph/goopho/pkg/phash"
	"github.com/pdxmph/goopho/pkg/protocol"
	"github.com/pdxmph/goopho/pkg/store"
	"github.com/pdxmph/goopho/pkg/thumbnail"
)

var (
	// Query flags
	findDistance int
	findHash     string
	findJSON     bool
	thumbShow    bool
	thumbOut     string
	pruneDryRun  bool
	statsJSON    bool
	statsVacuum  bool
)

func createCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check [url] [mtime]",
		Short: "Show whether a remote item was synced",
		Long: `Show whether (url, mtime) is recorded. Without an mtime, list every
recorded modification time of the url. Times are RFC 3339.`,
		Args: cobra.RangeArgs(1, 2),
		Run:  checkCommand,
	}
}

func createFindCommand() *cobra.Command {
	findCmd := &cobra.Command{
		Use:   "find [image]",
		Short: "List stored images near an image or hash",
		Args:  cobra.MaximumNArgs(1),
		Run:   findCommand,
	}
	findCmd.Flags().IntVarP(&findDistance, "distance", "d", -1, "Maximum distance in bits (default from config)")
	findCmd.Flags().StringVar(&findHash, "hash", "", "Query by a 16-digit hex dhash instead of an image")
	findCmd.Flags().BoolVar(&findJSON, "json", false, "Output JSON")
	return findCmd
}

func createThumbCommand() *cobra.Command {
	thumbCmd := &cobra.Command{
		Use:   "thumb [item-id]",
		Short: "Print the stored thumbnail of an item",
		Args:  cobra.ExactArgs(1),
		Run:   thumbCommand,
	}
	thumbCmd.Flags().BoolVar(&thumbShow, "show", false, "Draw the thumbnail inline (kitty terminals)")
	thumbCmd.Flags().StringVarP(&thumbOut, "output", "o", "", "Write the decoded image to a file")
	return thumbCmd
}

func createForgetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forget [url] [mtime]",
		Short: "Drop the sync record of an item so the next run fetches it again",
		Args:  cobra.ExactArgs(2),
		Run:   forgetCommand,
	}
}

func createPruneCommand() *cobra.Command {
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop hash entries whose item was forgotten",
		Args:  cobra.NoArgs,
		Run:   pruneCommand,
	}
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "List orphaned entries without deleting them")
	return pruneCmd
}

func createStatsCommand() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store counters",
		Args:  cobra.NoArgs,
		Run:   statsCommand,
	}
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output JSON")
	statsCmd.Flags().BoolVar(&statsVacuum, "vacuum", false, "Compact the database first")
	return statsCmd
}

func parseMTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid mtime %q: want RFC 3339, e.g. 2024-05-01T08:00:00Z", s)
	}
	return t, nil
}

func checkCommand(cmd *cobra.Command, args []string) {
	_, s, err := openStore()
	if err != nil {
		fail("Error: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if len(args) == 1 {
		records, err := s.FindByURL(ctx, args[0])
		if err != nil {
			s.Close()
			fail("Error: %v", err)
		}
		if len(records) == 0 {
			fmt.Println("not synced")
			return
		}
		for _, r := range records {
			fmt.Printf("item %d  mtime %s  synced %s\n", r.ID, r.MTime.Format(time.RFC3339Nano), r.Inserted.Format(time.RFC3339))
		}
		return
	}

	mtime, err := parseMTime(args[1])
	if err != nil {
		s.Close()
		fail("Error: %v", err)
	}
	id, ok, err := s.Lookup(ctx, mtime, args[0])
	if err != nil {
		s.Close()
		fail("Error: %v", err)
	}
	if !ok {
		fmt.Println("not synced")
		return
	}
	fmt.Printf("synced (item %d)\n", id)
}

func findCommand(cmd *cobra.Command, args []string) {
	if err := find(cmd, args); err != nil {
		fail("Error: %v", err)
	}
}

func find(cmd *cobra.Command, args []string) error {
	var hash uint64
	switch {
	case findHash != "" && len(args) == 0:
		h, err := phash.Parse(findHash)
		if err != nil {
			return err
		}
		hash = h
	case findHash == "" && len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		_, img, err := media.Decode(data)
		if err != nil {
			return err
		}
		if hash, err = phash.Compute(img); err != nil {
			return err
		}
	default:
		return fmt.Errorf("give either an image or --hash")
	}

	cfg, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	maxDistance := cfg.Dedup.MaxDistance
	if cmd.Flags().Changed("distance") {
		maxDistance = findDistance
	}

	matches, err := protocol.NearMatches(context.Background(), s, duplicate.NewIndex(s), hash, maxDistance)
	if err != nil {
		return err
	}

	if findJSON {
		out, err := json.MarshalIndent(protocol.FindNearResponse{Matches: matches}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Fprintf(os.Stderr, "dhash %s, %d matches within %d bits\n", phash.Format(hash), len(matches), maxDistance)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tDIST\tDHASH\tURL\tMTIME")
	for _, m := range matches {
		url, mtime := m.URL, ""
		if url == "" {
			url = "(forgotten)"
		} else {
			mtime = m.MTime.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", m.ItemID, m.Distance, m.DHash, url, mtime)
	}
	return w.Flush()
}

func thumbCommand(cmd *cobra.Command, args []string) {
	if err := thumb(args[0]); err != nil {
		fail("Error: %v", err)
	}
}

func thumb(arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid item id %q", arg)
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	encoded, ok, err := thumbnail.NewCache(s).Get(context.Background(), store.ItemID(id))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no thumbnail for item %d", id)
	}

	if thumbOut != "" {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("stored thumbnail is corrupt: %w", err)
		}
		return os.WriteFile(thumbOut, data, 0644)
	}

	if thumbShow {
		if !kitty.IsKittyTerminal() {
			return fmt.Errorf("--show needs a kitty terminal")
		}
		return kitty.NewImageDisplay(os.Stdout).DisplayThumbnail(encoded)
	}

	fmt.Println(encoded)
	return nil
}

func forgetCommand(cmd *cobra.Command, args []string) {
	mtime, err := parseMTime(args[1])
	if err != nil {
		fail("Error: %v", err)
	}

	_, s, err := openStore()
	if err != nil {
		fail("Error: %v", err)
	}
	defer s.Close()

	ok, err := s.Forget(context.Background(), mtime, args[0])
	if err != nil {
		s.Close()
		fail("Error: %v", err)
	}
	if !ok {
		fmt.Println("not synced, nothing to forget")
		return
	}
	fmt.Println("forgotten")
}

func pruneCommand(cmd *cobra.Command, args []string) {
	_, s, err := openStore()
	if err != nil {
		fail("Error: %v", err)
	}
	defer s.Close()

	index := duplicate.NewIndex(s)
	ctx := context.Background()

	if pruneDryRun {
		orphans, err := index.Orphans(ctx)
		if err != nil {
			s.Close()
			fail("Error: %v", err)
		}
		for _, o := range orphans {
			fmt.Printf("item %d  dhash %s  inserted %s\n", o.ID, phash.Format(o.Hash), o.Inserted.Format(time.RFC3339))
		}
		fmt.Printf("%d orphaned entries\n", len(orphans))
		return
	}

	n, err := index.PruneOrphans(ctx)
	if err != nil {
		s.Close()
		fail("Error: %v", err)
	}
	fmt.Printf("pruned %d entries\n", n)
}

func statsCommand(cmd *cobra.Command, args []string) {
	_, s, err := openStore()
	if err != nil {
		fail("Error: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if statsVacuum {
		if err := s.Vacuum(ctx); err != nil {
			s.Close()
			fail("Error: %v", err)
		}
	}

	st, err := s.Stats(ctx)
	if err != nil {
		s.Close()
		fail("Error: %v", err)
	}

	if statsJSON {
		out, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Printf("Database:   %s\n", s.Path())
	fmt.Printf("SQLite:     %s\n", st.SQLiteVersion)
	fmt.Printf("Size:       %d bytes\n", st.FileSizeBytes)
	fmt.Printf("Images:     %d\n", st.Images)
	fmt.Printf("Hashes:     %d (%d orphaned)\n", st.Hashes, st.OrphanHashes)
	fmt.Printf("Thumbnails: %d\n", st.Thumbnails)
	if !st.OldestMTime.IsZero() {
		fmt.Printf("Oldest:     %s\n", st.OldestMTime.Format(time.RFC3339))
	}
	if !st.NewestMTime.IsZero() {
		fmt.Printf("Newest:     %s\n", st.NewestMTime.Format(time.RFC3339))
	}
}
