package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pdxmph/goopho/pkg/config"
	"github.com/pdxmph/goopho/pkg/types"
)

func TestLoadManifest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
		items   int
	}{
		{
			name:  "valid",
			input: `{"items":[{"url":"https://e/1","mtime":"2024-05-01T08:00:00Z","path":"/tmp/1.jpg"}],"options":{"dry_run":true}}`,
			items: 1,
		},
		{name: "not json", input: `items:`, wantErr: "failed to parse manifest"},
		{name: "missing items", input: `{}`, wantErr: "invalid manifest"},
		{
			name:    "missing url",
			input:   `{"items":[{"mtime":"2024-05-01T08:00:00Z","path":"/tmp/1.jpg"}]}`,
			wantErr: "invalid manifest",
		},
		{
			name:    "missing path",
			input:   `{"items":[{"url":"u","mtime":"2024-05-01T08:00:00Z"}]}`,
			wantErr: "invalid manifest",
		},
		{
			name:    "missing mtime",
			input:   `{"items":[{"url":"u","path":"p"}]}`,
			wantErr: "has no mtime",
		},
		{
			name:    "distance out of range",
			input:   `{"items":[],"options":{"max_distance":65}}`,
			wantErr: "invalid manifest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := loadManifest(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadManifest error: %v", err)
			}
			if len(m.Items) != tt.items {
				t.Errorf("got %d items, want %d", len(m.Items), tt.items)
			}
		})
	}
}

func TestScanDir_NewestFirst(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	files := []struct {
		name string
		age  time.Duration
	}{
		{"old.jpg", 3 * time.Hour},
		{"new.jpg", 0},
		{"sub/mid.png", time.Hour},
		{".hidden", 0},
		{".cache/skip.jpg", 0},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		mtime := base.Add(-f.age)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	items, err := scanDir(dir)
	if err != nil {
		t.Fatalf("scanDir error: %v", err)
	}

	var names []string
	for _, item := range items {
		names = append(names, filepath.Base(item.Path))
		if !strings.HasPrefix(item.URL, "file://") {
			t.Errorf("url %q is not a file URL", item.URL)
		}
	}
	want := []string{"new.jpg", "mid.png", "old.jpg"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", names, want)
	}
	if !items[0].MTime.Equal(base) {
		t.Errorf("mtime = %v, want %v", items[0].MTime, base)
	}
}

func TestRunOptions_Layering(t *testing.T) {
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadFrom error: %v", err)
	}
	three := 3

	tests := []struct {
		name     string
		args     []string
		manifest *types.SyncOptions
		check    func(t *testing.T, dryRun, stop bool, maxDistance, workers int)
	}{
		{
			name: "config only",
			check: func(t *testing.T, dryRun, stop bool, maxDistance, workers int) {
				if dryRun || stop || maxDistance != cfg.Dedup.MaxDistance || workers != cfg.Sync.Workers {
					t.Errorf("got dry %v stop %v dist %d workers %d", dryRun, stop, maxDistance, workers)
				}
			},
		},
		{
			name:     "manifest over config",
			manifest: &types.SyncOptions{DryRun: true, MaxDistance: &three, Workers: 2},
			check: func(t *testing.T, dryRun, stop bool, maxDistance, workers int) {
				if !dryRun || maxDistance != 3 || workers != 2 {
					t.Errorf("got dry %v dist %d workers %d", dryRun, maxDistance, workers)
				}
			},
		},
		{
			name:     "flags over manifest",
			args:     []string{"--dry-run=false", "-d", "7", "--workers", "6", "--stop-at-synced"},
			manifest: &types.SyncOptions{DryRun: true, MaxDistance: &three},
			check: func(t *testing.T, dryRun, stop bool, maxDistance, workers int) {
				if dryRun || !stop || maxDistance != 7 || workers != 6 {
					t.Errorf("got dry %v stop %v dist %d workers %d", dryRun, stop, maxDistance, workers)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := createSyncCommand()
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags error: %v", err)
			}
			opts := runOptions(cmd, cfg, tt.manifest)
			tt.check(t, opts.DryRun, opts.StopAtSynced, opts.MaxDistance, opts.Workers)
		})
	}
}

func TestActionList(t *testing.T) {
	var a actionList
	if !a.Match("skipped") {
		t.Error("empty filter should match everything")
	}

	if err := a.Set("Accepted, duplicate,"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if a.String() != "accepted,duplicate" {
		t.Errorf("String() = %q", a.String())
	}
	if !a.Match("duplicate") || a.Match("skipped") {
		t.Errorf("Match wrong for %v", a)
	}

	if err := a.Set("uploaded"); err == nil {
		t.Error("unknown action should be rejected")
	}
}
