package types

import "time"

// SyncManifest represents the JSON input for a batch sync: candidates the
// downloader has already fetched to local files, newest first.
type SyncManifest struct {
	Items   []ManifestItem `json:"items" validate:"required,dive"`
	Options *SyncOptions   `json:"options,omitempty"`
}

// ManifestItem represents a single remote item in the batch
type ManifestItem struct {
	URL   string    `json:"url" validate:"required"`
	MTime time.Time `json:"mtime"`
	Path  string    `json:"path" validate:"required"` // local copy of the fetched bytes
}

// SyncOptions controls run behavior
type SyncOptions struct {
	DryRun       bool `json:"dry_run,omitempty"`
	StopAtSynced bool `json:"stop_at_synced,omitempty"`
	MaxDistance  *int `json:"max_distance,omitempty" validate:"omitempty,min=0,max=64"`
	Workers      int  `json:"workers,omitempty" validate:"min=0,max=64"`
}

// SyncResponse represents the JSON output from a batch sync
type SyncResponse struct {
	Success   bool             `json:"success"`
	RunID     string           `json:"run_id"`
	Decisions []DecisionResult `json:"decisions"`
	Summary   RunSummary       `json:"summary"`
	Error     *string          `json:"error"`
}

// DecisionResult represents the outcome for a single candidate
type DecisionResult struct {
	URL         string    `json:"url"`
	MTime       time.Time `json:"mtime"`
	Action      string    `json:"action"` // accepted, duplicate, already_synced, opaque, skipped
	ItemID      int64     `json:"item_id,omitempty"`
	CanonicalID int64     `json:"canonical_id,omitempty"`
	Distance    *int      `json:"distance,omitempty"`
	DHash       string    `json:"dhash,omitempty"`
	Digest      string    `json:"md5,omitempty"`
	Format      string    `json:"format,omitempty"`
	Thumbnail   bool      `json:"thumbnail"`
	Error       *string   `json:"error"`
}

// RunSummary counts decisions by action
type RunSummary struct {
	Total         int  `json:"total"`
	Accepted      int  `json:"accepted"`
	Duplicate     int  `json:"duplicate"`
	AlreadySynced int  `json:"already_synced"`
	Opaque        int  `json:"opaque"`
	Skipped       int  `json:"skipped"`
	Stopped       bool `json:"stopped"` // early exit at the first synced item
	DryRun        bool `json:"dry_run,omitempty"`
}

// NearMatch represents one stored image close to a query hash
type NearMatch struct {
	ItemID   int64     `json:"item_id"`
	DHash    string    `json:"dhash"`
	Distance int       `json:"distance"`
	Inserted time.Time `json:"inserted"`
	URL      string    `json:"url,omitempty"`   // empty when the image row was forgotten
	MTime    time.Time `json:"mtime,omitempty"` // zero when the image row was forgotten
}
