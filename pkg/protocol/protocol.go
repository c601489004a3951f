// Package protocol lets an external downloader drive the store over
// newline-delimited JSON on stdin/stdout.
package protocol

import (
	"time"

	"github.com/pdxmph/goopho/pkg/types"
)

// Message types
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
	TypeError    = "error"
)

// Commands
const (
	CmdHasSynced = "has_synced" // is (mtime, url) recorded?
	CmdProcess   = "process"    // decide a batch of fetched candidates
	CmdCancel    = "cancel"     // stop a running process batch
	CmdFindNear  = "find_near"  // stored hashes near a query hash
	CmdThumbnail = "thumbnail"  // cached thumbnail of an item
	CmdForget    = "forget"     // drop a sync-state record
	CmdPrune     = "prune"      // drop hash entries of forgotten items
	CmdStats     = "stats"      // store counters
)

// Event types
const (
	EventDecision = "decision"
)

// Error codes
const (
	CodeParse          = "PARSE_ERROR"
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeRunNotFound    = "RUN_NOT_FOUND"
	CodeNotFound       = "NOT_FOUND"
	CodeStorage        = "STORAGE_ERROR"
)

// Message wraps all communication
type Message struct {
	Type    string      `json:"type"`              // request, response, event, error
	Command string      `json:"command,omitempty"` // request command or event type
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	ID      string      `json:"id,omitempty"`
}

// ErrorBody - Error payload for any command
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ItemKey identifies a remote item.
type ItemKey struct {
	URL   string    `json:"url"`
	MTime time.Time `json:"mtime"`
}

// HasSyncedResponse answers has_synced.
type HasSyncedResponse struct {
	Synced bool  `json:"synced"`
	ItemID int64 `json:"item_id,omitempty"`
}

// ProcessItem is one candidate. The bytes come either inline or from a
// local file the downloader wrote.
type ProcessItem struct {
	URL   string    `json:"url"`
	MTime time.Time `json:"mtime"`
	Path  string    `json:"path,omitempty"`
	Data  []byte    `json:"data,omitempty"` // base64 in JSON
}

// ProcessRequest - batch of candidates, newest first
type ProcessRequest struct {
	Items        []ProcessItem `json:"items"`
	DryRun       bool          `json:"dry_run,omitempty"`
	StopAtSynced bool          `json:"stop_at_synced,omitempty"`
}

// DecisionEvent - one decision of a running batch
type DecisionEvent struct {
	RunID    string               `json:"run_id"`
	Decision types.DecisionResult `json:"decision"`
}

// CancelRequest - Cancel an in-progress batch
type CancelRequest struct {
	RunID string `json:"run_id"`
}

// CancelResponse answers cancel once the batch has been told to stop. The
// batch still sends its own response with the decisions made so far.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// FindNearRequest asks for stored hashes near DHash (16 hex digits).
type FindNearRequest struct {
	DHash       string `json:"dhash"`
	MaxDistance *int   `json:"max_distance,omitempty"`
}

// FindNearResponse lists matches nearest first.
type FindNearResponse struct {
	Matches []types.NearMatch `json:"matches"`
}

// ThumbnailRequest asks for the thumbnail of an item.
type ThumbnailRequest struct {
	ItemID int64 `json:"item_id"`
}

// ThumbnailResponse carries a cached thumbnail.
type ThumbnailResponse struct {
	ItemID int64  `json:"item_id"`
	Base64 string `json:"base64"`
	Format string `json:"format"`
}

// ForgetResponse answers forget.
type ForgetResponse struct {
	Forgotten bool `json:"forgotten"`
}

// PruneResponse answers prune.
type PruneResponse struct {
	Pruned int64 `json:"pruned"`
}
