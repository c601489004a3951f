package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/pdxmph/goopho/pkg/duplicate"
	"github.com/pdxmph/goopho/pkg/phash"
	"github.com/pdxmph/goopho/pkg/pipeline"
	"github.com/pdxmph/goopho/pkg/store"
	"github.com/pdxmph/goopho/pkg/thumbnail"
	"github.com/pdxmph/goopho/pkg/types"
)

// Server handles downloader protocol communication
type Server struct {
	input  io.Reader
	output io.Writer

	mu      sync.Mutex // guards encoder
	encoder *json.Encoder

	store  *store.Store
	index  *duplicate.Index
	thumbs *thumbnail.Cache
	opts   pipeline.Options
	log    *slog.Logger

	// Run management
	runs sync.Map // runID -> *run
	wg   sync.WaitGroup
}

// run is an in-flight process batch
type run struct {
	ID     string
	Cancel context.CancelFunc
}

// NewServer creates a new protocol server
func NewServer(input io.Reader, output io.Writer, s *store.Store, opts pipeline.Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		input:   input,
		output:  output,
		encoder: json.NewEncoder(output),
		store:   s,
		index:   duplicate.NewIndex(s),
		thumbs:  thumbnail.NewCache(s),
		opts:    opts,
		log:     logger.With("component", "protocol"),
	}
}

// Run starts the server loop. It returns at end of input once every
// batch it started has finished.
func (s *Server) Run(ctx context.Context) error {
	defer s.wg.Wait()

	decoder := json.NewDecoder(s.input)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			var msg Message
			if err := decoder.Decode(&msg); err != nil {
				if err == io.EOF {
					return nil
				}
				s.sendError("", fmt.Sprintf("Invalid JSON: %v", err), CodeParse)
				// The decoder cannot resync after a syntax error.
				var syntaxErr *json.SyntaxError
				if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
					return nil
				}
				continue
			}

			s.handleMessage(ctx, &msg)
		}
	}
}

// handleMessage routes messages to appropriate handlers
func (s *Server) handleMessage(ctx context.Context, msg *Message) {
	s.log.Debug("request", "id", msg.ID, "command", msg.Command)

	switch msg.Command {
	case CmdHasSynced:
		s.handleHasSynced(ctx, msg)
	case CmdProcess:
		s.handleProcess(ctx, msg)
	case CmdCancel:
		s.handleCancel(msg)
	case CmdFindNear:
		s.handleFindNear(ctx, msg)
	case CmdThumbnail:
		s.handleThumbnail(ctx, msg)
	case CmdForget:
		s.handleForget(ctx, msg)
	case CmdPrune:
		s.handlePrune(ctx, msg)
	case CmdStats:
		s.handleStats(ctx, msg)
	default:
		s.sendError(msg.ID, fmt.Sprintf("Unknown command: %s", msg.Command), CodeUnknownCommand)
	}
}

func (s *Server) handleHasSynced(ctx context.Context, msg *Message) {
	var req ItemKey
	if err := decodeData(msg.Data, &req); err != nil || req.URL == "" {
		s.sendError(msg.ID, "Invalid has_synced request", CodeInvalidRequest)
		return
	}

	id, ok, err := s.store.Lookup(ctx, req.MTime, req.URL)
	if err != nil {
		s.sendStorageError(msg.ID, err)
		return
	}
	s.sendResponse(msg.ID, HasSyncedResponse{Synced: ok, ItemID: int64(id)})
}

// handleProcess starts a batch in the background. Decisions stream back as
// events tagged with the run id; the final report is the response.
func (s *Server) handleProcess(ctx context.Context, msg *Message) {
	var req ProcessRequest
	if err := decodeData(msg.Data, &req); err != nil {
		s.sendError(msg.ID, "Invalid process request", CodeInvalidRequest)
		return
	}
	for i, item := range req.Items {
		if item.URL == "" || item.MTime.IsZero() || (item.Path == "" && len(item.Data) == 0) {
			s.sendError(msg.ID, fmt.Sprintf("Item %d needs a url, an mtime and either path or data", i), CodeInvalidRequest)
			return
		}
	}

	opts := s.opts
	opts.DryRun = opts.DryRun || req.DryRun
	opts.StopAtSynced = opts.StopAtSynced || req.StopAtSynced
	processor := pipeline.New(s.store, opts)

	candidates := make([]pipeline.Candidate, 0, len(req.Items))
	for _, item := range req.Items {
		candidates = append(candidates, candidate(item))
	}

	// Create cancellable context
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{ID: uuid.New().String(), Cancel: cancel}
	s.runs.Store(r.ID, r)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer s.runs.Delete(r.ID)
		s.performProcess(runCtx, r, processor, candidates, msg.ID)
	}()
}

func (s *Server) performProcess(ctx context.Context, r *run, p *pipeline.Processor, candidates []pipeline.Candidate, messageID string) {
	report, err := p.RunWithID(ctx, r.ID, candidates, func(runID string, d *pipeline.Decision) {
		s.sendEvent(EventDecision, DecisionEvent{RunID: runID, Decision: d.Result()})
	})
	s.sendResponse(messageID, report.Response(err))
}

func candidate(item ProcessItem) pipeline.Candidate {
	c := pipeline.Candidate{URL: item.URL, MTime: item.MTime}
	if len(item.Data) > 0 {
		data := item.Data
		c.Fetch = func(context.Context) ([]byte, error) { return data, nil }
	} else {
		path := item.Path
		c.Fetch = func(context.Context) ([]byte, error) { return os.ReadFile(path) }
	}
	return c
}

// handleCancel cancels an in-progress batch
func (s *Server) handleCancel(msg *Message) {
	var req CancelRequest
	if err := decodeData(msg.Data, &req); err != nil {
		s.sendError(msg.ID, "Invalid cancel request", CodeInvalidRequest)
		return
	}

	runData, ok := s.runs.Load(req.RunID)
	if !ok {
		s.sendError(msg.ID, "Run not found", CodeRunNotFound)
		return
	}

	r := runData.(*run)
	if r.Cancel != nil {
		r.Cancel()
	}
	s.runs.Delete(req.RunID)
	s.log.Info("run cancelled", "run", req.RunID)
	s.sendResponse(msg.ID, CancelResponse{Cancelled: true})
}

func (s *Server) handleFindNear(ctx context.Context, msg *Message) {
	var req FindNearRequest
	if err := decodeData(msg.Data, &req); err != nil {
		s.sendError(msg.ID, "Invalid find_near request", CodeInvalidRequest)
		return
	}
	hash, err := phash.Parse(req.DHash)
	if err != nil {
		s.sendError(msg.ID, err.Error(), CodeInvalidRequest)
		return
	}
	maxDistance := s.opts.MaxDistance
	if req.MaxDistance != nil {
		maxDistance = *req.MaxDistance
	}
	if maxDistance < 0 {
		s.sendError(msg.ID, "max_distance must not be negative", CodeInvalidRequest)
		return
	}

	matches, err := NearMatches(ctx, s.store, s.index, hash, maxDistance)
	if err != nil {
		s.sendStorageError(msg.ID, err)
		return
	}
	s.sendResponse(msg.ID, FindNearResponse{Matches: matches})
}

// NearMatches runs a near-duplicate query and joins each match with its
// image row, if that still exists.
func NearMatches(ctx context.Context, st *store.Store, ix *duplicate.Index, hash uint64, maxDistance int) ([]types.NearMatch, error) {
	cursor, err := ix.FindNear(ctx, hash, maxDistance)
	if err != nil {
		return nil, err
	}
	// Drain before the lookups so the cursor's connection is released.
	found, err := cursor.All()
	if err != nil {
		return nil, err
	}

	matches := make([]types.NearMatch, 0, len(found))
	for _, m := range found {
		nm := types.NearMatch{
			ItemID:   int64(m.ID),
			DHash:    phash.Format(m.Hash),
			Distance: m.Distance,
			Inserted: m.Inserted,
		}
		rec, err := st.Get(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			nm.URL = rec.URL
			nm.MTime = rec.MTime
		}
		matches = append(matches, nm)
	}
	return matches, nil
}

func (s *Server) handleThumbnail(ctx context.Context, msg *Message) {
	var req ThumbnailRequest
	if err := decodeData(msg.Data, &req); err != nil {
		s.sendError(msg.ID, "Invalid thumbnail request", CodeInvalidRequest)
		return
	}

	encoded, ok, err := s.thumbs.Get(ctx, store.ItemID(req.ItemID))
	if err != nil {
		s.sendStorageError(msg.ID, err)
		return
	}
	if !ok {
		s.sendError(msg.ID, fmt.Sprintf("No thumbnail for item %d", req.ItemID), CodeNotFound)
		return
	}

	format, err := thumbnail.Format(encoded)
	if err != nil {
		s.log.Warn("stored thumbnail is unreadable", "item_id", req.ItemID, "error", err)
	}
	s.sendResponse(msg.ID, ThumbnailResponse{ItemID: req.ItemID, Base64: encoded, Format: format})
}

func (s *Server) handleForget(ctx context.Context, msg *Message) {
	var req ItemKey
	if err := decodeData(msg.Data, &req); err != nil || req.URL == "" {
		s.sendError(msg.ID, "Invalid forget request", CodeInvalidRequest)
		return
	}

	ok, err := s.store.Forget(ctx, req.MTime, req.URL)
	if err != nil {
		s.sendStorageError(msg.ID, err)
		return
	}
	s.sendResponse(msg.ID, ForgetResponse{Forgotten: ok})
}

func (s *Server) handlePrune(ctx context.Context, msg *Message) {
	n, err := s.index.PruneOrphans(ctx)
	if err != nil {
		s.sendStorageError(msg.ID, err)
		return
	}
	s.sendResponse(msg.ID, PruneResponse{Pruned: n})
}

func (s *Server) handleStats(ctx context.Context, msg *Message) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		s.sendStorageError(msg.ID, err)
		return
	}
	s.sendResponse(msg.ID, st)
}

// Helper methods

func (s *Server) send(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.encoder.Encode(msg); err != nil {
		s.log.Error("write message", "error", err)
	}
}

func (s *Server) sendResponse(id string, data interface{}) {
	s.send(&Message{
		Type: TypeResponse,
		Data: data,
		ID:   id,
	})
}

func (s *Server) sendEvent(eventType string, data interface{}) {
	s.send(&Message{
		Type:    TypeEvent,
		Command: eventType,
		Data:    data,
	})
}

func (s *Server) sendError(id string, message string, code string) {
	s.send(&Message{
		Type:  TypeError,
		Error: &ErrorBody{Message: message, Code: code},
		ID:    id,
	})
}

func (s *Server) sendStorageError(id string, err error) {
	s.log.Error("request failed", "id", id, "error", err)
	s.sendError(id, err.Error(), CodeStorage)
}

func decodeData(data interface{}, target interface{}) error {
	// Re-encode and decode to handle interface{} -> struct conversion
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, target)
}
