package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pdxmph/goopho/pkg/types"
)

// Report accounts for one run.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time

	// Decisions holds one entry per committed candidate, in candidate
	// order.
	Decisions []*Decision
	// Stopped is set when StopAtSynced ended the run early.
	Stopped bool
	DryRun  bool
}

// Count returns how many decisions had action a.
func (r *Report) Count(a Action) int {
	n := 0
	for _, d := range r.Decisions {
		if d.Action == a {
			n++
		}
	}
	return n
}

// Summary returns the per-action totals.
func (r *Report) Summary() types.RunSummary {
	return types.RunSummary{
		Total:         len(r.Decisions),
		Accepted:      r.Count(Accepted),
		Duplicate:     r.Count(Duplicate),
		AlreadySynced: r.Count(AlreadySynced),
		Opaque:        r.Count(Opaque),
		Skipped:       r.Count(Skipped),
		Stopped:       r.Stopped,
		DryRun:        r.DryRun,
	}
}

// Response converts the report into its JSON form.
func (r *Report) Response(runErr error) types.SyncResponse {
	resp := types.SyncResponse{
		Success:   runErr == nil,
		RunID:     r.RunID,
		Decisions: make([]types.DecisionResult, 0, len(r.Decisions)),
		Summary:   r.Summary(),
	}
	for _, d := range r.Decisions {
		resp.Decisions = append(resp.Decisions, d.Result())
	}
	if runErr != nil {
		msg := runErr.Error()
		resp.Error = &msg
	}
	return resp
}

// EmitFunc receives decisions in candidate order as they are made. Calls
// are serialized.
type EmitFunc func(runID string, d *Decision)

// Run decides every candidate under a fresh run id. See RunWithID.
func (p *Processor) Run(ctx context.Context, candidates []Candidate, emit EmitFunc) (*Report, error) {
	return p.RunWithID(ctx, uuid.NewString(), candidates, emit)
}

// RunWithID decides every candidate, preparing up to Workers at a time.
// Candidates are checked against sync state in order, so with StopAtSynced
// the run ends at the first synced candidate no matter how many workers are
// busy. Dedup checks and writes happen strictly in candidate order: of two
// near-identical candidates the earlier one is canonical.
//
// A storage error cancels the remaining work and is returned together with
// the decisions committed so far.
func (p *Processor) RunWithID(ctx context.Context, runID string, candidates []Candidate, emit EmitFunc) (*Report, error) {
	report := &Report{
		RunID:   runID,
		Started: time.Now(),
		DryRun:  p.opts.DryRun,
	}
	log := p.log.With("run", report.RunID)
	log.Info("starting run", "candidates", len(candidates), "workers", p.opts.Workers)

	g, gctx := errgroup.WithContext(ctx)
	// One extra slot for the committer.
	g.SetLimit(p.opts.Workers + 1)

	// Each candidate gets a slot in dispatch order; the committer drains
	// them in that order whatever order the workers finish in.
	slots := make(chan chan *staged, len(candidates))
	g.Go(func() error {
		for slot := range slots {
			var st *staged
			select {
			case st = <-slot:
			case <-gctx.Done():
				return nil
			}
			d, err := p.commit(gctx, st)
			if err != nil {
				return err
			}
			report.Decisions = append(report.Decisions, d)
			if emit != nil {
				emit(report.RunID, d)
			}
		}
		return nil
	})

	for _, c := range candidates {
		if gctx.Err() != nil {
			break
		}
		slot := make(chan *staged, 1)

		if st := p.invalid(c); st != nil {
			slots <- slot
			slot <- st
			continue
		}

		synced, err := p.store.HasSynced(gctx, c.MTime, c.URL)
		if err != nil {
			g.Go(func() error { return err })
			break
		}

		if synced {
			d, err := p.alreadySynced(gctx, c)
			if err != nil {
				g.Go(func() error { return err })
				break
			}
			slots <- slot
			slot <- p.finished(d)
			if p.opts.StopAtSynced {
				report.Stopped = true
				log.Info("stopping at first synced candidate", "url", c.URL, "mtime", c.MTime)
				break
			}
			continue
		}

		slots <- slot
		g.Go(func() error {
			st, err := p.prepare(gctx, c)
			if err != nil {
				return err
			}
			slot <- st
			return nil
		})
	}
	close(slots)

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	report.Finished = time.Now()

	s := report.Summary()
	if err != nil {
		log.Error("run failed", "error", err, "decided", s.Total)
		return report, err
	}
	log.Info("run finished",
		"accepted", s.Accepted,
		"duplicate", s.Duplicate,
		"already_synced", s.AlreadySynced,
		"opaque", s.Opaque,
		"skipped", s.Skipped,
		"stopped", s.Stopped,
		"elapsed", report.Finished.Sub(report.Started),
	)
	return report, nil
}
