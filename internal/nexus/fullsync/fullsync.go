// Package fullsync pushes every locally owned record to the remote directory
// inside one begin/complete window.
//
// A run walks a fixed sequence of states:
//
//	not_started -> started -> structures_synced -> users_synced -> memberships_synced -> completed
//
// with one "<collection>_synced" state per configured Source. Any failure
// stops the run where it is: the window is never completed, and the remote
// side discards the unmatched begin.
package fullsync

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/itou-labs/nexus-sync/internal/nexus/api"
	"github.com/itou-labs/nexus-sync/internal/nexus/batch"
)

const (
	StateNotStarted = "not_started"
	StateStarted    = "started"
	StateCompleted  = "completed"

	eventBegin    = "begin"
	eventComplete = "complete"
)

// SyncedState names the state entered once collection has been streamed.
func SyncedState(collection string) string {
	return collection + "_synced"
}

// Remote brackets a run. *api.Client implements it.
type Remote interface {
	BeginFullSync(ctx context.Context) (api.Marker, error)
	CompleteFullSync(ctx context.Context, marker api.Marker) error
}

// Source streams one collection's serialized records. Records must use a
// stable cursor that does not materialize the whole collection.
type Source struct {
	Collection string
	Records    func(ctx context.Context) iter.Seq2[any, error]
}

// Count is the number of records streamed for one collection.
type Count struct {
	Collection string
	Records    int
}

// Report summarizes a run, successful or not.
type Report struct {
	RunID    string
	Skipped  bool
	State    string
	Marker   api.Marker
	Counts   []Count
	Duration time.Duration
}

// Orchestrator runs full syncs. Sources are streamed in order.
type Orchestrator struct {
	Remote     Remote
	Dispatcher *batch.Dispatcher
	Sources    []Source
	Logger     *zap.SugaredLogger
}

func (o *Orchestrator) logger() *zap.SugaredLogger {
	if o.Logger == nil {
		return zap.S().Named("fullsync")
	}
	return o.Logger.Named("fullsync")
}

func (o *Orchestrator) newFSM(log *zap.SugaredLogger) *fsm.FSM {
	events := fsm.Events{
		{Name: eventBegin, Src: []string{StateNotStarted}, Dst: StateStarted},
	}
	prev := StateStarted
	for _, s := range o.Sources {
		dst := SyncedState(s.Collection)
		events = append(events, fsm.EventDesc{Name: syncEvent(s.Collection), Src: []string{prev}, Dst: dst})
		prev = dst
	}
	events = append(events, fsm.EventDesc{Name: eventComplete, Src: []string{prev}, Dst: StateCompleted})

	return fsm.NewFSM(
		StateNotStarted,
		events,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debugf("full sync %s -> %s", e.Src, e.Dst)
			},
		},
	)
}

func syncEvent(collection string) string {
	return "sync_" + collection
}

// Run performs one full sync. A nil Remote disables the run: it logs a
// warning and returns a skipped report without error.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	runID := uuid.NewString()
	log := o.logger().With("run", runID)
	report := Report{RunID: runID, State: StateNotStarted}

	if o.Remote == nil {
		log.Warn("nexus base url is not configured, full sync skipped")
		report.Skipped = true
		return report, nil
	}
	if o.Dispatcher == nil {
		return report, fmt.Errorf("full sync: no dispatcher")
	}

	start := time.Now()
	machine := o.newFSM(log)
	finish := func(err error) (Report, error) {
		report.State = machine.Current()
		report.Duration = time.Since(start)
		if err != nil {
			log.Errorw("full sync aborted", "state", report.State, "error", err)
		}
		return report, err
	}

	marker, err := o.Remote.BeginFullSync(ctx)
	if err != nil {
		return finish(fmt.Errorf("begin full sync: %w", err))
	}
	report.Marker = marker
	if err := machine.Event(ctx, eventBegin); err != nil {
		return finish(err)
	}
	log.Infow("full sync started", "started_at", string(marker))

	for _, s := range o.Sources {
		n, err := o.Dispatcher.Stream(ctx, s.Collection, s.Records(ctx))
		if err != nil {
			return finish(fmt.Errorf("sync %s: %w", s.Collection, err))
		}
		report.Counts = append(report.Counts, Count{Collection: s.Collection, Records: n})
		if err := machine.Event(ctx, syncEvent(s.Collection)); err != nil {
			return finish(err)
		}
		log.Infow("collection synced", "collection", s.Collection, "records", n)
	}

	if err := o.Remote.CompleteFullSync(ctx, marker); err != nil {
		return finish(fmt.Errorf("complete full sync: %w", err))
	}
	if err := machine.Event(ctx, eventComplete); err != nil {
		return finish(err)
	}
	log.Infow("full sync completed", "duration", time.Since(start))
	return finish(nil)
}
