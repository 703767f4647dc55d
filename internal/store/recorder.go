package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/statenet/internal/fsm"
	"github.com/roach88/statenet/internal/ir"
)

// Recorder is an fsm.Observer that appends every step of one run to the
// store. Seqs start at 1 and follow observation order.
//
// Observers cannot fail, so the first write error is kept and later steps
// are dropped; check Err once the run is over.
type Recorder struct {
	ctx   context.Context
	store *Store
	runID string
	now   func() time.Duration
	seq   int64
	err   error
}

var _ fsm.Observer = (*Recorder)(nil)

// NewRecorder returns a recorder for runID. now supplies the timeline time
// stamped into at_ns, normally fsm.Runtime.Now.
func NewRecorder(ctx context.Context, s *Store, runID string, now func() time.Duration) *Recorder {
	return &Recorder{ctx: ctx, store: s, runID: runID, now: now}
}

// RunID returns the run being recorded.
func (r *Recorder) RunID() string { return r.runID }

// Err returns the first write error.
func (r *Recorder) Err() error { return r.err }

func (r *Recorder) NodeStarted(n *fsm.Node, ev *fsm.Event) {
	rec := ir.Record{Type: ir.RecordNodeStarted, Node: n.Path()}
	if ev != nil {
		rec.Kind = string(ev.Kind())
	}
	r.write(rec)
}

func (r *Recorder) NodeStopped(n *fsm.Node) {
	r.write(ir.Record{Type: ir.RecordNodeStopped, Node: n.Path()})
}

func (r *Recorder) EventPosted(ev fsm.Event) {
	rec := ir.Record{
		Type:    ir.RecordEventPosted,
		Kind:    string(ev.Kind()),
		Payload: FormatPayload(ev.Payload()),
	}
	if src := ev.Source(); src != nil {
		rec.Node = src.Path()
	}
	r.write(rec)
}

func (r *Recorder) TransitionFired(t *fsm.Transition, ev *fsm.Event) {
	rec := ir.Record{
		Type:       ir.RecordTransitionFired,
		Transition: t.Name(),
		Kind:       string(t.Kind()),
	}
	if srcs := t.Sources(); len(srcs) > 0 && srcs[0].Parent() != nil {
		rec.Node = srcs[0].Parent().Path()
	}
	r.write(rec)
}

func (r *Recorder) write(rec ir.Record) {
	if r.err != nil {
		return
	}
	r.seq++
	rec.RunID = r.runID
	rec.Seq = r.seq
	rec.AtNS = int64(r.now())
	if err := r.store.WriteRecord(r.ctx, rec); err != nil {
		r.err = fmt.Errorf("record seq %d: %w", rec.Seq, err)
	}
}

// FormatPayload renders an event payload for storage: canonical JSON when
// the value has a canonical form, fmt's %v otherwise, empty for nil.
func FormatPayload(v any) string {
	if v == nil {
		return ""
	}
	if b, err := ir.MarshalCanonical(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
