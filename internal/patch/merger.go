package patch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hupe1980/segmerge/internal/queue"
	"github.com/hupe1980/segmerge/internal/reclaim"
	"github.com/hupe1980/segmerge/internal/schema"
	"github.com/hupe1980/segmerge/internal/segment"
	"github.com/hupe1980/segmerge/model"
)

// PartitionState is the input of a patch merge: the schema and the source
// segments in merge order.
type PartitionState struct {
	Schema   *schema.Schema
	Segments []*segment.Segment
}

// Sink consumes patch records. The record and its value are only valid for
// the duration of the call.
type Sink interface {
	WritePatch(rec *model.PatchRecord) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(rec *model.PatchRecord) error

// WritePatch implements Sink.
func (f SinkFunc) WritePatch(rec *model.PatchRecord) error { return f(rec) }

// Option configures a Merger.
type Option func(*Merger)

// WithReclaimMap drops records of deleted documents and sets new doc ids.
func WithReclaimMap(m *reclaim.Map) Option {
	return func(mg *Merger) { mg.rmap = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(mg *Merger) {
		if l != nil {
			mg.logger = l
		}
	}
}

type source struct {
	s   *Stream
	seg int
}

type head struct {
	global model.DocID
	order  int
	entry  Entry
}

func lessHead(a, b head) bool {
	if a.global != b.global {
		return a.global < b.global
	}
	return a.order < b.order
}

// mergeQueue merges a set of streams by (global old doc id, stream order).
type mergeQueue struct {
	sources []source
	descs   []model.SegmentDescriptor
	rmap    *reclaim.Map
	h       *queue.Heap[head]
	scratch []byte
	primed  bool
}

func (q *mergeQueue) sizeHint() int {
	n := 0
	for _, src := range q.sources {
		n = max(n, src.s.SizeHint())
	}
	return n
}

func (q *mergeQueue) reserve(buf []byte) error {
	if q.primed {
		return ErrStarted
	}
	if hint := q.sizeHint(); cap(buf) < hint {
		buf = make([]byte, 0, hint)
	}
	q.scratch = buf[:0]
	q.h = queue.New(lessHead, len(q.sources))
	for i := range q.sources {
		hd, ok, err := q.pull(i)
		if err != nil {
			return err
		}
		if ok {
			q.h.Push(hd)
		}
	}
	q.primed = true
	return nil
}

// pull returns the next live entry of source i.
func (q *mergeQueue) pull(i int) (head, bool, error) {
	src := q.sources[i]
	desc := q.descs[src.seg]
	for src.s.HasNext() {
		e, err := src.s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return head{}, false, err
		}
		if q.rmap != nil {
			if _, live := q.rmap.NewID(src.seg, e.Doc); !live {
				continue
			}
		}
		return head{global: desc.GlobalID(e.Doc), order: i, entry: e}, true, nil
	}
	return head{}, false, nil
}

func (q *mergeQueue) hasNext() bool {
	return q.primed && q.h.Len() > 0
}

func (q *mergeQueue) next(out *model.PatchRecord) error {
	if !q.primed {
		return ErrNotReserved
	}
	top, ok := q.h.Top()
	if !ok {
		return io.EOF
	}
	src := q.sources[top.order]

	q.scratch = append(q.scratch[:0], top.entry.Value...)
	*out = model.PatchRecord{
		SegmentID: src.s.Segment(),
		FieldID:   top.entry.FieldID,
		GroupID:   src.s.Column().ID,
		OldDocID:  top.entry.Doc,
		NewDocID:  top.global,
		Value:     q.scratch,
	}
	if q.rmap != nil {
		out.NewDocID, _ = q.rmap.NewID(src.seg, top.entry.Doc)
	}

	hd, ok, err := q.pull(top.order)
	if err != nil {
		return err
	}
	if ok {
		q.h.ReplaceTop(hd)
	} else {
		q.h.Pop()
	}
	return nil
}

func (q *mergeQueue) drain(sink Sink) (int, error) {
	var rec model.PatchRecord
	n := 0
	for q.hasNext() {
		if err := q.next(&rec); err != nil {
			return n, err
		}
		if err := sink.WritePatch(&rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (q *mergeQueue) close() error {
	var errs []error
	for _, src := range q.sources {
		errs = append(errs, src.s.Close())
	}
	return errors.Join(errs...)
}

// Merger merges the patch streams of all segments of a merge.
//
// Use it in two phases: Init opens the streams, SizeHint and Reserve size the
// value buffer once, then HasNext and Next iterate. Alternatively WorkItems
// splits the streams into independent per-column units.
type Merger struct {
	mergeQueue
	state     PartitionState
	subEntity bool
	logger    *slog.Logger
	split     bool
}

// NewMerger creates a merger over state. With subEntity set, only the
// sub-entity columns of the schema are merged.
func NewMerger(state PartitionState, subEntity bool, opts ...Option) *Merger {
	m := &Merger{
		state:     state,
		subEntity: subEntity,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init opens one stream per updatable column per segment that has pending
// patches.
func (m *Merger) Init() error {
	if m.state.Schema == nil {
		return fmt.Errorf("patch: merger without schema")
	}
	m.descs = segment.Descriptors(segment.Infos(m.state.Segments))
	if m.rmap != nil {
		segs := m.rmap.Segments()
		if len(segs) != len(m.descs) {
			return fmt.Errorf("patch: reclaim map has %d segments, merging %d", len(segs), len(m.descs))
		}
		for i, d := range m.descs {
			if segs[i].ID != d.ID {
				return fmt.Errorf("patch: reclaim map segment %d is %d, merging %d", i, segs[i].ID, d.ID)
			}
		}
	}

	cols := m.state.Schema.PartitionColumns(m.subEntity)
	for i, seg := range m.state.Segments {
		for _, col := range cols {
			s, err := OpenStream(seg, col)
			if err != nil {
				_ = m.close()
				m.sources = nil
				return fmt.Errorf("segment %d column %d: %w", seg.Info.ID, col.ID, err)
			}
			if !s.HasNext() {
				_ = s.Close()
				continue
			}
			m.sources = append(m.sources, source{s: s, seg: i})
		}
	}
	m.logger.Debug("patch merger initialized",
		slog.Int("segments", len(m.state.Segments)),
		slog.Int("columns", len(cols)),
		slog.Int("streams", len(m.sources)),
		slog.Bool("sub_entity", m.subEntity))
	return nil
}

// Streams returns the number of open streams.
func (m *Merger) Streams() int { return len(m.sources) }

// SizeHint returns the largest value any stream can emit.
func (m *Merger) SizeHint() int { return m.sizeHint() }

// Reserve sets the value buffer, allocating one of SizeHint bytes if buf is
// smaller, and positions every stream on its first record.
func (m *Merger) Reserve(buf []byte) error {
	if m.split {
		return ErrStarted
	}
	return m.reserve(buf)
}

// HasNext reports whether records remain.
func (m *Merger) HasNext() bool { return m.hasNext() }

// Next fills out with the record of the smallest (global old doc id, stream
// order). out.Value is valid until the next call.
func (m *Merger) Next(out *model.PatchRecord) error { return m.next(out) }

// MergeAll reserves if needed and feeds every record to sink.
func (m *Merger) MergeAll(sink Sink) (int, error) {
	if !m.primed {
		if err := m.Reserve(nil); err != nil {
			return 0, err
		}
	}
	return m.drain(sink)
}

// Close releases the streams still owned by the merger.
func (m *Merger) Close() error {
	err := m.close()
	m.sources = nil
	return err
}

// WorkItems partitions the streams into one unit per output column. The
// merger hands its streams over to the items and must not be iterated
// afterwards.
func (m *Merger) WorkItems() ([]*WorkItem, error) {
	if m.primed || m.split {
		return nil, ErrStarted
	}
	byCol := make(map[model.FieldID]*WorkItem)
	var items []*WorkItem
	for _, src := range m.sources {
		col := src.s.Column()
		wi, ok := byCol[col.ID]
		if !ok {
			wi = &WorkItem{
				column: col,
				logger: m.logger,
				q:      mergeQueue{descs: m.descs, rmap: m.rmap},
			}
			byCol[col.ID] = wi
			items = append(items, wi)
		}
		wi.q.sources = append(wi.q.sources, src)
	}
	m.sources = nil
	m.split = true
	return items, nil
}

// WorkItem merges the patches of one output column. Different items never
// write the same column and may run concurrently.
type WorkItem struct {
	column schema.Column
	logger *slog.Logger
	q      mergeQueue
}

// Column returns the output column.
func (w *WorkItem) Column() schema.Column { return w.column }

// SizeHint returns the value buffer size the item needs.
func (w *WorkItem) SizeHint() int { return w.q.sizeHint() }

// Run merges the item's streams into sink and releases them.
func (w *WorkItem) Run(sink Sink) (n int, err error) {
	defer func() {
		if cerr := w.q.close(); err == nil {
			err = cerr
		}
	}()
	if err := w.q.reserve(nil); err != nil {
		return 0, err
	}
	n, err = w.q.drain(sink)
	if err != nil {
		return n, fmt.Errorf("column %d: %w", w.column.ID, err)
	}
	w.logger.Debug("patch work item done", slog.Uint64("column", uint64(w.column.ID)), slog.Int("records", n))
	return n, nil
}

// Close releases the item's streams without running it.
func (w *WorkItem) Close() error { return w.q.close() }
