package merge

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/hupe1980/segmerge/codec"
	"github.com/hupe1980/segmerge/internal/attribute"
	"github.com/hupe1980/segmerge/internal/deletion"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/internal/mergecursor"
	"github.com/hupe1980/segmerge/internal/patch"
	"github.com/hupe1980/segmerge/internal/reclaim"
	"github.com/hupe1980/segmerge/internal/resource"
	"github.com/hupe1980/segmerge/internal/schema"
	"github.com/hupe1980/segmerge/internal/segment"
	"github.com/hupe1980/segmerge/model"
	"golang.org/x/sync/errgroup"
)

const tmpPrefix = "tmp_"

type options struct {
	logger      *slog.Logger
	metrics     MetricsObserver
	resources   *resource.Controller
	concurrency int
	codec       codec.Codec
	now         func() time.Time
}

// Option configures a Merger.
type Option func(*options)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics observer.
func WithMetrics(m MetricsObserver) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithResourceController bounds worker slots, work item memory and output IO.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithConcurrency sets the number of work items run in parallel.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithCodec sets the codec of the output's format_options.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// Merger executes merge plans below a root directory.
// Different plans may run concurrently as long as their segments are disjoint.
type Merger struct {
	root   fs.Directory
	schema *schema.Schema
	opts   options
}

// New returns a Merger for the segments stored in root.
func New(root fs.Directory, s *schema.Schema, optFns ...Option) *Merger {
	o := options{
		logger:      slog.New(slog.DiscardHandler),
		metrics:     NoopMetricsObserver{},
		concurrency: runtime.GOMAXPROCS(0),
		codec:       codec.Default,
		now:         time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return &Merger{root: root, schema: s, opts: o}
}

// Result describes a published merge.
type Result struct {
	JobID   uuid.UUID
	Info    segment.Info
	Deleted uint64
	// Patches is the number of patch records applied.
	Patches int
	// Keys and DuplicateKeys count primary-key inserts of the output.
	Keys          int
	DuplicateKeys int
	Sorted        bool
	Duration      time.Duration
}

// Run executes plan. The output segment either appears complete under its
// target id or not at all.
func (m *Merger) Run(ctx context.Context, plan Plan) (res *Result, err error) {
	start := m.opts.now()
	jobID := uuid.New()
	logger := m.opts.logger.With(slog.String("job", jobID.String()), slog.Uint64("target", uint64(plan.Target)))

	defer func() {
		docs := 0
		if res != nil {
			docs = int(res.Info.DocCount)
		}
		m.opts.metrics.OnMerge(time.Since(start), len(plan.Segments), docs, err)
	}()

	if m.schema == nil {
		return nil, fmt.Errorf("%w: no schema", ErrInvalidPlan)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	committed, err := segment.IsCommitted(m.root, plan.Target)
	if err != nil {
		return nil, err
	}
	if committed {
		return nil, fmt.Errorf("%w: target segment %d exists", ErrInvalidPlan, plan.Target)
	}
	removed, err := segment.RemoveUncommitted(m.root, plan.Target)
	if err != nil {
		return nil, err
	}
	if removed {
		logger.Warn("removed unpublished segment", slog.String("dir", segment.DirName(plan.Target)))
	}

	segs, err := segment.OpenAll(m.root, plan.Segments)
	if err != nil {
		return nil, err
	}
	logger.Info("merge started", slog.Int("segments", len(segs)))

	tmp := tmpPrefix + jobID.String()
	defer func() {
		if err != nil {
			if rerr := m.root.RemoveAll(tmp); rerr != nil {
				logger.Warn("remove temporary output", slog.String("dir", tmp), slog.Any("error", rerr))
			}
			logger.Error("merge aborted", slog.Any("error", err))
		}
	}()

	res, err = m.build(ctx, plan, segs, m.root.Sub(tmp), logger)
	if err != nil {
		return nil, err
	}
	res.JobID = jobID

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := segment.Publish(m.root, tmp, plan.Target); err != nil {
		return nil, fmt.Errorf("publish segment %d: %w", plan.Target, err)
	}
	res.Duration = time.Since(start)
	logger.Info("merge published",
		slog.Uint64("docs", uint64(res.Info.DocCount)),
		slog.Uint64("deleted", res.Deleted),
		slog.Int("patches", res.Patches),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func (m *Merger) build(ctx context.Context, plan Plan, segs []*segment.Segment, out fs.Directory, logger *slog.Logger) (*Result, error) {
	infos := segment.Infos(segs)
	descs := segment.Descriptors(infos)
	dels := make([]reclaim.Deletions, len(segs))
	for i, s := range segs {
		dels[i] = s.Deletions
	}

	sorted := len(m.schema.SortBy) > 0 && !plan.Unsorted
	var rmap *reclaim.Map
	var err error
	if sorted {
		less, lerr := sortLess(m.schema, segs)
		if lerr != nil {
			return nil, lerr
		}
		rmap, err = reclaim.BuildSorted(descs, dels, less)
	} else {
		rmap, err = reclaim.Build(descs, dels)
	}
	if err != nil {
		return nil, fmt.Errorf("reclaim map: %w", err)
	}
	live := int(rmap.LiveDocs())
	logger.Debug("reclaim map built",
		slog.Uint64("total", rmap.TotalDocs()),
		slog.Uint64("deleted", rmap.DeletedDocs()),
		slog.Bool("sorted", sorted))

	cols := m.schema.Columns()
	writers, err := m.copyColumns(segs, descs, rmap, cols, live)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	patches, err := m.mergePatches(ctx, segs, rmap, writers, logger)
	if err != nil {
		return nil, err
	}

	var written int64
	byID := make(map[model.FieldID]*attribute.Column, len(cols))
	for _, col := range cols {
		c, err := writers[col.ID].Column()
		if err != nil {
			return nil, err
		}
		if err := attribute.Write(out, c); err != nil {
			return nil, fmt.Errorf("write column %d: %w", col.ID, err)
		}
		byID[col.ID] = c
		written += c.Size()
	}

	res := &Result{Deleted: rmap.DeletedDocs(), Patches: patches, Sorted: sorted}
	if pk := m.schema.PrimaryKey; pk != nil {
		pkCol, _ := m.schema.ColumnOf(pk.Field)
		st, err := WritePrimaryKey(out, m.schema, byID[pkCol.ID])
		if err != nil {
			return nil, fmt.Errorf("primary key: %w", err)
		}
		res.Keys, res.DuplicateKeys = st.Keys, st.Duplicates
		if st.Duplicates > 0 || st.Missing > 0 {
			logger.Warn("primary key conflicts",
				slog.Int("duplicates", st.Duplicates),
				slog.Int("missing", st.Missing))
		}
	}

	n, err := m.writeReclaimMap(ctx, out, rmap)
	if err != nil {
		return nil, err
	}
	written += n

	if err := deletion.Write(out, nil); err != nil {
		return nil, err
	}
	opts, err := m.formatOptions(plan, segs)
	if err != nil {
		return nil, err
	}
	if err := segment.WriteFormatOptions(out, opts, m.opts.codec); err != nil {
		return nil, err
	}

	res.Info = segment.Info{
		ID:         plan.Target,
		DocCount:   uint32(live),
		Version:    outputVersion(plan, infos),
		CreatedAt:  m.opts.now(),
		MergedFrom: plan.Segments,
	}
	// Patches are materialized in the columns.
	res.Info.LastLoadedVersion = res.Info.Version
	if err := segment.WriteInfo(out, res.Info); err != nil {
		return nil, err
	}
	m.opts.metrics.OnThroughput("merge_write", written)
	return res, nil
}

// copyColumns appends the values of every live document in new-id order.
func (m *Merger) copyColumns(segs []*segment.Segment, descs []model.SegmentDescriptor, rmap *reclaim.Map, cols []schema.Column, live int) (map[model.FieldID]*attribute.SequentialWriter, error) {
	base := make([][]*attribute.Column, len(segs))
	for i, s := range segs {
		c, err := readColumns(s, cols)
		if err != nil {
			return nil, err
		}
		base[i] = c
	}

	writers := make(map[model.FieldID]*attribute.SequentialWriter, len(cols))
	ordered := make([]*attribute.SequentialWriter, len(cols))
	for i, col := range cols {
		w := attribute.NewSequentialWriter(col, live)
		writers[col.ID] = w
		ordered[i] = w
	}

	it, err := mergecursor.For(descs, rmap)
	if err != nil {
		return nil, err
	}
	for info := range mergecursor.All(it) {
		for ci, w := range ordered {
			vals, err := base[info.SegmentIndex][ci].Values(int(info.OldDocID))
			if err != nil {
				return nil, err
			}
			if err := w.Append(info.NewDocID, vals); err != nil {
				return nil, fmt.Errorf("column %d: %w", cols[ci].ID, err)
			}
		}
	}
	return writers, nil
}

// mergePatches replays the pending patches of both entity partitions into
// writers. Work items run independently; their failures are collected and
// returned together once all of them have finished.
func (m *Merger) mergePatches(ctx context.Context, segs []*segment.Segment, rmap *reclaim.Map, writers map[model.FieldID]*attribute.SequentialWriter, logger *slog.Logger) (int, error) {
	state := patch.PartitionState{Schema: m.schema, Segments: segs}
	var items []*patch.WorkItem
	for _, sub := range []bool{false, true} {
		pm := patch.NewMerger(state, sub, patch.WithReclaimMap(rmap), patch.WithLogger(logger))
		if err := pm.Init(); err != nil {
			closeItems(items)
			return 0, err
		}
		wi, err := pm.WorkItems()
		if err != nil {
			_ = pm.Close()
			closeItems(items)
			return 0, err
		}
		items = append(items, wi...)
	}
	if len(items) == 0 {
		return 0, nil
	}

	var (
		mu      sync.Mutex
		merr    *multierror.Error
		records atomic.Int64
	)
	g := new(errgroup.Group)
	g.SetLimit(m.opts.concurrency)
	for _, item := range items {
		g.Go(func() error {
			n, err := m.runItem(ctx, item, writers[item.Column().ID])
			records.Add(int64(n))
			if err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Debug("patches merged", slog.Int("work_items", len(items)), slog.Int64("records", records.Load()))
	return int(records.Load()), merr.ErrorOrNil()
}

func (m *Merger) runItem(ctx context.Context, item *patch.WorkItem, sink patch.Sink) (n int, err error) {
	start := time.Now()
	col := item.Column()
	defer func() {
		m.opts.metrics.OnWorkItem(time.Since(start), n, err)
	}()

	rc := m.opts.resources
	if err := rc.AcquireBackground(ctx); err != nil {
		_ = item.Close()
		return 0, fmt.Errorf("column %d: %w", col.ID, err)
	}
	defer rc.ReleaseBackground()

	// The reservation is advisory: oversized requests are clamped and the
	// item waits instead of failing.
	reserved, err := rc.WaitMemory(ctx, int64(item.SizeHint()))
	if err != nil {
		_ = item.Close()
		return 0, fmt.Errorf("column %d: %w", col.ID, err)
	}
	defer rc.ReleaseMemory(reserved)

	if sink == nil {
		_ = item.Close()
		return 0, fmt.Errorf("column %d: no output column", col.ID)
	}
	return item.Run(sink)
}

func closeItems(items []*patch.WorkItem) {
	for _, it := range items {
		_ = it.Close()
	}
}

func (m *Merger) writeReclaimMap(ctx context.Context, out fs.Directory, rmap *reclaim.Map) (int64, error) {
	f, err := out.OpenForAppend(segment.ReclaimMapFile)
	if err != nil {
		return 0, err
	}
	n, err := rmap.WriteTo(resource.NewRateLimitedWriter(ctx, f, m.opts.resources))
	if err != nil {
		_ = f.Close()
		return n, fmt.Errorf("write reclaim map: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return n, err
	}
	return n, f.Close()
}

func (m *Merger) formatOptions(plan Plan, segs []*segment.Segment) (segment.FormatOptions, error) {
	opts := segs[0].Options
	if plan.PatchCompression != "" {
		opts.PatchCompression = plan.PatchCompression
	}
	if pk := m.schema.PrimaryKey; pk != nil {
		opts.PKKeyWidth = pk.Width
	}
	return opts, opts.Validate()
}

func outputVersion(plan Plan, infos []segment.Info) model.Version {
	if plan.Version != 0 {
		return plan.Version
	}
	var v model.Version
	for _, info := range infos {
		v = max(v, info.Version, info.LastLoadedVersion)
	}
	return v + 1
}
