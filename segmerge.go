package segmerge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/internal/attribute"
	"github.com/hupe1980/segmerge/internal/compress"
	"github.com/hupe1980/segmerge/internal/deletion"
	"github.com/hupe1980/segmerge/internal/fs"
	"github.com/hupe1980/segmerge/internal/merge"
	"github.com/hupe1980/segmerge/internal/patch"
	"github.com/hupe1980/segmerge/internal/pkhash"
	"github.com/hupe1980/segmerge/internal/reclaim"
	"github.com/hupe1980/segmerge/internal/resource"
	"github.com/hupe1980/segmerge/internal/schema"
	"github.com/hupe1980/segmerge/internal/segment"
	"github.com/hupe1980/segmerge/model"
)

type (
	// SegmentID identifies a segment.
	SegmentID = model.SegmentID
	// LocalDocID is a segment-local document id.
	LocalDocID = model.LocalDocID
	// DocID is a document id in the address space of a merge output.
	DocID = model.DocID
	// FieldID identifies a field or pack group.
	FieldID = model.FieldID
	// Version orders segment and patch generations.
	Version = model.Version

	// Schema describes the attribute fields of a table.
	Schema = schema.Schema
	// Plan describes one merge.
	Plan = merge.Plan
	// MergeResult describes a published merge.
	MergeResult = merge.Result
	// SegmentInfo is the persisted descriptor of a segment.
	SegmentInfo = segment.Info
	// ReclaimMap maps the documents of merged segments to their new ids.
	ReclaimMap = reclaim.Map
)

// Document holds the field values of one document.
type Document map[FieldID][]byte

// FieldUpdate sets one field of one document.
type FieldUpdate struct {
	Doc   LocalDocID
	Field FieldID
	Value []byte
}

// ParseSchema decodes and validates a YAML schema.
func ParseSchema(data []byte) (*Schema, error) {
	s, err := schema.Parse(data)
	return s, translateError(err)
}

// LoadSchemaFile reads a YAML schema file.
func LoadSchemaFile(path string) (*Schema, error) {
	s, err := schema.LoadFile(path)
	return s, translateError(err)
}

// ParsePlan decodes and validates a YAML merge plan.
func ParsePlan(data []byte) (Plan, error) {
	p, err := merge.ParsePlan(data)
	return p, translateError(err)
}

// LoadPlanFile reads a YAML merge plan file.
func LoadPlanFile(path string) (Plan, error) {
	p, err := merge.LoadPlanFile(path)
	return p, translateError(err)
}

// Table is a directory of segments sharing one schema.
//
// Merges of disjoint segment sets may run concurrently. Patch and delete
// writes are serialized per table.
type Table struct {
	root   fs.Directory
	schema *Schema
	opts   options
	rc     *resource.Controller
	merger *merge.Merger

	mu     sync.Mutex
	closed atomic.Bool
}

// Open opens the table stored in the local directory path.
func Open(path string, s *Schema, optFns ...Option) (*Table, error) {
	return open(fs.NewLocalDirectory(fs.LocalFS{}, path), s, optFns)
}

// OpenBlob opens the table stored below prefix in a blob store.
func OpenBlob(ctx context.Context, store blobstore.BlobStore, prefix string, s *Schema, optFns ...Option) (*Table, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil blob store", ErrInvalidArgument)
	}
	return open(fs.NewBlobDirectory(ctx, store, prefix), s, optFns)
}

func open(root fs.Directory, s *Schema, optFns []Option) (*Table, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil schema", ErrInvalidSchema)
	}
	o := applyOptions(optFns)
	if o.patchCompression != "" {
		if _, err := compress.ParseType(o.patchCompression); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
	}

	t := &Table{root: root, schema: s, opts: o}
	if o.resources != (resource.Config{}) {
		t.rc = resource.NewController(o.resources)
	}
	t.merger = merge.New(root, s,
		merge.WithLogger(o.logger.Logger),
		merge.WithMetrics(observer{metrics: o.metricsCollector, logger: o.logger}),
		merge.WithResourceController(t.rc),
		merge.WithConcurrency(o.concurrency),
		merge.WithCodec(o.codec),
	)
	return t, nil
}

// Schema returns the table schema.
func (t *Table) Schema() *Schema { return t.schema }

// Path returns the location of the table.
func (t *Table) Path() string { return t.root.Path() }

// Segments lists the segment ids of the table in ascending order.
func (t *Table) Segments() ([]SegmentID, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	ids, err := segment.ListSegments(t.root)
	return ids, translateError(err)
}

// SegmentInfo returns the descriptor of a segment. DeletedCount reflects
// the current deletion map.
func (t *Table) SegmentInfo(id SegmentID) (SegmentInfo, error) {
	seg, err := t.openSegment(id)
	if err != nil {
		return SegmentInfo{}, err
	}
	return seg.Info, nil
}

func (t *Table) openSegment(id SegmentID) (*segment.Segment, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	segs, err := segment.OpenAll(t.root, []SegmentID{id})
	if err != nil {
		return nil, translateError(err)
	}
	return segs[0], nil
}

// CreateSegment writes a new segment holding docs. Local ids follow the
// order of docs.
func (t *Table) CreateSegment(ctx context.Context, id SegmentID, version Version, docs []Document) (SegmentInfo, error) {
	if t.closed.Load() {
		return SegmentInfo{}, ErrClosed
	}
	committed, err := segment.IsCommitted(t.root, id)
	if err != nil {
		return SegmentInfo{}, translateError(err)
	}
	if committed {
		return SegmentInfo{}, fmt.Errorf("%w: segment %d exists", ErrInvalidArgument, id)
	}
	if _, err := segment.RemoveUncommitted(t.root, id); err != nil {
		return SegmentInfo{}, translateError(err)
	}

	tmp := "tmp_" + uuid.NewString()
	info, err := t.writeSegment(t.root.Sub(tmp), id, version, docs)
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = segment.Publish(t.root, tmp, id)
	}
	if err != nil {
		_ = t.root.RemoveAll(tmp)
		return SegmentInfo{}, translateError(err)
	}
	t.opts.logger.WithSegment(id).InfoContext(ctx, "segment created", "docs", len(docs))
	return info, nil
}

func (t *Table) writeSegment(dir fs.Directory, id SegmentID, version Version, docs []Document) (SegmentInfo, error) {
	var pkCol *attribute.Column
	for _, col := range t.schema.Columns() {
		c := attribute.NewColumn(col, len(docs))
		for i, d := range docs {
			for _, f := range col.Fields {
				if v, ok := d[f]; ok {
					if err := c.Set(i, f, v); err != nil {
						return SegmentInfo{}, err
					}
				}
			}
		}
		if err := attribute.Write(dir, c); err != nil {
			return SegmentInfo{}, err
		}
		if pk := t.schema.PrimaryKey; pk != nil && slices.Contains(col.Fields, pk.Field) {
			pkCol = c
		}
	}
	if _, err := merge.WritePrimaryKey(dir, t.schema, pkCol); err != nil {
		return SegmentInfo{}, err
	}
	if err := deletion.Write(dir, nil); err != nil {
		return SegmentInfo{}, err
	}
	opts := segment.DefaultFormatOptions()
	if t.opts.patchCompression != "" {
		opts.PatchCompression = t.opts.patchCompression
	}
	if pk := t.schema.PrimaryKey; pk != nil && pk.Width == 128 {
		opts.PKKeyWidth = 128
	}
	if err := segment.WriteFormatOptions(dir, opts, t.opts.codec); err != nil {
		return SegmentInfo{}, err
	}
	info := SegmentInfo{
		ID:        id,
		DocCount:  uint32(len(docs)),
		Version:   version,
		CreatedAt: time.Now().UTC(),
	}
	return info, segment.WriteInfo(dir, info)
}

// Merge executes plan and publishes the output segment. The input segments
// are left in place.
func (t *Table) Merge(ctx context.Context, plan Plan) (*MergeResult, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	res, err := t.merger.Run(ctx, plan)
	t.opts.logger.LogMerge(ctx, plan, res, err)
	return res, translateError(err)
}

// WritePatch records updates of a segment as the next patch generation of
// every touched column. Updates of packed columns need a version newer than
// the segment's LastLoadedVersion and fail with ErrInvalidArgument otherwise;
// a merge would skip them.
//
// Later updates of the same document and field win. It returns the number
// of patch records written.
func (t *Table) WritePatch(ctx context.Context, id SegmentID, version Version, updates []FieldUpdate) (n int, err error) {
	defer func() {
		t.opts.metricsCollector.RecordPatch(n, err)
	}()
	if len(updates) == 0 {
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	seg, err := t.openSegment(id)
	if err != nil {
		return 0, err
	}
	groups, err := t.groupUpdates(seg.Info, version, updates)
	if err != nil {
		return 0, err
	}
	ct, err := seg.Options.Compression()
	if err != nil {
		return 0, translateError(err)
	}
	if t.opts.patchCompression != "" {
		ct, _ = compress.ParseType(t.opts.patchCompression)
	}

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		written, err := writeColumnPatch(seg.Dir, g, version, ct)
		t.opts.logger.LogPatch(ctx, id, g.col.ID, written, err)
		if err != nil {
			return n, translateError(err)
		}
		n += written
	}
	return n, nil
}

type columnUpdates struct {
	col schema.Column
	// docs maps a document to its values by sub-field position.
	docs map[LocalDocID]map[int][]byte
}

func (t *Table) groupUpdates(info SegmentInfo, version Version, updates []FieldUpdate) ([]*columnUpdates, error) {
	byCol := make(map[FieldID]*columnUpdates)
	for _, u := range updates {
		fld, ok := t.schema.Field(u.Field)
		if !ok || !fld.Updatable {
			return nil, fmt.Errorf("%w: field %d is not updatable", ErrInvalidArgument, u.Field)
		}
		if uint32(u.Doc) >= info.DocCount {
			return nil, fmt.Errorf("%w: doc %d out of range [0, %d) in segment %d", ErrInvalidArgument, u.Doc, info.DocCount, info.ID)
		}
		col, _ := t.schema.ColumnOf(u.Field)
		if col.Packed && version <= info.LastLoadedVersion {
			return nil, fmt.Errorf("%w: version %d of pack group %d is not newer than the last loaded version %d of segment %d",
				ErrInvalidArgument, version, col.ID, info.LastLoadedVersion, info.ID)
		}
		pos, _ := col.SubFieldIndex(u.Field)
		g := byCol[col.ID]
		if g == nil {
			g = &columnUpdates{col: col, docs: make(map[LocalDocID]map[int][]byte)}
			byCol[col.ID] = g
		}
		vals := g.docs[u.Doc]
		if vals == nil {
			vals = make(map[int][]byte, 1)
			g.docs[u.Doc] = vals
		}
		vals[pos] = u.Value
	}

	groups := make([]*columnUpdates, 0, len(byCol))
	for _, g := range byCol {
		groups = append(groups, g)
	}
	slices.SortFunc(groups, func(a, b *columnUpdates) int { return cmp.Compare(a.col.ID, b.col.ID) })
	return groups, nil
}

func writeColumnPatch(dir fs.Directory, g *columnUpdates, version Version, ct compress.Type) (int, error) {
	w, err := patch.CreateNext(dir, g.col, version, ct)
	if err != nil {
		return 0, err
	}
	docs := make([]LocalDocID, 0, len(g.docs))
	for d := range g.docs {
		docs = append(docs, d)
	}
	slices.Sort(docs)

	for _, d := range docs {
		vals := g.docs[d]
		if !g.col.Packed {
			err = w.Write(d, vals[0])
		} else {
			var bitmap uint32
			for pos := range vals {
				bitmap |= 1 << pos
			}
			packed := make([][]byte, 0, bits.OnesCount32(bitmap))
			for b := bitmap; b != 0; b &= b - 1 {
				packed = append(packed, vals[bits.TrailingZeros32(b)])
			}
			err = w.WritePacked(d, bitmap, packed)
		}
		if err != nil {
			w.Abort()
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Delete marks documents of a segment as deleted. Deleting an already
// deleted document is a no-op.
func (t *Table) Delete(ctx context.Context, id SegmentID, docs ...LocalDocID) (err error) {
	defer func() {
		t.opts.metricsCollector.RecordDelete(len(docs), err)
		t.opts.logger.LogDelete(ctx, id, len(docs), err)
	}()

	t.mu.Lock()
	defer t.mu.Unlock()

	seg, err := t.openSegment(id)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if uint32(d) >= seg.Info.DocCount {
			return &ErrInvalidDeletionRange{
				Segment:  id,
				Local:    d,
				DocCount: seg.Info.DocCount,
				cause:    &reclaim.DeletionRangeError{Segment: id, Local: d, DocCount: seg.Info.DocCount},
			}
		}
		seg.Deletions.Add(d)
	}
	if err := deletion.Write(seg.Dir, seg.Deletions); err != nil {
		return translateError(err)
	}
	info := seg.Info
	info.DeletedCount = uint32(seg.Deletions.Cardinality())
	return translateError(segment.WriteInfo(seg.Dir, info))
}

// Lookup finds the local id of the document with the given primary key in a
// segment.
func (t *Table) Lookup(id SegmentID, key []byte) (LocalDocID, bool, error) {
	pk := t.schema.PrimaryKey
	if pk == nil {
		return 0, false, fmt.Errorf("%w: schema has no primary key", ErrInvalidArgument)
	}
	seg, err := t.openSegment(id)
	if err != nil {
		return 0, false, err
	}
	if pk.Width == 128 {
		return lookup(seg, key, merge.Key128Of)
	}
	return lookup(seg, key, merge.Key64Of)
}

func lookup[K pkhash.Key[K]](seg *segment.Segment, key []byte, keyOf func([]byte) (K, error)) (LocalDocID, bool, error) {
	k, err := keyOf(key)
	if err != nil {
		return 0, false, translateError(err)
	}
	tbl, err := pkhash.ReadFile[K](seg.Dir, segment.PKFile)
	if err != nil {
		return 0, false, translateError(err)
	}
	doc, ok := tbl.Find(k)
	if !ok || seg.Deletions.Contains(LocalDocID(doc)) {
		return 0, false, nil
	}
	return LocalDocID(doc), true, nil
}

// ReclaimMap loads the reclaim map stored with a merged segment.
func (t *Table) ReclaimMap(id SegmentID) (*ReclaimMap, error) {
	seg, err := t.openSegment(id)
	if err != nil {
		return nil, err
	}
	m, err := reclaim.ReadFile(seg.Dir, segment.ReclaimMapFile)
	return m, translateError(err)
}

// Close releases the table. Further calls return ErrClosed.
func (t *Table) Close() error {
	t.closed.Store(true)
	return nil
}

// Values returns the current values of field in a segment, indexed by local
// id. Pending patches are applied. Deleted documents are included.
func (t *Table) Values(id SegmentID, field FieldID) ([][]byte, error) {
	col, ok := t.schema.ColumnOf(field)
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %d", ErrInvalidArgument, field)
	}
	seg, err := t.openSegment(id)
	if err != nil {
		return nil, err
	}
	c, err := merge.PatchedColumn(seg, col)
	if err != nil {
		return nil, translateError(err)
	}
	out := make([][]byte, c.Len())
	for i := range out {
		if out[i], err = c.Get(i, field); err != nil {
			return nil, translateError(err)
		}
	}
	return out, nil
}

// Patches returns the pending patch entries of the column holding field,
// merged across generations in ascending doc order. For a pack group the
// entries of every sub-field are returned.
func (t *Table) Patches(id SegmentID, field FieldID) (_ []FieldUpdate, err error) {
	col, ok := t.schema.ColumnOf(field)
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %d", ErrInvalidArgument, field)
	}
	seg, err := t.openSegment(id)
	if err != nil {
		return nil, err
	}
	s, err := patch.OpenStream(seg, col)
	if err != nil {
		return nil, translateError(err)
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()

	var out []FieldUpdate
	for s.HasNext() {
		e, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, translateError(err)
		}
		out = append(out, FieldUpdate{Doc: e.Doc, Field: e.FieldID, Value: slices.Clone(e.Value)})
	}
	return out, nil
}

// EncodeInt64 encodes an int64 field value.
func EncodeInt64(v int64) []byte { return attribute.EncodeInt64(v) }

// EncodeUint64 encodes a uint64 field value.
func EncodeUint64(v uint64) []byte { return attribute.EncodeUint64(v) }

// EncodeFloat64 encodes a float64 field value.
func EncodeFloat64(v float64) []byte { return attribute.EncodeFloat64(v) }
