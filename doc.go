// Package segmerge is the merge and incremental-patch engine of a segmented
// on-disk store.
//
// A table is a directory of immutable segments. Each segment holds attribute
// columns, a deletion map, a primary-key table and any number of patch files
// carrying field updates that arrived after the segment was written. Merging
// combines segments into a new one: deleted documents are reclaimed, ids are
// remapped, pending patches are replayed in global order and the primary-key
// table is rebuilt.
//
// # Quick Start
//
//	s, _ := segmerge.LoadSchemaFile("schema.yaml")
//	tbl, _ := segmerge.Open("./data", s)
//	defer tbl.Close()
//
//	res, _ := tbl.Merge(ctx, segmerge.Plan{Segments: []segmerge.SegmentID{1, 2, 3}, Target: 4})
//	fmt.Println(res.Info.DocCount, res.Patches)
//
// Blob-backed tables use OpenBlob with any blobstore.BlobStore (local, memory,
// MinIO or S3).
//
// # Patches
//
//	tbl.WritePatch(ctx, 1, 7, []segmerge.FieldUpdate{{Doc: 3, Field: 2, Value: v}})
//
// Patches are visible to the next merge of the segment. Within a segment the
// newest patch generation wins per document and field.
//
// # Observability
//
// WithLogger takes a *Logger (log/slog). WithMetricsCollector accepts any
// MetricsCollector; BasicMetricsCollector keeps counters in memory and
// PrometheusCollector exports them to a prometheus.Registerer.
package segmerge
