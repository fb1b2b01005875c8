// Package fs holds the storage layer of a table.
//
// Segment readers and writers go through the [Directory] capability:
// open for read, open for append, rename, remove and list.
//
// # Implementations
//
//   - [LocalFS]: the operating system file system behind [FileSystem]
//   - [FaultyFS]: a [FileSystem] that fails operations on matching paths
//   - [LocalDirectory]: Directory over a FileSystem; renames are followed by a directory fsync
//   - [BlobDirectory]: Directory over a blobstore.BlobStore (local, memory, MinIO, S3)
//
// # Usage
//
//	dir := fs.NewLocalDirectory(fs.Default, "/data/table_0")
//	f, err := dir.OpenForAppend("segment_3/patch_2.1")
//
// Tests can inject [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("reclaim_map", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
//	dir := fs.NewLocalDirectory(ffs, t.TempDir())
//
// Directory methods take no context.Context. [BlobDirectory]
// captures a context at construction and uses it for every store call.
package fs
